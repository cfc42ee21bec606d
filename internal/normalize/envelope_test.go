package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/mantlz/internal/normalize"
)

const testSubmissionPayload = `{"id":"sub-1","createdAt":"2024-03-01T10:00:00.000Z","email":"ada@example.com","data":{"message":"hi"}}`

func TestDecodeEnvelopeRecognizesEachShape(testingT *testing.T) {
	testCases := []struct {
		name          string
		body          string
		expectedShape normalize.EnvelopeShape
		expectedTotal int
	}{
		{
			name:          "superjson",
			body:          `{"json":{"submissions":[` + testSubmissionPayload + `]},"meta":{"values":{"submissions.0.createdAt":["Date"]}}}`,
			expectedShape: normalize.EnvelopeShapeSuperJSON,
			expectedTotal: 1,
		},
		{
			name:          "plain",
			body:          `{"submissions":[` + testSubmissionPayload + `]}`,
			expectedShape: normalize.EnvelopeShapePlain,
			expectedTotal: 1,
		},
		{
			name:          "paginated",
			body:          `{"pagination":{"total":37,"page":1},"data":[` + testSubmissionPayload + `]}`,
			expectedShape: normalize.EnvelopeShapePaginated,
			expectedTotal: 37,
		},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			envelope, err := normalize.DecodeEnvelope([]byte(testCase.body))
			require.NoError(testingT, err)
			require.Equal(testingT, testCase.expectedShape, envelope.Shape)
			require.Equal(testingT, testCase.expectedTotal, envelope.Total)

			submissions := normalize.DecodeSubmissions(nil, envelope.Submissions, testFormID, "")
			require.Len(testingT, submissions, 1)
			require.Equal(testingT, testSubmissionID, submissions[0].ID)
			require.Equal(testingT, "hi", submissions[0].Data["message"])
		})
	}
}

func TestDecodeEnvelopePrefersSuperJSONOverPlain(testingT *testing.T) {
	envelope, err := normalize.DecodeEnvelope([]byte(`{"json":{"submissions":[{"id":"inner"}]},"submissions":[{"id":"outer"}]}`))
	require.NoError(testingT, err)
	require.Equal(testingT, normalize.EnvelopeShapeSuperJSON, envelope.Shape)
	submissions := normalize.DecodeSubmissions(nil, envelope.Submissions, "", "")
	require.Equal(testingT, "inner", submissions[0].ID)
}

func TestDecodeEnvelopeCarriesFormsAndCursor(testingT *testing.T) {
	envelope, err := normalize.DecodeEnvelope([]byte(`{"forms":[{"id":"form-1","name":"Waitlist"}],"nextCursor":"abc"}`))
	require.NoError(testingT, err)
	require.Equal(testingT, normalize.EnvelopeShapePlain, envelope.Shape)
	require.Equal(testingT, "abc", envelope.NextCursor)
	forms := normalize.DecodeForms(nil, envelope.Forms)
	require.Len(testingT, forms, 1)
	require.Equal(testingT, testFormName, forms[0].Name)
}

func TestDecodeEnvelopeUnknownShapesAreEmpty(testingT *testing.T) {
	for _, body := range []string{`{}`, `[]`, `"text"`, `{"results":[1,2]}`, `{"json":{"other":true}}`} {
		envelope, err := normalize.DecodeEnvelope([]byte(body))
		require.NoError(testingT, err, body)
		require.Equal(testingT, normalize.EnvelopeShapeEmpty, envelope.Shape, body)
		require.Empty(testingT, envelope.Submissions, body)
	}
}

func TestDecodeEnvelopeReportsSyntaxErrors(testingT *testing.T) {
	envelope, err := normalize.DecodeEnvelope([]byte(`<html>502 Bad Gateway</html>`))
	require.Error(testingT, err)
	require.Equal(testingT, normalize.EnvelopeShapeEmpty, envelope.Shape)
}

func TestUnwrapSuperJSON(testingT *testing.T) {
	wrapped := decodeJSON(testingT, `{"json":{"id":"form-1"},"meta":{}}`)
	require.Equal(testingT, map[string]any{"id": "form-1"}, normalize.UnwrapSuperJSON(wrapped))

	plain := decodeJSON(testingT, `{"id":"form-1","json":"field value"}`)
	require.Equal(testingT, plain, normalize.UnwrapSuperJSON(plain))
}
