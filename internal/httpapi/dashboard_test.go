package httpapi_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/pkg/mantlz"
)

type searchPayload struct {
	Submissions []model.Submission `json:"submissions"`
	Forms       []model.Form       `json:"forms"`
	Total       int                `json:"total"`
	Hidden      int                `json:"hidden"`
}

func submissionsBody(testingT *testing.T, count int, age time.Duration) string {
	testingT.Helper()
	entries := make([]map[string]any, 0, count)
	createdAt := time.Now().UTC().Add(-age)
	for index := 0; index < count; index++ {
		entries = append(entries, map[string]any{
			"id":        fmt.Sprintf("sub-%02d", index),
			"createdAt": createdAt.Add(-time.Duration(index) * time.Minute).Format(time.RFC3339),
			"email":     fmt.Sprintf("user%02d@example.com", index),
			"data":      map[string]any{"message": "hello"},
		})
	}
	encoded, marshalErr := json.Marshal(map[string]any{"submissions": entries})
	require.NoError(testingT, marshalErr)
	return string(encoded)
}

func decodeSearch(testingT *testing.T, recorder *httptest.ResponseRecorder) searchPayload {
	testingT.Helper()
	var payload searchPayload
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &payload))
	return payload
}

func TestSearchRejectsCrossFormForNonPro(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	for _, plan := range []string{"free", "standard"} {
		account := harness.createAccount(testingT, plan+"@example.com", plan, false)
		recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/search?term=alice", nil), account.APIKey))
		require.Equal(testingT, http.StatusPaymentRequired, recorder.Code, plan)
		require.Equal(testingT, "upgrade_required", decodeBody(testingT, recorder)["error"])
	}
	require.Empty(testingT, harness.backend.Calls())
}

func TestSearchSingleFormAppliesPlanLimits(testingT *testing.T) {
	testCases := []struct {
		name            string
		plan            string
		premium         bool
		backendCount    int
		expectedVisible int
		expectedTotal   int
		expectedHidden  int
	}{
		{name: "free capped then limited", plan: "free", backendCount: 25, expectedVisible: 10, expectedTotal: 20, expectedHidden: 10},
		{name: "free under cap", plan: "free", backendCount: 6, expectedVisible: 6, expectedTotal: 6, expectedHidden: 0},
		{name: "standard limited", plan: "standard", backendCount: 14, expectedVisible: 10, expectedTotal: 14, expectedHidden: 4},
		{name: "premium unrestricted", plan: "free", premium: true, backendCount: 25, expectedVisible: 25, expectedTotal: 25, expectedHidden: 0},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			harness := newAPIHarness(testingT)
			account := harness.createAccount(testingT, "limits@example.com", testCase.plan, testCase.premium)
			harness.backend.logsBody = submissionsBody(testingT, testCase.backendCount, time.Hour)

			recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/search?term=hello&formId=form-1", nil), account.APIKey))
			require.Equal(testingT, http.StatusOK, recorder.Code)
			payload := decodeSearch(testingT, recorder)
			require.Len(testingT, payload.Submissions, testCase.expectedVisible)
			require.Equal(testingT, testCase.expectedTotal, payload.Total)
			require.Equal(testingT, testCase.expectedHidden, payload.Hidden)

			calls := harness.backend.Calls()
			require.Len(testingT, calls, 1)
			require.Equal(testingT, "submissions", calls[0].endpoint)
			require.Equal(testingT, account.APIKey, calls[0].apiKey)
			require.Equal(testingT, "form-1", calls[0].parameters.Get("formId"))
			require.Equal(testingT, "hello", calls[0].parameters.Get("search"))
		})
	}
}

func TestSearchDropsSubmissionsOutsideVisibilityWindow(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "window@example.com", "standard", false)
	harness.backend.logsBody = submissionsBody(testingT, 3, 45*24*time.Hour)

	recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/search?term=hello&formId=form-1", nil), account.APIKey))
	require.Equal(testingT, http.StatusOK, recorder.Code)
	payload := decodeSearch(testingT, recorder)
	require.NotNil(testingT, payload.Submissions)
	require.Empty(testingT, payload.Submissions)
	require.Zero(testingT, payload.Total)
}

func TestSearchTranslatesFilters(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "filters@example.com", "pro", false)

	query := "/api/search?term=hello&formId=form-1&timeFrame=7d&sortOrder=oldest&hasEmail=true&browser=Firefox&location=DE&to=2024-03-01"
	recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, query, nil), account.APIKey))
	require.Equal(testingT, http.StatusOK, recorder.Code)

	calls := harness.backend.Calls()
	require.Len(testingT, calls, 1)
	parameters := calls[0].parameters
	require.Equal(testingT, "true", parameters.Get("hasEmail"))
	require.Equal(testingT, "Firefox", parameters.Get("browser"))
	require.Equal(testingT, "DE", parameters.Get("location"))
	require.Equal(testingT, "oldest", parameters.Get("sortOrder"))
	require.NotEmpty(testingT, parameters.Get("startDate"))
	require.True(testingT, strings.HasPrefix(parameters.Get("endDate"), "2024-03-01"))
}

func TestSearchRejectsInvalidFilters(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "invalid@example.com", "pro", false)

	for _, query := range []string{"timeFrame=1y", "sortOrder=random", "hasEmail=maybe", "from=yesterday", "attachments=sometimes"} {
		recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/search?term=a&formId=f&"+query, nil), account.APIKey))
		require.Equal(testingT, http.StatusBadRequest, recorder.Code, query)
		require.Equal(testingT, "invalid_filters", decodeBody(testingT, recorder)["error"])
	}
	require.Empty(testingT, harness.backend.Calls())
}

func TestSearchBlankTermReturnsEmptyWithoutBackendCall(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "blank@example.com", "pro", false)

	recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/search?term=%20%20", nil), account.APIKey))
	require.Equal(testingT, http.StatusOK, recorder.Code)
	payload := decodeSearch(testingT, recorder)
	require.NotNil(testingT, payload.Submissions)
	require.Empty(testingT, payload.Submissions)
	require.Empty(testingT, harness.backend.Calls())
}

func TestSearchCrossFormFallsBackToKnownForms(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "pro@example.com", "pro", false)
	harness.backend.forms = []model.Form{
		{ID: "form-a", Name: "Alpha"},
		{ID: "form-b", Name: "Beta"},
		{ID: "form-c", Name: "Gamma"},
		{ID: "form-d", Name: "Delta"},
	}
	harness.backend.logsBody = submissionsBody(testingT, 1, time.Hour)

	recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/search?term=hello", nil), account.APIKey))
	require.Equal(testingT, http.StatusOK, recorder.Code)
	payload := decodeSearch(testingT, recorder)
	require.Len(testingT, payload.Submissions, 3)
	require.Equal(testingT, "Alpha", payload.Submissions[0].FormName)
	require.Equal(testingT, "Gamma", payload.Submissions[2].FormName)

	endpoints := map[string]int{}
	for _, call := range harness.backend.Calls() {
		endpoints[call.endpoint]++
	}
	require.Equal(testingT, 1, endpoints["userForms"])
	require.Equal(testingT, 1, endpoints["searchSubmissions"])
	require.Equal(testingT, 3, endpoints["submissions"])
}

func TestSearchCrossFormUsesGlobalResults(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "global@example.com", "pro", false)
	harness.backend.globalBody = `{"json":{"submissions":[{"id":"g1","createdAt":"` + time.Now().UTC().Format(time.RFC3339) + `","form":{"id":"form-x","name":"Contact"},"data":{}}],"forms":[{"id":"form-x","name":"Contact"}]},"meta":{}}`

	recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/search?term=email:a@b.co", nil), account.APIKey))
	require.Equal(testingT, http.StatusOK, recorder.Code)
	payload := decodeSearch(testingT, recorder)
	require.Len(testingT, payload.Submissions, 1)
	require.Equal(testingT, "Contact", payload.Submissions[0].FormName)
	require.Len(testingT, payload.Forms, 1)

	var globalCall backendCall
	for _, call := range harness.backend.Calls() {
		if call.endpoint == "searchSubmissions" {
			globalCall = call
		}
	}
	require.Equal(testingT, "a@b.co", globalCall.parameters.Get("emailQuery"))
}

func TestListFormsServesFromCache(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "forms@example.com", "", false)
	harness.backend.forms = []model.Form{{ID: "form-1", Name: "Signup", SubmissionCount: 4}}

	for attempt := 0; attempt < 3; attempt++ {
		recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/forms?limit=5", nil), account.APIKey))
		require.Equal(testingT, http.StatusOK, recorder.Code)
		var payload struct {
			Forms []model.Form `json:"forms"`
		}
		require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &payload))
		require.Len(testingT, payload.Forms, 1)
		require.Equal(testingT, 4, payload.Forms[0].SubmissionCount)
	}
	require.Equal(testingT, 1, harness.backend.FormsRequests())

	recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/forms?limit=500", nil), account.APIKey))
	require.Equal(testingT, http.StatusOK, recorder.Code)
	calls := harness.backend.Calls()
	require.Equal(testingT, "100", calls[len(calls)-1].parameters.Get("limit"))
}

func TestListFormsReportsBackendErrors(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "broken@example.com", "", false)

	harness.backend.formsErr = mantlz.ClassifyError(http.StatusUnauthorized, []byte(`{"message":"API key is inactive"}`))
	recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/forms", nil), account.APIKey))
	require.Equal(testingT, http.StatusUnauthorized, recorder.Code)
	require.Equal(testingT, mantlz.UserMessageInactiveAPIKey, decodeBody(testingT, recorder)["error"])

	harness.backend.formsErr = mantlz.ClassifyError(http.StatusBadGateway, nil)
	recorder = harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/forms", nil), account.APIKey))
	require.Equal(testingT, http.StatusBadGateway, recorder.Code)
	require.Equal(testingT, "backend_failed", decodeBody(testingT, recorder)["error"])
}

func TestFormSubmissionsAreNormalizedAndLimited(testingT *testing.T) {
	harness := newAPIHarness(testingT)
	account := harness.createAccount(testingT, "submissions@example.com", "free", false)
	harness.backend.logsBody = submissionsBody(testingT, 25, time.Minute)

	recorder := harness.do(withBearer(httptest.NewRequest(http.MethodGet, "/api/forms/form-9/submissions", nil), account.APIKey))
	require.Equal(testingT, http.StatusOK, recorder.Code)
	var payload struct {
		FormID      string             `json:"form_id"`
		Submissions []model.Submission `json:"submissions"`
		Total       int                `json:"total"`
	}
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Equal(testingT, "form-9", payload.FormID)
	require.Len(testingT, payload.Submissions, 20)
	require.Equal(testingT, 20, payload.Total)
	require.Equal(testingT, "form-9", payload.Submissions[0].FormID)
	require.Equal(testingT, model.UnknownAnalyticsValue, payload.Submissions[0].Analytics.Browser)

	calls := harness.backend.Calls()
	require.Len(testingT, calls, 1)
	require.Equal(testingT, "50", calls[0].parameters.Get("limit"))
	require.Empty(testingT, calls[0].parameters.Get("search"))
}
