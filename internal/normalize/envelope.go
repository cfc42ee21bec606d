package normalize

import (
	"encoding/json"
	"fmt"
)

// EnvelopeShape identifies the outer wrapper a backend response arrived in.
type EnvelopeShape string

const (
	EnvelopeShapeEmpty     EnvelopeShape = "empty"
	EnvelopeShapeSuperJSON EnvelopeShape = "superjson"
	EnvelopeShapePlain     EnvelopeShape = "plain"
	EnvelopeShapePaginated EnvelopeShape = "paginated"

	envelopeFieldJSON        = "json"
	envelopeFieldMeta        = "meta"
	envelopeFieldSubmissions = "submissions"
	envelopeFieldForms       = "forms"
	envelopeFieldData        = "data"
	envelopeFieldPagination  = "pagination"
	envelopeFieldTotal       = "total"
	envelopeFieldNextCursor  = "nextCursor"

	errorMessageDecodeEnvelope = "decode envelope"
)

// Envelope is an unwrapped backend response. Submissions and Forms hold raw
// entries that still need DecodeSubmission / DecodeForm.
type Envelope struct {
	Shape       EnvelopeShape
	Submissions []any
	Forms       []any
	Total       int
	NextCursor  string
}

type envelopeDecoder struct {
	shape   EnvelopeShape
	matches func(map[string]any) bool
	extract func(map[string]any) Envelope
}

// envelopeDecoders are tried in order; the first match wins.
var envelopeDecoders = []envelopeDecoder{
	{
		shape: EnvelopeShapeSuperJSON,
		matches: func(root map[string]any) bool {
			inner, isObject := objectValue(root[envelopeFieldJSON])
			return isObject && carriesCollections(inner)
		},
		extract: func(root map[string]any) Envelope {
			inner, _ := objectValue(root[envelopeFieldJSON])
			return extractCollections(EnvelopeShapeSuperJSON, inner)
		},
	},
	{
		shape:   EnvelopeShapePlain,
		matches: carriesCollections,
		extract: func(root map[string]any) Envelope {
			return extractCollections(EnvelopeShapePlain, root)
		},
	},
	{
		shape: EnvelopeShapePaginated,
		matches: func(root map[string]any) bool {
			_, isList := listValue(root[envelopeFieldData])
			return isList
		},
		extract: func(root map[string]any) Envelope {
			entries, _ := listValue(root[envelopeFieldData])
			envelope := Envelope{Shape: EnvelopeShapePaginated, Submissions: entries, Total: len(entries)}
			if pagination, hasPagination := objectValue(root[envelopeFieldPagination]); hasPagination {
				if total := intValue(pagination[envelopeFieldTotal]); total > 0 {
					envelope.Total = total
				}
			}
			return envelope
		},
	},
}

func carriesCollections(object map[string]any) bool {
	_, hasSubmissions := listValue(object[envelopeFieldSubmissions])
	_, hasForms := listValue(object[envelopeFieldForms])
	return hasSubmissions || hasForms
}

func extractCollections(shape EnvelopeShape, object map[string]any) Envelope {
	submissions, _ := listValue(object[envelopeFieldSubmissions])
	forms, _ := listValue(object[envelopeFieldForms])
	total := intValue(object[envelopeFieldTotal])
	if total == 0 {
		total = len(submissions)
	}
	return Envelope{
		Shape:       shape,
		Submissions: submissions,
		Forms:       forms,
		Total:       total,
		NextCursor:  stringValue(object[envelopeFieldNextCursor]),
	}
}

// DecodeEnvelope parses a response body and unwraps it using the first
// matching shape. Bodies that parse but match no shape yield an empty envelope.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var decoded any
	if unmarshalErr := json.Unmarshal(body, &decoded); unmarshalErr != nil {
		return Envelope{Shape: EnvelopeShapeEmpty}, fmt.Errorf("%s: %w", errorMessageDecodeEnvelope, unmarshalErr)
	}
	return UnwrapEnvelope(decoded), nil
}

// UnwrapEnvelope applies the ordered shape decoders to an already parsed value.
func UnwrapEnvelope(decoded any) Envelope {
	root, isObject := objectValue(decoded)
	if !isObject {
		return Envelope{Shape: EnvelopeShapeEmpty}
	}
	for _, decoder := range envelopeDecoders {
		if decoder.matches(root) {
			return decoder.extract(root)
		}
	}
	return Envelope{Shape: EnvelopeShapeEmpty}
}

// UnwrapSuperJSON returns the inner "json" value of a superjson payload, or the
// value itself when it is not superjson-wrapped.
func UnwrapSuperJSON(decoded any) any {
	root, isObject := objectValue(decoded)
	if !isObject {
		return decoded
	}
	inner, hasInner := root[envelopeFieldJSON]
	if !hasInner {
		return decoded
	}
	if _, hasMeta := root[envelopeFieldMeta]; !hasMeta && len(root) != 1 {
		return decoded
	}
	return inner
}
