package mantlz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/normalize"
)

const (
	formSchemaPathPattern = "/forms/%s"

	FieldTypeText     = "text"
	FieldTypeEmail    = "email"
	FieldTypeTextarea = "textarea"
	FieldTypeNumber   = "number"
	FieldTypeCheckbox = "checkbox"
	FieldTypeFile     = "file"

	validationMessageRequired = "is required"
	validationMessageEmail    = "must be a valid email address"
	validationMessageFile     = "must be a file"
)

// FieldSchema describes one input of a form.
type FieldSchema struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// FormSchema is the rendering and validation contract of a form.
type FormSchema struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Type   string        `json:"formType"`
	Fields []FieldSchema `json:"fields"`
}

type rawFormSchema struct {
	ID       string                     `json:"id"`
	Name     string                     `json:"name"`
	FormType string                     `json:"formType"`
	Fields   []FieldSchema              `json:"fields"`
	Schema   map[string]json.RawMessage `json:"schema"`
}

type rawSchemaEntry struct {
	Type     string `json:"type"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// GetFormSchema fetches the schema of a form. Failures are notified once and
// returned as *Error.
func (client *Client) GetFormSchema(ctx context.Context, formID string) (FormSchema, error) {
	trimmedFormID := strings.TrimSpace(formID)
	if trimmedFormID == "" {
		return FormSchema{}, ErrMissingFormID
	}

	request, requestErr := client.newRequest(ctx, http.MethodGet, fmt.Sprintf(formSchemaPathPattern, url.PathEscape(trimmedFormID)), nil, "")
	if requestErr != nil {
		return FormSchema{}, requestErr
	}
	status, body, transportErr := client.do(request)
	if transportErr != nil {
		client.notifier.Notify(ctx, transportErr, trimmedFormID)
		return FormSchema{}, transportErr
	}
	if !isSuccessStatus(status) {
		apiErr := ClassifyFormError(status, body, trimmedFormID)
		client.notifier.Notify(ctx, apiErr, trimmedFormID)
		return FormSchema{}, apiErr
	}

	schema, decodeErr := decodeFormSchema(body)
	if decodeErr != nil {
		client.logger.Warn("mantlz_schema_decode_failed", zap.String("form_id", trimmedFormID), zap.Error(decodeErr))
		return FormSchema{}, &Error{Message: decodeErr.Error(), Code: status, UserMessage: UserMessageUnexpected}
	}
	if schema.ID == "" {
		schema.ID = trimmedFormID
	}
	return schema, nil
}

// decodeFormSchema accepts either a field list or a raw schema map keyed by
// field name, optionally superjson-wrapped.
func decodeFormSchema(body []byte) (FormSchema, error) {
	var decoded any
	if unmarshalErr := json.Unmarshal(body, &decoded); unmarshalErr != nil {
		return FormSchema{}, fmt.Errorf("decode form schema: %w", unmarshalErr)
	}
	unwrapped, marshalErr := json.Marshal(normalize.UnwrapSuperJSON(decoded))
	if marshalErr != nil {
		return FormSchema{}, fmt.Errorf("decode form schema: %w", marshalErr)
	}

	var raw rawFormSchema
	if unmarshalErr := json.Unmarshal(unwrapped, &raw); unmarshalErr != nil {
		return FormSchema{}, fmt.Errorf("decode form schema: %w", unmarshalErr)
	}

	schema := FormSchema{ID: raw.ID, Name: raw.Name, Type: raw.FormType, Fields: raw.Fields}
	if len(schema.Fields) > 0 || len(raw.Schema) == 0 {
		return schema, nil
	}

	fieldNames := make([]string, 0, len(raw.Schema))
	for fieldName := range raw.Schema {
		fieldNames = append(fieldNames, fieldName)
	}
	sort.Strings(fieldNames)
	for _, fieldName := range fieldNames {
		var entry rawSchemaEntry
		if unmarshalErr := json.Unmarshal(raw.Schema[fieldName], &entry); unmarshalErr != nil {
			entry = rawSchemaEntry{Type: FieldTypeText}
		}
		schema.Fields = append(schema.Fields, FieldSchema{
			Name:     fieldName,
			Label:    entry.Label,
			Type:     entry.Type,
			Required: entry.Required,
		})
	}
	return schema, nil
}

// ValidateFields checks field values against the schema and returns one
// message per invalid field. Wire format never affects validation.
func (schema FormSchema) ValidateFields(fields map[string]any) map[string]string {
	fieldErrors := make(map[string]string)
	for _, field := range schema.Fields {
		value, present := fields[field.Name]
		if field.Required && (!present || isBlank(value)) {
			fieldErrors[field.Name] = validationMessageRequired
			continue
		}
		if !present || isBlank(value) {
			continue
		}
		switch field.Type {
		case FieldTypeEmail:
			text, isText := value.(string)
			if !isText {
				fieldErrors[field.Name] = validationMessageEmail
				continue
			}
			if _, parseErr := mail.ParseAddress(strings.TrimSpace(text)); parseErr != nil {
				fieldErrors[field.Name] = validationMessageEmail
			}
		case FieldTypeFile:
			if _, isFile := asFile(value); !isFile {
				fieldErrors[field.Name] = validationMessageFile
			}
		}
	}
	return fieldErrors
}

func isBlank(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return false
	}
}
