package mantlz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/normalize"
)

const (
	submitPath             = "/forms/submit"
	defaultFormType        = "custom"
	defaultSuccessMessage  = "Submission received. Thank you!"
	defaultConflictMessage = "This entry already exists."

	multipartFieldType          = "type"
	multipartFieldFormID        = "formId"
	multipartFieldAPIKey        = "apiKey"
	multipartFieldRedirectURL   = "redirectUrl"
	multipartContentDisposition = `form-data; name="%s"; filename="%s"`
	defaultFileContentType      = "application/octet-stream"
)

// File is a binary field value. Any File among the submitted fields switches
// the request to multipart encoding.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

func asFile(value any) (File, bool) {
	switch typed := value.(type) {
	case File:
		return typed, true
	case *File:
		if typed == nil {
			return File{}, false
		}
		return *typed, true
	default:
		return File{}, false
	}
}

// SubmitResult is the outcome of a submission. Conflicts are reported with
// IsConflict rather than as failures of the call itself.
type SubmitResult struct {
	Success     bool
	Message     string
	IsConflict  bool
	Error       *Error
	FieldErrors map[string]string
	RedirectURL string
}

type submitOptions struct {
	formType    string
	schema      *FormSchema
	fetchSchema bool
}

// SubmitOption customizes a single submission.
type SubmitOption func(*submitOptions)

// WithFormType sets the form type sent alongside the submission.
func WithFormType(formType string) SubmitOption {
	return func(options *submitOptions) {
		options.formType = strings.TrimSpace(formType)
	}
}

// WithSchema validates fields against an already fetched schema before sending.
func WithSchema(schema FormSchema) SubmitOption {
	return func(options *submitOptions) {
		options.schema = &schema
	}
}

// WithSchemaValidation fetches the form schema and validates fields before sending.
func WithSchemaValidation() SubmitOption {
	return func(options *submitOptions) {
		options.fetchSchema = true
	}
}

type submitRequestBody struct {
	Type        string         `json:"type"`
	FormID      string         `json:"formId"`
	APIKey      string         `json:"apiKey"`
	Data        map[string]any `json:"data"`
	RedirectURL string         `json:"redirectUrl,omitempty"`
}

type submitRedirect struct {
	URL     string `json:"url"`
	Allowed bool   `json:"allowed"`
}

type submitResponseBody struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Error      any             `json:"error"`
	IsConflict bool            `json:"isConflict"`
	Redirect   *submitRedirect `json:"redirect"`
}

// Submit sends fields to a form. It never returns an error for expected
// failures: network problems, API errors and conflicts are all reported in
// the SubmitResult.
func (client *Client) Submit(ctx context.Context, formID string, fields map[string]any, redirectURL string, opts ...SubmitOption) SubmitResult {
	options := submitOptions{formType: defaultFormType}
	for _, applyOption := range opts {
		applyOption(&options)
	}

	trimmedFormID := strings.TrimSpace(formID)
	if trimmedFormID == "" {
		return SubmitResult{Error: &Error{Message: ErrMissingFormID.Error(), Code: http.StatusBadRequest, UserMessage: UserMessageInvalidData}}
	}

	cleanedFields := stripEmptyFields(fields)

	if options.fetchSchema && options.schema == nil {
		schema, schemaErr := client.GetFormSchema(ctx, trimmedFormID)
		if schemaErr != nil {
			return SubmitResult{Error: asAPIError(schemaErr)}
		}
		options.schema = &schema
	}
	if options.schema != nil {
		if fieldErrors := options.schema.ValidateFields(cleanedFields); len(fieldErrors) > 0 {
			validationErr := &Error{
				Message:     "validation failed",
				Code:        http.StatusBadRequest,
				UserMessage: UserMessageInvalidData,
				Details:     fieldErrors,
			}
			client.notifier.Notify(ctx, validationErr, trimmedFormID)
			return SubmitResult{Error: validationErr, FieldErrors: fieldErrors}
		}
	}

	request, requestErr := client.buildSubmitRequest(ctx, trimmedFormID, options.formType, cleanedFields, strings.TrimSpace(redirectURL))
	if requestErr != nil {
		buildErr := &Error{Message: requestErr.Error(), UserMessage: UserMessageUnexpected}
		client.notifier.Notify(ctx, buildErr, trimmedFormID)
		return SubmitResult{Error: buildErr}
	}

	status, body, transportErr := client.do(request)
	if transportErr != nil {
		client.notifier.Notify(ctx, transportErr, trimmedFormID)
		return SubmitResult{Error: transportErr}
	}

	var response submitResponseBody
	decodeErr := decodeUnwrapped(body, &response)

	if status == http.StatusConflict || (decodeErr == nil && !response.Success && (response.IsConflict || errorCode(response.Error) == http.StatusConflict)) {
		return client.conflictResult(status, body, response)
	}

	if !isSuccessStatus(status) {
		apiErr := ClassifyFormError(status, body, trimmedFormID)
		client.notifier.Notify(ctx, apiErr, trimmedFormID)
		return SubmitResult{Error: apiErr}
	}

	if decodeErr != nil {
		client.logger.Warn("mantlz_submit_decode_failed", zap.String("form_id", trimmedFormID), zap.Error(decodeErr))
		apiErr := &Error{Message: decodeErr.Error(), Code: status, UserMessage: UserMessageUnexpected}
		client.notifier.Notify(ctx, apiErr, trimmedFormID)
		return SubmitResult{Error: apiErr}
	}

	if !response.Success {
		failureCode := errorCode(response.Error)
		if failureCode == 0 {
			failureCode = http.StatusBadRequest
		}
		apiErr := ClassifyFormError(failureCode, body, trimmedFormID)
		client.notifier.Notify(ctx, apiErr, trimmedFormID)
		return SubmitResult{Error: apiErr, Message: response.Message}
	}

	message := response.Message
	if message == "" {
		message = defaultSuccessMessage
	}
	client.notifier.NotifySuccess(message)

	result := SubmitResult{Success: true, Message: message}
	if response.Redirect != nil && response.Redirect.Allowed && strings.TrimSpace(response.Redirect.URL) != "" {
		result.RedirectURL = strings.TrimSpace(response.Redirect.URL)
		client.scheduleRedirect(result.RedirectURL)
	}
	return result
}

func (client *Client) conflictResult(status int, body []byte, response submitResponseBody) SubmitResult {
	conflictErr := ClassifyError(http.StatusConflict, body)
	conflictErr.AlreadyHandled = true
	message := firstNonBlank(response.Message, conflictErr.Message, defaultConflictMessage)
	if message == http.StatusText(http.StatusConflict) {
		message = defaultConflictMessage
	}
	client.logger.Debug("mantlz_submit_conflict", zap.Int("status", status))
	return SubmitResult{IsConflict: true, Message: message, Error: conflictErr}
}

// scheduleRedirect navigates after the redirect delay so the success toast
// stays readable.
func (client *Client) scheduleRedirect(targetURL string) *time.Timer {
	if client.navigator == nil {
		client.logger.Debug("mantlz_redirect_without_navigator", zap.String("url", targetURL))
		return nil
	}
	navigator := client.navigator
	return time.AfterFunc(client.redirectDelay, func() {
		navigator.Navigate(targetURL)
	})
}

func (client *Client) buildSubmitRequest(ctx context.Context, formID string, formType string, fields map[string]any, redirectURL string) (*http.Request, error) {
	if !containsFile(fields) {
		encoded, marshalErr := json.Marshal(submitRequestBody{
			Type:        formType,
			FormID:      formID,
			APIKey:      client.apiKey,
			Data:        fields,
			RedirectURL: redirectURL,
		})
		if marshalErr != nil {
			return nil, fmt.Errorf("encode submission: %w", marshalErr)
		}
		return client.newRequest(ctx, http.MethodPost, submitPath, bytes.NewReader(encoded), contentTypeJSON)
	}

	payload := &bytes.Buffer{}
	writer := multipart.NewWriter(payload)
	metadata := [][2]string{
		{multipartFieldType, formType},
		{multipartFieldFormID, formID},
		{multipartFieldAPIKey, client.apiKey},
	}
	if redirectURL != "" {
		metadata = append(metadata, [2]string{multipartFieldRedirectURL, redirectURL})
	}
	for _, entry := range metadata {
		if writeErr := writer.WriteField(entry[0], entry[1]); writeErr != nil {
			return nil, fmt.Errorf("encode submission: %w", writeErr)
		}
	}
	for _, fieldName := range sortedFieldNames(fields) {
		if writeErr := writeMultipartField(writer, fieldName, fields[fieldName]); writeErr != nil {
			return nil, fmt.Errorf("encode submission field %s: %w", fieldName, writeErr)
		}
	}
	if closeErr := writer.Close(); closeErr != nil {
		return nil, fmt.Errorf("encode submission: %w", closeErr)
	}
	return client.newRequest(ctx, http.MethodPost, submitPath, bytes.NewReader(payload.Bytes()), writer.FormDataContentType())
}

func writeMultipartField(writer *multipart.Writer, fieldName string, value any) error {
	if file, isFile := asFile(value); isFile {
		contentType := file.ContentType
		if contentType == "" {
			contentType = defaultFileContentType
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(multipartContentDisposition, escapeQuotes(fieldName), escapeQuotes(file.Name)))
		header.Set(headerContentType, contentType)
		part, partErr := writer.CreatePart(header)
		if partErr != nil {
			return partErr
		}
		_, copyErr := part.Write(file.Content)
		return copyErr
	}
	if text, isText := value.(string); isText {
		return writer.WriteField(fieldName, text)
	}
	encoded, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		return marshalErr
	}
	return writer.WriteField(fieldName, string(encoded))
}

// stripEmptyFields drops nil values, typed nil pointers, maps and slices
// included. Empty strings are kept.
func stripEmptyFields(fields map[string]any) map[string]any {
	cleaned := make(map[string]any, len(fields))
	for fieldName, value := range fields {
		if isNilValue(value) {
			continue
		}
		cleaned[fieldName] = value
	}
	return cleaned
}

func isNilValue(value any) bool {
	if value == nil {
		return true
	}
	reflected := reflect.ValueOf(value)
	switch reflected.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return reflected.IsNil()
	default:
		return false
	}
}

func containsFile(fields map[string]any) bool {
	for _, value := range fields {
		if _, isFile := asFile(value); isFile {
			return true
		}
	}
	return false
}

func sortedFieldNames(fields map[string]any) []string {
	fieldNames := make([]string, 0, len(fields))
	for fieldName := range fields {
		fieldNames = append(fieldNames, fieldName)
	}
	sort.Strings(fieldNames)
	return fieldNames
}

func decodeUnwrapped(body []byte, target any) error {
	var decoded any
	if unmarshalErr := json.Unmarshal(body, &decoded); unmarshalErr != nil {
		return fmt.Errorf("decode response: %w", unmarshalErr)
	}
	unwrapped, marshalErr := json.Marshal(normalize.UnwrapSuperJSON(decoded))
	if marshalErr != nil {
		return fmt.Errorf("decode response: %w", marshalErr)
	}
	if unmarshalErr := json.Unmarshal(unwrapped, target); unmarshalErr != nil {
		return fmt.Errorf("decode response: %w", unmarshalErr)
	}
	return nil
}

func asAPIError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Message: err.Error(), UserMessage: UserMessageUnexpected}
}

func firstNonBlank(candidates ...string) string {
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(value string) string {
	return quoteEscaper.Replace(value)
}
