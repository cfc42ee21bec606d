package mantlz

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	UserMessageInactiveAPIKey = "Your API key is inactive. Please activate it in your dashboard."
	UserMessageUnknownAPIKey  = "API key not found. Please check your configuration."
	UserMessageUnauthorized   = "Authentication failed. Please check your API key."
	UserMessageFormNotFound   = "Form not found. Please check your form ID."
	UserMessageInvalidData    = "Invalid form data. Please check your inputs and try again."
	UserMessageServerError    = "Server error. Please try again later."
	UserMessageUnexpected     = "Something went wrong. Please try again."
	UserMessageNetworkError   = "Network error. Please check your connection and try again."

	userMessageFormNotFoundPattern = "Form %s was not found. Please check your form ID."

	errorMarkerInactive = "inactive"
	errorMarkerNotFound = "not found"

	responseFieldError   = "error"
	responseFieldMessage = "message"
	responseFieldCode    = "code"
	responseFieldDetails = "details"
)

var (
	// ErrMissingAPIKey indicates the client was constructed without an API key.
	ErrMissingAPIKey = errors.New("mantlz: missing api key")
	// ErrMissingFormID indicates an operation was requested without a form id.
	ErrMissingFormID = errors.New("mantlz: missing form id")
)

// Error is a classified API failure. AlreadyHandled marks that the failure has
// already been surfaced to the user and must not be notified again.
type Error struct {
	Message        string
	Code           int
	UserMessage    string
	Details        any
	AlreadyHandled bool
}

func (apiErr *Error) Error() string {
	if apiErr == nil {
		return ""
	}
	return fmt.Sprintf("mantlz: %d: %s", apiErr.Code, apiErr.Message)
}

// IsConflict reports whether the failure is a 409 conflict.
func (apiErr *Error) IsConflict() bool {
	return apiErr != nil && apiErr.Code == http.StatusConflict
}

// ClassifyError builds an Error from an HTTP status and JSON response body.
func ClassifyError(httpStatus int, body []byte) *Error {
	return ClassifyFormError(httpStatus, body, "")
}

// ClassifyFormError is ClassifyError with the form id used to specialize
// not-found messages.
func ClassifyFormError(httpStatus int, body []byte, formID string) *Error {
	message, details := extractErrorPayload(body)
	if message == "" {
		message = http.StatusText(httpStatus)
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", httpStatus)
	}
	return &Error{
		Message:     message,
		Code:        httpStatus,
		UserMessage: userMessageFor(httpStatus, message, formID),
		Details:     details,
	}
}

func userMessageFor(httpStatus int, rawMessage string, formID string) string {
	switch {
	case httpStatus == http.StatusUnauthorized:
		normalized := strings.ToLower(rawMessage)
		if strings.Contains(normalized, errorMarkerInactive) {
			return UserMessageInactiveAPIKey
		}
		if strings.Contains(normalized, errorMarkerNotFound) {
			return UserMessageUnknownAPIKey
		}
		return UserMessageUnauthorized
	case httpStatus == http.StatusNotFound:
		trimmedFormID := strings.TrimSpace(formID)
		if trimmedFormID != "" {
			return fmt.Sprintf(userMessageFormNotFoundPattern, trimmedFormID)
		}
		return UserMessageFormNotFound
	case httpStatus == http.StatusBadRequest:
		return UserMessageInvalidData
	case httpStatus >= http.StatusInternalServerError:
		return UserMessageServerError
	default:
		return UserMessageUnexpected
	}
}

// extractErrorPayload reads {"error": "..."}, {"error": {"message": ...}},
// {"message": "..."} and an optional "details" field.
func extractErrorPayload(body []byte) (string, any) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil
	}
	var decoded map[string]any
	if unmarshalErr := json.Unmarshal(body, &decoded); unmarshalErr != nil {
		return "", nil
	}

	details := decoded[responseFieldDetails]
	switch typedError := decoded[responseFieldError].(type) {
	case string:
		if strings.TrimSpace(typedError) != "" {
			return typedError, details
		}
	case map[string]any:
		if nestedMessage, isString := typedError[responseFieldMessage].(string); isString && nestedMessage != "" {
			if details == nil {
				details = typedError[responseFieldDetails]
			}
			return nestedMessage, details
		}
	}
	if message, isString := decoded[responseFieldMessage].(string); isString {
		return message, details
	}
	return "", details
}

// errorCode reads a numeric code from {"error": {"code": 409}}.
func errorCode(rawError any) int {
	nested, isObject := rawError.(map[string]any)
	if !isObject {
		return 0
	}
	switch typedCode := nested[responseFieldCode].(type) {
	case float64:
		return int(typedCode)
	case string:
		var parsedCode int
		if _, scanErr := fmt.Sscanf(typedCode, "%d", &parsedCode); scanErr == nil {
			return parsedCode
		}
	}
	return 0
}
