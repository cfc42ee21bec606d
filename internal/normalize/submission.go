// Package normalize converts loosely shaped backend payloads into the canonical
// submission and form model. All type coercion happens here.
package normalize

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

const (
	entitySubmission = "submission"
	entityForm       = "form"

	reasonNotAnObject = "payload is not an object"
	reasonMissingID   = "missing id"

	fieldID               = "id"
	fieldCreatedAt        = "createdAt"
	fieldUpdatedAt        = "updatedAt"
	fieldEmail            = "email"
	fieldForm             = "form"
	fieldFormID           = "formId"
	fieldFormName         = "formName"
	fieldFormDescription  = "formDescription"
	fieldName             = "name"
	fieldDescription      = "description"
	fieldData             = "data"
	fieldNotificationLogs = "notificationLogs"
	fieldAnalytics        = "analytics"
	fieldBrowser          = "browser"
	fieldLocation         = "location"
	fieldCountry          = "country"
	fieldStatus           = "status"
	fieldType             = "type"
	fieldError            = "error"
	fieldSubmissionCount  = "submissionCount"
	fieldCount            = "_count"
	fieldSubmissions      = "submissions"
)

// DecodeError reports a payload that cannot be turned into a model entity.
type DecodeError struct {
	Entity string
	Reason string
}

func (decodeErr *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", decodeErr.Entity, decodeErr.Reason)
}

// DecodeSubmission converts one raw submission object. Explicit fallback form
// identity wins over anything embedded in the payload.
func DecodeSubmission(raw any, fallbackFormID string, fallbackFormName string) (model.Submission, error) {
	object, isObject := objectValue(raw)
	if !isObject {
		return model.Submission{}, &DecodeError{Entity: entitySubmission, Reason: reasonNotAnObject}
	}

	submissionID, hasID := nonEmptyString(object[fieldID])
	if !hasID {
		return model.Submission{}, &DecodeError{Entity: entitySubmission, Reason: reasonMissingID}
	}

	data, hasData := objectValue(object[fieldData])
	if !hasData {
		data = map[string]any{}
	}

	embeddedForm, _ := objectValue(object[fieldForm])
	embeddedFormID, _ := nonEmptyString(embeddedForm[fieldID])
	embeddedFormName, _ := nonEmptyString(embeddedForm[fieldName])
	topLevelFormID, _ := nonEmptyString(object[fieldFormID])
	topLevelFormName, _ := nonEmptyString(object[fieldFormName])

	formName := firstNonEmpty(strings.TrimSpace(fallbackFormName), embeddedFormName, topLevelFormName)
	if formName == "" {
		formName = model.UnknownFormName
	}

	return model.Submission{
		ID:               submissionID,
		CreatedAt:        timeValue(object[fieldCreatedAt]),
		Email:            resolveEmail(object, data),
		FormID:           firstNonEmpty(strings.TrimSpace(fallbackFormID), embeddedFormID, topLevelFormID),
		FormName:         formName,
		FormDescription:  firstNonEmpty(stringValue(embeddedForm[fieldDescription]), stringValue(object[fieldFormDescription])),
		Data:             data,
		NotificationLogs: decodeNotificationLogs(object[fieldNotificationLogs]),
		Analytics:        resolveAnalytics(object[fieldAnalytics], data),
		Status:           stringValue(object[fieldStatus]),
	}, nil
}

// DecodeSubmissions converts a batch, skipping entries that fail to decode.
func DecodeSubmissions(logger *zap.Logger, rawEntries []any, fallbackFormID string, fallbackFormName string) []model.Submission {
	submissions := make([]model.Submission, 0, len(rawEntries))
	for index, rawEntry := range rawEntries {
		submission, decodeErr := DecodeSubmission(rawEntry, fallbackFormID, fallbackFormName)
		if decodeErr != nil {
			if logger != nil {
				logger.Debug("decode_submission_skipped", zap.Int("index", index), zap.Error(decodeErr))
			}
			continue
		}
		submissions = append(submissions, submission)
	}
	return submissions
}

func resolveEmail(object map[string]any, data map[string]any) *string {
	if email, hasEmail := nonEmptyString(object[fieldEmail]); hasEmail {
		return &email
	}
	if email, hasEmail := nonEmptyString(data[fieldEmail]); hasEmail {
		return &email
	}
	return nil
}

func resolveAnalytics(raw any, data map[string]any) model.Analytics {
	analytics := model.Analytics{Browser: model.UnknownAnalyticsValue, Location: model.UnknownAnalyticsValue}
	if object, isObject := objectValue(raw); isObject {
		if browser, hasBrowser := nonEmptyString(object[fieldBrowser]); hasBrowser {
			analytics.Browser = browser
		}
		if location, hasLocation := nonEmptyString(object[fieldLocation]); hasLocation {
			analytics.Location = location
		}
		return analytics
	}
	meta, hasMeta := objectValue(data[model.SubmissionMetaKey])
	if !hasMeta {
		return analytics
	}
	if browser, hasBrowser := nonEmptyString(meta[fieldBrowser]); hasBrowser {
		analytics.Browser = browser
	}
	if country, hasCountry := nonEmptyString(meta[fieldCountry]); hasCountry {
		analytics.Location = country
	}
	return analytics
}

// decodeNotificationLogs re-types entries into the enum sets without
// validating them; unknown enum values pass through.
func decodeNotificationLogs(raw any) []model.NotificationLog {
	entries, isList := listValue(raw)
	notificationLogs := make([]model.NotificationLog, 0, len(entries))
	if !isList {
		return notificationLogs
	}
	for _, entry := range entries {
		object, isObject := objectValue(entry)
		if !isObject {
			continue
		}
		var logError *string
		if message, isString := object[fieldError].(string); isString {
			logError = &message
		}
		notificationLogs = append(notificationLogs, model.NotificationLog{
			ID:        stringValue(object[fieldID]),
			Type:      model.NotificationType(stringValue(object[fieldType])),
			Status:    model.NotificationStatus(stringValue(object[fieldStatus])),
			Error:     logError,
			CreatedAt: timeValue(object[fieldCreatedAt]),
		})
	}
	return notificationLogs
}

// DecodeForm converts one raw form object.
func DecodeForm(raw any) (model.Form, error) {
	object, isObject := objectValue(raw)
	if !isObject {
		return model.Form{}, &DecodeError{Entity: entityForm, Reason: reasonNotAnObject}
	}
	formID, hasID := nonEmptyString(object[fieldID])
	if !hasID {
		return model.Form{}, &DecodeError{Entity: entityForm, Reason: reasonMissingID}
	}

	submissionCount := intValue(object[fieldSubmissionCount])
	if countObject, hasCount := objectValue(object[fieldCount]); hasCount && submissionCount == 0 {
		submissionCount = intValue(countObject[fieldSubmissions])
	}

	return model.Form{
		ID:              formID,
		Name:            stringValue(object[fieldName]),
		Description:     stringValue(object[fieldDescription]),
		SubmissionCount: submissionCount,
		CreatedAt:       timeValue(object[fieldCreatedAt]),
		UpdatedAt:       timeValue(object[fieldUpdatedAt]),
	}, nil
}

// DecodeForms converts a batch, skipping entries that fail to decode.
func DecodeForms(logger *zap.Logger, rawEntries []any) []model.Form {
	forms := make([]model.Form, 0, len(rawEntries))
	for index, rawEntry := range rawEntries {
		form, decodeErr := DecodeForm(rawEntry)
		if decodeErr != nil {
			if logger != nil {
				logger.Debug("decode_form_skipped", zap.Int("index", index), zap.Error(decodeErr))
			}
			continue
		}
		forms = append(forms, form)
	}
	return forms
}
