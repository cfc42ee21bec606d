package model

import "time"

const (
	// UnknownFormName labels submissions whose form identity could not be resolved.
	UnknownFormName = "Unknown Form"
	// UnknownAnalyticsValue labels missing browser or location analytics.
	UnknownAnalyticsValue = "Unknown"
	// SubmissionMetaKey is the reserved data key carrying browser and country metadata.
	SubmissionMetaKey = "_meta"
	// SubmissionAttachmentsKey is the data key carrying uploaded attachment references.
	SubmissionAttachmentsKey = "attachments"
)

type NotificationType string

const (
	NotificationTypeSubmissionConfirmation NotificationType = "SUBMISSION_CONFIRMATION"
	NotificationTypeDeveloperNotification  NotificationType = "DEVELOPER_NOTIFICATION"
	NotificationTypeDigest                 NotificationType = "DIGEST"
)

type NotificationStatus string

const (
	NotificationStatusSent    NotificationStatus = "SENT"
	NotificationStatusFailed  NotificationStatus = "FAILED"
	NotificationStatusSkipped NotificationStatus = "SKIPPED"
	NotificationStatusPending NotificationStatus = "PENDING"
)

// NotificationLog is one entry of the backend-owned delivery audit trail of a submission.
type NotificationLog struct {
	ID        string             `json:"id"`
	Type      NotificationType   `json:"type"`
	Status    NotificationStatus `json:"status"`
	Error     *string            `json:"error"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Analytics summarizes where a submission came from.
type Analytics struct {
	Browser  string `json:"browser"`
	Location string `json:"location"`
}

// Submission is the canonical, read-only view of a form submission.
type Submission struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"createdAt"`
	Email            *string           `json:"email"`
	FormID           string            `json:"formId"`
	FormName         string            `json:"formName"`
	FormDescription  string            `json:"formDescription"`
	Data             map[string]any    `json:"data"`
	NotificationLogs []NotificationLog `json:"notificationLogs"`
	Analytics        Analytics         `json:"analytics"`
	Status           string            `json:"status,omitempty"`
}

// HasAttachments reports whether the submission carries a non-empty attachments list.
func (submission Submission) HasAttachments() bool {
	attachments, isList := submission.Data[SubmissionAttachmentsKey].([]any)
	return isList && len(attachments) > 0
}

// LatestNotificationStatus returns the status of the most recent notification log entry.
func (submission Submission) LatestNotificationStatus() (NotificationStatus, bool) {
	if len(submission.NotificationLogs) == 0 {
		return "", false
	}
	latest := submission.NotificationLogs[0]
	for _, notificationLog := range submission.NotificationLogs[1:] {
		if notificationLog.CreatedAt.After(latest.CreatedAt) {
			latest = notificationLog
		}
	}
	return latest.Status, true
}

type Form struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	SubmissionCount int       `json:"submissionCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SearchResult is the canonical output of a submission search. Forms is only
// populated for cross-form responses.
type SearchResult struct {
	Submissions []Submission `json:"submissions"`
	Forms       []Form       `json:"forms,omitempty"`
}

// EmptySearchResult returns a result with a non-nil, empty submissions list.
func EmptySearchResult() SearchResult {
	return SearchResult{Submissions: []Submission{}}
}
