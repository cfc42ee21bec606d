package mantlz

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	ToastHandler          ToastHandler
	DedupStore            DedupStore
	ShowAPIKeyErrorToasts bool
	Disabled              bool
	Logger                *zap.Logger
}

// Notifier surfaces classified errors through a ToastHandler at most once per
// underlying failure. Form not-found errors are remembered both per notifier
// and in the shared DedupStore.
type Notifier struct {
	mutex                 sync.Mutex
	enabled               bool
	toastHandler          ToastHandler
	showAPIKeyErrorToasts bool
	instanceErrors        map[string]struct{}
	sharedErrors          DedupStore
	logger                *zap.Logger
}

func NewNotifier(config NotifierConfig) *Notifier {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sharedErrors := config.DedupStore
	if sharedErrors == nil {
		sharedErrors = NewMemoryDedupStore()
	}
	toastHandler := config.ToastHandler
	if toastHandler == nil {
		toastHandler = NewLoggingToastHandler(logger)
	}
	return &Notifier{
		enabled:               !config.Disabled,
		toastHandler:          toastHandler,
		showAPIKeyErrorToasts: config.ShowAPIKeyErrorToasts,
		instanceErrors:        make(map[string]struct{}),
		sharedErrors:          sharedErrors,
		logger:                logger,
	}
}

// ConfigureNotifications toggles notifications and swaps the handler when one
// is given. The per-notifier dedup memory is cleared; the shared store is not.
func (notifier *Notifier) ConfigureNotifications(enabled bool, handler ToastHandler) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.enabled = enabled
	if handler != nil {
		notifier.toastHandler = handler
	}
	notifier.instanceErrors = make(map[string]struct{})
}

// Notify shows apiErr unless it was already handled, is a suppressed 401, or
// is a repeated 404 for the same form. apiErr is always marked handled.
func (notifier *Notifier) Notify(ctx context.Context, apiErr *Error, formID string) {
	if apiErr == nil || apiErr.AlreadyHandled {
		return
	}
	defer func() {
		apiErr.AlreadyHandled = true
	}()

	notifier.mutex.Lock()
	enabled := notifier.enabled
	toastHandler := notifier.toastHandler
	showAPIKeyErrorToasts := notifier.showAPIKeyErrorToasts
	notifier.mutex.Unlock()

	if !enabled {
		notifier.logger.Debug("notification_disabled", zap.Int("code", apiErr.Code), zap.String("form_id", formID))
		return
	}

	if apiErr.Code == http.StatusUnauthorized && !showAPIKeyErrorToasts {
		notifier.logger.Debug("notification_api_key_suppressed", zap.String("message", apiErr.Message))
		return
	}

	trimmedFormID := strings.TrimSpace(formID)
	if apiErr.Code == http.StatusNotFound && trimmedFormID != "" {
		if notifier.seenBefore(ctx, formNotFoundDedupKey(trimmedFormID)) {
			notifier.logger.Debug("notification_deduplicated", zap.String("form_id", trimmedFormID))
			return
		}
	}

	message := apiErr.UserMessage
	if message == "" {
		message = apiErr.Message
	}
	toastHandler.Show(message, ToastTypeError, ToastOptions{
		Description: apiErr.Message,
		Duration:    defaultToastDuration,
	})
}

// NotifySuccess shows a success toast when notifications are enabled.
func (notifier *Notifier) NotifySuccess(message string) {
	notifier.show(message, ToastTypeSuccess)
}

// NotifyWarning shows a warning toast when notifications are enabled.
func (notifier *Notifier) NotifyWarning(message string) {
	notifier.show(message, ToastTypeWarning)
}

func (notifier *Notifier) show(message string, toastType ToastType) {
	notifier.mutex.Lock()
	enabled := notifier.enabled
	toastHandler := notifier.toastHandler
	notifier.mutex.Unlock()
	if !enabled || strings.TrimSpace(message) == "" {
		return
	}
	toastHandler.Show(message, toastType, ToastOptions{Duration: defaultToastDuration})
}

// seenBefore records dedupKey in the instance memory and the shared store,
// each in one atomic step, and reports whether either already held it. A
// failing shared store counts as unseen.
func (notifier *Notifier) seenBefore(ctx context.Context, dedupKey string) bool {
	notifier.mutex.Lock()
	_, seenByInstance := notifier.instanceErrors[dedupKey]
	if !seenByInstance {
		notifier.instanceErrors[dedupKey] = struct{}{}
	}
	notifier.mutex.Unlock()
	if seenByInstance {
		return true
	}

	added, addErr := notifier.sharedErrors.AddIfAbsent(ctx, dedupKey)
	if addErr != nil {
		notifier.logger.Warn("notification_dedup_record_failed", zap.String("key", dedupKey), zap.Error(addErr))
		return false
	}
	return !added
}
