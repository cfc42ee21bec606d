package mantlz

import (
	"time"

	"go.uber.org/zap"
)

type ToastType string

const (
	ToastTypeSuccess ToastType = "success"
	ToastTypeError   ToastType = "error"
	ToastTypeWarning ToastType = "warning"
	ToastTypeInfo    ToastType = "info"

	defaultToastDuration = 5 * time.Second
)

type ToastOptions struct {
	Description string
	Duration    time.Duration
	ID          string
}

// ToastHandler renders a user-facing notification. Implementations are
// supplied by whatever presentation layer embeds the client.
type ToastHandler interface {
	Show(message string, toastType ToastType, options ToastOptions)
}

// ToastHandlerFunc adapts a function to ToastHandler.
type ToastHandlerFunc func(message string, toastType ToastType, options ToastOptions)

func (handler ToastHandlerFunc) Show(message string, toastType ToastType, options ToastOptions) {
	handler(message, toastType, options)
}

// LoggingToastHandler writes toasts to a zap logger. It is the default when no
// presentation layer is attached.
type LoggingToastHandler struct {
	logger *zap.Logger
}

func NewLoggingToastHandler(logger *zap.Logger) LoggingToastHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LoggingToastHandler{logger: logger}
}

func (handler LoggingToastHandler) Show(message string, toastType ToastType, options ToastOptions) {
	handler.logger.Info("toast",
		zap.String("type", string(toastType)),
		zap.String("message", message),
		zap.String("description", options.Description),
		zap.Duration("duration", options.Duration),
	)
}
