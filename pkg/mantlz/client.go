// Package mantlz is the embeddable client for Mantlz forms: it fetches form
// schemas, submits entries and surfaces failures through a pluggable toast
// handler without repeating the same notification.
package mantlz

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the hosted Mantlz API.
	DefaultBaseURL = "https://api.mantlz.com/api/v1"
	// DefaultRedirectDelay leaves a success toast on screen before navigating.
	DefaultRedirectDelay = 1200 * time.Millisecond

	headerAPIKey      = "X-API-Key"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 4 << 20

	unconfiguredDedupKey       = "client_unconfigured"
	unconfiguredWarningMessage = "Mantlz is not configured: set an API key to enable forms."
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

// Navigator performs the browser-level navigation after a redirecting submit.
type Navigator interface {
	Navigate(url string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(url string)

func (navigator NavigatorFunc) Navigate(url string) {
	navigator(url)
}

// Config configures a Client.
type Config struct {
	APIKey                string
	BaseURL               string
	HTTPClient            HTTPDoer
	Logger                *zap.Logger
	ToastHandler          ToastHandler
	DedupStore            DedupStore
	ShowAPIKeyErrorToasts bool
	DisableNotifications  bool
	Navigator             Navigator
	RedirectDelay         time.Duration
}

// Client talks to the Mantlz forms API.
type Client struct {
	apiKey        string
	baseURL       string
	httpClient    HTTPDoer
	logger        *zap.Logger
	notifier      *Notifier
	navigator     Navigator
	redirectDelay time.Duration
}

// NewClient validates the configuration and builds a Client. A missing API key
// fails immediately with ErrMissingAPIKey.
func NewClient(config Config) (*Client, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	redirectDelay := config.RedirectDelay
	if redirectDelay <= 0 {
		redirectDelay = DefaultRedirectDelay
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		notifier: NewNotifier(NotifierConfig{
			ToastHandler:          config.ToastHandler,
			DedupStore:            config.DedupStore,
			ShowAPIKeyErrorToasts: config.ShowAPIKeyErrorToasts,
			Disabled:              config.DisableNotifications,
			Logger:                logger,
		}),
		navigator:     config.Navigator,
		redirectDelay: redirectDelay,
	}, nil
}

// Notifier exposes the client's dedup-aware notifier.
func (client *Client) Notifier() *Notifier {
	return client.notifier
}

// ConfigureNotifications toggles toasts and resets this client's dedup memory.
func (client *Client) ConfigureNotifications(enabled bool, handler ToastHandler) {
	client.notifier.ConfigureNotifications(enabled, handler)
}

// ClientState is either ready with a Client or unconfigured with a reason.
type ClientState struct {
	client *Client
	reason error
}

// ResolveClientState builds a client without failing. An unconfigured state
// shows a single warning toast per dedup store.
func ResolveClientState(ctx context.Context, config Config) ClientState {
	client, clientErr := NewClient(config)
	if clientErr == nil {
		return ClientState{client: client}
	}

	warningNotifier := NewNotifier(NotifierConfig{
		ToastHandler: config.ToastHandler,
		DedupStore:   config.DedupStore,
		Disabled:     config.DisableNotifications,
		Logger:       config.Logger,
	})
	if !warningNotifier.seenBefore(ctx, unconfiguredDedupKey) {
		warningNotifier.NotifyWarning(unconfiguredWarningMessage)
	}
	return ClientState{reason: clientErr}
}

func (state ClientState) Ready() bool {
	return state.client != nil
}

// Client returns the ready client, if any.
func (state ClientState) Client() (*Client, bool) {
	return state.client, state.client != nil
}

// Reason explains why the state is unconfigured.
func (state ClientState) Reason() error {
	return state.reason
}

func (client *Client) endpoint(path string) string {
	return client.baseURL + path
}

func (client *Client) newRequest(ctx context.Context, method string, path string, body io.Reader, contentType string) (*http.Request, error) {
	request, requestErr := http.NewRequestWithContext(ctx, method, client.endpoint(path), body)
	if requestErr != nil {
		return nil, fmt.Errorf("build request: %w", requestErr)
	}
	request.Header.Set(headerAPIKey, client.apiKey)
	request.Header.Set(headerAccept, contentTypeJSON)
	if contentType != "" {
		request.Header.Set(headerContentType, contentType)
	}
	return request, nil
}

// do executes the request and returns status and body. Transport failures are
// returned as classified network errors.
func (client *Client) do(request *http.Request) (int, []byte, *Error) {
	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		client.logger.Warn("mantlz_request_failed", zap.String("path", request.URL.Path), zap.Error(doErr))
		return 0, nil, &Error{Message: doErr.Error(), UserMessage: UserMessageNetworkError}
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if readErr != nil {
		client.logger.Warn("mantlz_response_read_failed", zap.String("path", request.URL.Path), zap.Error(readErr))
		return response.StatusCode, nil, &Error{Message: readErr.Error(), Code: response.StatusCode, UserMessage: UserMessageNetworkError}
	}
	return response.StatusCode, body, nil
}

func isSuccessStatus(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
