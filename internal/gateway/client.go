// Package gateway calls the Mantlz forms backend on behalf of the dashboard.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/normalize"
	"github.com/MarkoPoloResearchLab/mantlz/pkg/mantlz"
)

const (
	submissionLogsPath    = "/forms/submissions"
	searchSubmissionsPath = "/forms/searchSubmissions"
	userFormsPath         = "/forms/userForms"

	headerAPIKey    = "X-API-Key"
	headerAccept    = "Accept"
	contentTypeJSON = "application/json"

	queryParameterLimit = "limit"

	defaultHTTPTimeout = 15 * time.Second
	maxResponseBytes   = 8 << 20

	errorMessageRequestFailed = "gateway request failed"
	errorMessageReadResponse  = "read gateway response"
	errorMessageDecodeForms   = "decode user forms"
)

var (
	ErrMissingAPIKey  = errors.New("gateway: api key is required")
	ErrMissingBaseURL = errors.New("gateway: base url is required")
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

// Config configures a Client. MaxRetries below zero disables retries; zero
// uses the default.
type Config struct {
	BaseURL        string
	APIKey         string
	HTTPClient     HTTPDoer
	MaxRetries     int
	RetryBaseDelay time.Duration
	Logger         *zap.Logger
}

// Client issues authenticated requests against the forms backend.
type Client struct {
	baseURL string
	apiKey  string
	doer    HTTPDoer
	logger  *zap.Logger
}

// NewClient validates configuration eagerly so misconfiguration surfaces at
// startup rather than on the first search.
func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	maxRetries := config.MaxRetries
	switch {
	case maxRetries < 0:
		maxRetries = 0
	case maxRetries == 0:
		maxRetries = defaultMaxRetries
	}
	baseDelay := config.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		doer: &retryingDoer{
			doer:       httpClient,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   defaultMaxDelay,
			logger:     logger,
		},
		logger: logger,
	}, nil
}

// WithAPIKey returns a copy of the client that authenticates as another caller.
// A blank key keeps the current credential.
func (client *Client) WithAPIKey(apiKey string) *Client {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return client
	}
	clone := *client
	clone.apiKey = trimmedKey
	return &clone
}

// SubmissionLogs fetches one form's submissions and returns the raw body.
func (client *Client) SubmissionLogs(ctx context.Context, parameters url.Values) ([]byte, error) {
	return client.get(ctx, submissionLogsPath, parameters)
}

// SearchSubmissions runs the backend's cross-form search and returns the raw body.
func (client *Client) SearchSubmissions(ctx context.Context, parameters url.Values) ([]byte, error) {
	return client.get(ctx, searchSubmissionsPath, parameters)
}

// UserForms lists the caller's forms.
func (client *Client) UserForms(ctx context.Context, limit int) ([]model.Form, error) {
	parameters := url.Values{}
	if limit > 0 {
		parameters.Set(queryParameterLimit, strconv.Itoa(limit))
	}
	body, requestErr := client.get(ctx, userFormsPath, parameters)
	if requestErr != nil {
		return nil, requestErr
	}
	envelope, decodeErr := normalize.DecodeEnvelope(body)
	if decodeErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageDecodeForms, decodeErr)
	}
	return normalize.DecodeForms(client.logger, envelope.Forms), nil
}

func (client *Client) get(ctx context.Context, path string, parameters url.Values) ([]byte, error) {
	endpoint := client.baseURL + path
	if encoded := parameters.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if requestErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageRequestFailed, requestErr)
	}
	request.Header.Set(headerAPIKey, client.apiKey)
	request.Header.Set(headerAccept, contentTypeJSON)

	response, doErr := client.doer.Do(request)
	if doErr != nil {
		client.logger.Warn("gateway_request_failed", zap.String("path", path), zap.Error(doErr))
		return nil, fmt.Errorf("%s: %w", errorMessageRequestFailed, doErr)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if readErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageReadResponse, readErr)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiErr := mantlz.ClassifyError(response.StatusCode, body)
		client.logger.Info("gateway_request_rejected",
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return nil, apiErr
	}
	return body, nil
}
