package gateway

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries   = 2
	defaultBaseDelay    = 250 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
	minimumRetryBackoff = 10 * time.Millisecond
)

// retryingDoer retries transient failures with exponential backoff and full
// jitter. The final attempt's response is returned as-is for classification.
type retryingDoer struct {
	doer       HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

func (retrying *retryingDoer) Do(request *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= retrying.maxRetries; attempt++ {
		if contextErr := request.Context().Err(); contextErr != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, contextErr
		}

		if attempt > 0 {
			if request.GetBody != nil {
				body, bodyErr := request.GetBody()
				if bodyErr != nil {
					return nil, fmt.Errorf("reset request body: %w", bodyErr)
				}
				request.Body = body
			}
			delay := retrying.backoff(attempt)
			retrying.logger.Debug("gateway_request_retry",
				zap.Int("attempt", attempt),
				zap.String("path", request.URL.Path),
				zap.Duration("delay", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-request.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, request.Context().Err()
			}
		}

		response, doErr := retrying.doer.Do(request)
		if doErr != nil {
			lastErr = doErr
			if request.Context().Err() != nil {
				return nil, doErr
			}
			continue
		}
		if !isRetryableStatus(response.StatusCode) || attempt == retrying.maxRetries {
			return response, nil
		}
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
		lastErr = fmt.Errorf("retryable status %d", response.StatusCode)
	}
	return nil, lastErr
}

func (retrying *retryingDoer) backoff(attempt int) time.Duration {
	exponential := float64(retrying.baseDelay) * math.Pow(2, float64(attempt-1))
	if exponential > float64(retrying.maxDelay) {
		exponential = float64(retrying.maxDelay)
	}
	jittered := time.Duration(rand.Float64() * exponential)
	if jittered < minimumRetryBackoff {
		jittered = minimumRetryBackoff
	}
	return jittered
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
