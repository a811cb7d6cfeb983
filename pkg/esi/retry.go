package esi

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/guarzo/wanderer-kills/pkg/handlers"
)

// RetryClient issues an HTTP request with a bounded retry budget.
type RetryClient interface {
	DoWithRetry(ctx context.Context, req *http.Request, maxRetries int) (*http.Response, error)
}

// DefaultRetryClient implements retry logic with exponential backoff.
// Network errors and 5xx/429 responses are retried; 429 honors the
// Retry-After header when the upstream provides one.
type DefaultRetryClient struct {
	httpClient *http.Client
	base       time.Duration
	factor     float64
}

// NewDefaultRetryClient creates a retry client over httpClient. base is the
// first backoff interval; it grows by factor per attempt.
func NewDefaultRetryClient(httpClient *http.Client, base time.Duration, factor float64) *DefaultRetryClient {
	if base <= 0 {
		base = time.Second
	}
	if factor < 1 {
		factor = 2.0
	}
	return &DefaultRetryClient{httpClient: httpClient, base: base, factor: factor}
}

// DoWithRetry makes an HTTP request with retry logic and proper error handling
func (r *DefaultRetryClient) DoWithRetry(ctx context.Context, req *http.Request, maxRetries int) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		reqClone := req.Clone(ctx)

		resp, err = r.httpClient.Do(reqClone)
		if err != nil {
			if attempt == maxRetries {
				return nil, handlers.TransportError(
					fmt.Sprintf("request failed after %d attempts", maxRetries+1), err)
			}
			if waitErr := r.wait(ctx, r.backoff(attempt)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			status := resp.StatusCode
			retryAfter := parseRetryAfter(resp.Header)
			resp.Body.Close() // Close body before retry

			if attempt == maxRetries {
				if status == http.StatusTooManyRequests {
					return nil, handlers.RateLimitError("upstream rate limit exhausted retry budget", retryAfter)
				}
				return nil, handlers.TransportError(
					fmt.Sprintf("request failed with status %d after %d attempts", status, maxRetries+1), nil)
			}

			delay := r.backoff(attempt)
			if status == http.StatusTooManyRequests && retryAfter > 0 {
				delay = retryAfter
			}
			slog.WarnContext(ctx, "Upstream error requires backoff",
				"status_code", status,
				"attempt", attempt,
				"backoff_duration", delay.String())
			if waitErr := r.wait(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		break
	}

	return resp, nil
}

func (r *DefaultRetryClient) backoff(attempt int) time.Duration {
	d := time.Duration(float64(r.base) * math.Pow(r.factor, float64(attempt)))
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

func (r *DefaultRetryClient) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return handlers.TimeoutError("request cancelled during backoff", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

func parseRetryAfter(headers http.Header) time.Duration {
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
