package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sony/gobreaker"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
	"github.com/guarzo/wanderer-kills/pkg/metrics"
)

// WebhookEnvelope is the body POSTed to a subscriber's callback URL.
type WebhookEnvelope struct {
	Type      string                     `json:"type"`
	SystemID  int64                      `json:"system_id"`
	Timestamp time.Time                  `json:"timestamp"`
	Kills     []*killmailModels.Killmail `json:"kills"`
}

// WebhookDispatcher POSTs killmail updates to callback URLs with retry
// and a per-URL circuit breaker. A destination that keeps failing trips
// its breaker and is skipped until the cool-down elapses.
type WebhookDispatcher struct {
	httpClient *http.Client
	cfg        config.WebhookConfig
	breakers   *xsync.Map[string, *gobreaker.CircuitBreaker]
}

// NewWebhookDispatcher creates a dispatcher.
func NewWebhookDispatcher(cfg config.WebhookConfig) *WebhookDispatcher {
	return &WebhookDispatcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		breakers:   xsync.NewMap[string, *gobreaker.CircuitBreaker](),
	}
}

func (d *WebhookDispatcher) breaker(url string) *gobreaker.CircuitBreaker {
	cb, _ := d.breakers.LoadOrCompute(url, func() (*gobreaker.CircuitBreaker, bool) {
		settings := gobreaker.Settings{
			Name:    url,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("Webhook circuit state changed", "url", name, "from", from.String(), "to", to.String())
			},
		}
		return gobreaker.NewCircuitBreaker(settings), false
	})
	return cb
}

// Send delivers one killmail update to a callback URL. It retries
// transient failures with exponential backoff; 4xx responses other than
// 408, 425, and 429 are treated as permanent.
func (d *WebhookDispatcher) Send(ctx context.Context, url string, systemID int64, kills []*killmailModels.Killmail) error {
	payload, err := json.Marshal(WebhookEnvelope{
		Type:      "killmail_update",
		SystemID:  systemID,
		Timestamp: time.Now().UTC(),
		Kills:     kills,
	})
	if err != nil {
		return handlers.InternalError("failed to encode webhook payload", err)
	}

	_, err = d.breaker(url).Execute(func() (any, error) {
		return nil, d.sendWithRetry(ctx, url, payload)
	})
	if err != nil {
		metrics.WebhookFailure.Inc()
		return err
	}

	metrics.WebhookSuccess.Inc()
	return nil
}

func (d *WebhookDispatcher) sendWithRetry(ctx context.Context, url string, payload []byte) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = d.cfg.RetryBase
	expo.Multiplier = d.cfg.RetryFactor

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.post(ctx, url, payload)
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries)+1),
	)
	return err
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(handlers.ValidationError("invalid callback url"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "wanderer-kills/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return handlers.TransportError("webhook request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly,
		resp.StatusCode == http.StatusTooManyRequests:
		return handlers.TransportError(fmt.Sprintf("webhook returned retryable status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(handlers.TransportError(
			fmt.Sprintf("webhook rejected with status %d", resp.StatusCode), nil))
	default:
		return handlers.TransportError(fmt.Sprintf("webhook returned status %d", resp.StatusCode), nil)
	}
}
