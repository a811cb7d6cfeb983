// Package status aggregates component health for the /health and
// /status endpoints and the periodic status log line.
package status

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/guarzo/wanderer-kills/pkg/version"
)

// Reporter supplies one component's status snapshot.
type Reporter interface {
	Name() string
	Report() any
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc struct {
	ReporterName string
	Fn           func() any
}

func (r ReporterFunc) Name() string { return r.ReporterName }
func (r ReporterFunc) Report() any  { return r.Fn() }

// Aggregator collects component reports into one status document.
type Aggregator struct {
	mu        sync.RWMutex
	reporters []Reporter
	startedAt time.Time
}

// NewAggregator creates an aggregator anchored at boot time.
func NewAggregator() *Aggregator {
	return &Aggregator{startedAt: time.Now().UTC()}
}

// Register adds a component reporter.
func (a *Aggregator) Register(r Reporter) {
	a.mu.Lock()
	a.reporters = append(a.reporters, r)
	a.mu.Unlock()
}

// HealthResponse is the liveness document.
type HealthResponse struct {
	Status    string    `json:"status" doc:"Always ok while the process serves requests"`
	Version   string    `json:"version" doc:"Service version"`
	Timestamp time.Time `json:"timestamp" doc:"Server time"`
}

// StatusResponse is the full status document.
type StatusResponse struct {
	Service    string         `json:"service" doc:"Service name"`
	Version    string         `json:"version" doc:"Service version"`
	Uptime     string         `json:"uptime" doc:"Time since boot"`
	Timestamp  time.Time      `json:"timestamp" doc:"Server time"`
	Components map[string]any `json:"components" doc:"Per-component status"`
}

// Snapshot builds the full status document.
func (a *Aggregator) Snapshot() StatusResponse {
	a.mu.RLock()
	reporters := append([]Reporter(nil), a.reporters...)
	a.mu.RUnlock()

	components := make(map[string]any, len(reporters))
	for _, r := range reporters {
		components[r.Name()] = r.Report()
	}

	return StatusResponse{
		Service:    "wanderer-kills",
		Version:    version.Get().Version,
		Uptime:     time.Since(a.startedAt).Round(time.Second).String(),
		Timestamp:  time.Now().UTC(),
		Components: components,
	}
}

// LogStatus writes the periodic status line.
func (a *Aggregator) LogStatus() {
	snapshot := a.Snapshot()
	slog.Info("Service status",
		"uptime", snapshot.Uptime,
		"components", len(snapshot.Components))
}

// HealthOutput wraps the liveness document.
type HealthOutput struct {
	Body HealthResponse
}

// StatusOutput wraps the full status document.
type StatusOutput struct {
	Body StatusResponse
}

// RegisterRoutes registers the health and status endpoints.
func (a *Aggregator) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness check",
		Tags:        []string{"Status"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{
			Body: HealthResponse{
				Status:    "ok",
				Version:   version.Get().Version,
				Timestamp: time.Now().UTC(),
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Full service status",
		Description: "Aggregated per-component status: cache, store, stream, subscriptions, websocket",
		Tags:        []string{"Status"},
	}, func(ctx context.Context, input *struct{}) (*StatusOutput, error) {
		return &StatusOutput{Body: a.Snapshot()}, nil
	})
}
