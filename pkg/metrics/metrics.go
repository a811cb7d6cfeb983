package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest pipeline counters.
var (
	KillmailsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_killmails_received_total",
		Help: "Killmails received from the upstream queue.",
	})
	KillmailsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_killmails_stored_total",
		Help: "Killmails stored in the event store.",
	})
	KillmailsSkippedOld = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_killmails_skipped_old_total",
		Help: "Killmails dropped for being older than the cutoff.",
	})
	KillmailsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_killmails_invalid_total",
		Help: "Killmails rejected by structural validation.",
	})
	KillmailsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_killmails_duplicate_total",
		Help: "Killmails dropped as already-seen ids.",
	})
	EnrichmentFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_enrichment_failed_total",
		Help: "Killmails stored without complete enrichment.",
	})
)

// Poller counters.
var (
	Polls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_stream_polls_total",
		Help: "Long-poll requests issued to the upstream queue.",
	})
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_stream_poll_errors_total",
		Help: "Failed long-poll requests.",
	})
)

// Delivery counters.
var (
	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_deliveries_total",
		Help: "Killmail deliveries handed to subscription workers.",
	})
	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_deliveries_dropped_total",
		Help: "Deliveries dropped because a worker inbox was full.",
	})
	WorkerCrashes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_subscription_worker_crashes_total",
		Help: "Subscription workers that panicked and were cleaned up.",
	})
	WebhookSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_webhook_success_total",
		Help: "Webhook deliveries acknowledged with 2xx.",
	})
	WebhookFailure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_webhook_failure_total",
		Help: "Webhook deliveries that exhausted their retry budget.",
	})
)

// Storage counters.
var (
	OffsetGapSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_offset_gap_skips_total",
		Help: "Events evicted by the per-system cap before a lagging client fetched them.",
	})
	EventsGCed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wanderer_events_gc_total",
		Help: "Events reclaimed by the store garbage collector.",
	})
)

// Gauges.
var (
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wanderer_active_subscriptions",
		Help: "Currently registered subscriptions.",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wanderer_active_websocket_connections",
		Help: "Currently open websocket connections.",
	})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
