package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
	"github.com/guarzo/wanderer-kills/internal/subscription/models"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
	"github.com/guarzo/wanderer-kills/pkg/metrics"
)

// DeliverFunc pushes matched events to a subscription's transport. It
// runs on the subscription's own worker goroutine; a batch broadcast
// arrives as one combined call.
type DeliverFunc func(ctx context.Context, sub *models.Subscription, records []killmailModels.EventRecord) error

// Registry runs one worker goroutine per subscription. Each worker owns a
// bounded inbox; a full inbox drops the delivery rather than stalling the
// broadcast path. A panicking worker takes down only its own
// subscription.
type Registry struct {
	cfg config.SubscriptionConfig

	mu      sync.RWMutex
	workers map[string]*worker

	// onCrash cleans external state (indexes) for a crashed worker.
	onCrash func(subscriptionID string)
}

type worker struct {
	sub     *models.Subscription
	deliver DeliverFunc
	inbox   chan []killmailModels.EventRecord
	stop    chan struct{}
	done    chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.SubscriptionConfig) *Registry {
	return &Registry{
		cfg:     cfg,
		workers: make(map[string]*worker),
	}
}

// SetCrashHandler installs the cleanup hook run when a worker panics.
func (r *Registry) SetCrashHandler(fn func(subscriptionID string)) {
	r.onCrash = fn
}

// Register starts a worker for the subscription. The subscription id must
// be unused.
func (r *Registry) Register(sub *models.Subscription, deliver DeliverFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[sub.ID]; exists {
		return handlers.ValidationError("subscription id already registered")
	}

	w := &worker{
		sub:     sub,
		deliver: deliver,
		inbox:   make(chan []killmailModels.EventRecord, r.cfg.InboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.workers[sub.ID] = w
	metrics.ActiveSubscriptions.Inc()

	go r.run(w)
	return nil
}

func (r *Registry) run(w *worker) {
	defer close(w.done)
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		metrics.WorkerCrashes.Inc()
		slog.Error("Subscription worker crashed",
			"subscription_id", w.sub.ID, "panic", rec)

		r.mu.Lock()
		delete(r.workers, w.sub.ID)
		r.mu.Unlock()
		metrics.ActiveSubscriptions.Dec()

		if r.onCrash != nil {
			r.onCrash(w.sub.ID)
		}
	}()

	ctx := context.Background()
	for {
		select {
		case <-w.stop:
			r.drain(ctx, w)
			return
		case records := <-w.inbox:
			r.deliverRecords(ctx, w, records)
		}
	}
}

// drain flushes whatever is still queued, bounded by the drain timeout.
func (r *Registry) drain(ctx context.Context, w *worker) {
	deadline := time.NewTimer(r.cfg.DrainTimeout)
	defer deadline.Stop()

	for {
		select {
		case records := <-w.inbox:
			r.deliverRecords(ctx, w, records)
		case <-deadline.C:
			return
		default:
			return
		}
	}
}

func (r *Registry) deliverRecords(ctx context.Context, w *worker, records []killmailModels.EventRecord) {
	if err := w.deliver(ctx, w.sub, records); err != nil {
		slog.Warn("Delivery failed",
			"subscription_id", w.sub.ID,
			"kills", len(records),
			"error", err)
	}
}

// Enqueue hands one event to a subscription's worker. A full inbox drops
// the event; the subscriber catches up via the REST backfill endpoints.
func (r *Registry) Enqueue(subscriptionID string, record killmailModels.EventRecord) bool {
	return r.EnqueueBatch(subscriptionID, []killmailModels.EventRecord{record})
}

// EnqueueBatch hands a combined batch of events to a subscription's
// worker as a single inbox message. A full inbox drops the whole batch.
func (r *Registry) EnqueueBatch(subscriptionID string, records []killmailModels.EventRecord) bool {
	if len(records) == 0 {
		return false
	}

	r.mu.RLock()
	w, ok := r.workers[subscriptionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case w.inbox <- records:
		metrics.Deliveries.Add(float64(len(records)))
		return true
	default:
		metrics.DeliveriesDropped.Add(float64(len(records)))
		slog.Warn("Delivery dropped, inbox full",
			"subscription_id", subscriptionID,
			"kills", len(records))
		return false
	}
}

// Unregister stops a subscription's worker and waits for it to drain.
func (r *Registry) Unregister(subscriptionID string) bool {
	r.mu.Lock()
	w, ok := r.workers[subscriptionID]
	if ok {
		delete(r.workers, subscriptionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	close(w.stop)
	select {
	case <-w.done:
	case <-time.After(r.cfg.DrainTimeout + time.Second):
		slog.Warn("Subscription worker did not drain in time", "subscription_id", subscriptionID)
	}
	metrics.ActiveSubscriptions.Dec()
	return true
}

// Get returns a registered subscription by id.
func (r *Registry) Get(subscriptionID string) (*models.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[subscriptionID]
	if !ok {
		return nil, false
	}
	return w.sub, true
}

// List returns the subscriptions owned by a subscriber, or all of them
// when subscriberID is empty.
func (r *Registry) List(subscriberID string) []*models.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Subscription, 0, len(r.workers))
	for _, w := range r.workers {
		if subscriberID == "" || w.sub.SubscriberID == subscriberID {
			out = append(out, w.sub)
		}
	}
	return out
}

// Len returns the number of live workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// StopAll unregisters every subscription. Used at shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}
