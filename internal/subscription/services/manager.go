package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	killmailModels "github.com/guarzo/wanderer-kills/internal/killmail/models"
	"github.com/guarzo/wanderer-kills/internal/subscription/models"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
)

// ChannelSink delivers matched events to a live websocket channel. The
// websocket module registers itself here at boot. A batch broadcast
// arrives as one combined call.
type ChannelSink interface {
	DeliverKillmails(sub *models.Subscription, records []killmailModels.EventRecord) error
}

// CreateParams are the inputs for registering a subscription.
type CreateParams struct {
	SubscriberID string           `validate:"required"`
	SystemIDs    []int64          `validate:"dive,gt=0"`
	CharacterIDs []int64          `validate:"dive,gt=0"`
	Transport    models.Transport `validate:"required,oneof=channel webhook"`
	CallbackURL  string           `validate:"omitempty,url"`
}

// Manager owns the subscription lifecycle: validation, worker
// registration, index maintenance, and transport binding.
type Manager struct {
	cfg        config.SubscriptionConfig
	registry   *Registry
	systems    *EntityIndex[int64]
	characters *EntityIndex[int64]
	webhooks   *WebhookDispatcher
	validate   *validator.Validate

	mu          sync.RWMutex
	channelSink ChannelSink
}

// NewManager creates a manager and wires the crash handler so a dead
// worker's index entries are reclaimed.
func NewManager(cfg config.SubscriptionConfig, webhooks *WebhookDispatcher) *Manager {
	m := &Manager{
		cfg:        cfg,
		registry:   NewRegistry(cfg),
		systems:    NewEntityIndex[int64](),
		characters: NewEntityIndex[int64](),
		webhooks:   webhooks,
		validate:   validator.New(),
	}
	m.registry.SetCrashHandler(func(subscriptionID string) {
		m.systems.Remove(subscriptionID)
		m.characters.Remove(subscriptionID)
	})
	return m
}

// SetChannelSink binds the live channel transport. Called once at boot by
// the websocket module.
func (m *Manager) SetChannelSink(sink ChannelSink) {
	m.mu.Lock()
	m.channelSink = sink
	m.mu.Unlock()
}

// Registry exposes the worker registry to the broadcaster.
func (m *Manager) Registry() *Registry { return m.registry }

// SystemIndex exposes the system filter index to the broadcaster.
func (m *Manager) SystemIndex() *EntityIndex[int64] { return m.systems }

// CharacterIndex exposes the character filter index to the broadcaster.
func (m *Manager) CharacterIndex() *EntityIndex[int64] { return m.characters }

func (m *Manager) checkLimits(systemIDs, characterIDs []int64) error {
	if len(systemIDs) > m.cfg.MaxSystems {
		return handlers.ValidationError(
			fmt.Sprintf("subscription exceeds the %d system limit", m.cfg.MaxSystems))
	}
	if len(characterIDs) > m.cfg.MaxCharacters {
		return handlers.ValidationError(
			fmt.Sprintf("subscription exceeds the %d character limit", m.cfg.MaxCharacters))
	}
	return nil
}

// Create validates and registers a new subscription, starting its worker.
func (m *Manager) Create(params CreateParams) (*models.Subscription, error) {
	if err := m.validate.Struct(params); err != nil {
		return nil, handlers.ValidationError(err.Error())
	}
	if len(params.SystemIDs) == 0 && len(params.CharacterIDs) == 0 {
		return nil, handlers.ValidationError("subscription needs at least one system or character filter")
	}
	if err := m.checkLimits(params.SystemIDs, params.CharacterIDs); err != nil {
		return nil, err
	}
	if params.Transport == models.TransportWebhook && params.CallbackURL == "" {
		return nil, handlers.ValidationError("webhook subscriptions require a callback url")
	}

	sub := &models.Subscription{
		ID:           ulid.Make().String(),
		SubscriberID: params.SubscriberID,
		SystemIDs:    dedupe(params.SystemIDs),
		CharacterIDs: dedupe(params.CharacterIDs),
		Transport:    params.Transport,
		CallbackURL:  params.CallbackURL,
		CreatedAt:    time.Now().UTC(),
	}

	if err := m.registry.Register(sub, m.deliverFunc(sub)); err != nil {
		return nil, err
	}
	m.systems.Put(sub.ID, sub.SystemIDs)
	m.characters.Put(sub.ID, sub.CharacterIDs)

	slog.Info("Subscription created",
		"subscription_id", sub.ID,
		"subscriber_id", sub.SubscriberID,
		"transport", sub.Transport,
		"systems", len(sub.SystemIDs),
		"characters", len(sub.CharacterIDs))
	return sub, nil
}

func (m *Manager) deliverFunc(sub *models.Subscription) DeliverFunc {
	if sub.Transport == models.TransportWebhook {
		// The webhook envelope is per system, so a combined batch goes
		// out as one POST per system it spans.
		return func(ctx context.Context, s *models.Subscription, records []killmailModels.EventRecord) error {
			perSystem := make(map[int64][]*killmailModels.Killmail)
			for _, record := range records {
				perSystem[record.SystemID] = append(perSystem[record.SystemID], record.Killmail)
			}
			for systemID, kills := range perSystem {
				if err := m.webhooks.Send(ctx, s.CallbackURL, systemID, kills); err != nil {
					return err
				}
			}
			return nil
		}
	}

	return func(_ context.Context, s *models.Subscription, records []killmailModels.EventRecord) error {
		m.mu.RLock()
		sink := m.channelSink
		m.mu.RUnlock()
		if sink == nil {
			return handlers.InternalError("no channel sink registered", nil)
		}
		return sink.DeliverKillmails(s, records)
	}
}

// UpdateFilters replaces a subscription's filters. An update emptying
// both dimensions is rejected.
func (m *Manager) UpdateFilters(subscriptionID string, systemIDs, characterIDs []int64) (*models.Subscription, error) {
	if len(systemIDs) == 0 && len(characterIDs) == 0 {
		return nil, handlers.ValidationError("subscription needs at least one system or character filter")
	}
	if err := m.checkLimits(systemIDs, characterIDs); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.registry.Get(subscriptionID)
	if !ok {
		return nil, handlers.NotFoundError("subscription not found")
	}

	sub.SystemIDs = dedupe(systemIDs)
	sub.CharacterIDs = dedupe(characterIDs)
	m.systems.Put(subscriptionID, sub.SystemIDs)
	m.characters.Put(subscriptionID, sub.CharacterIDs)
	return sub, nil
}

// Get returns a subscription by id.
func (m *Manager) Get(subscriptionID string) (*models.Subscription, error) {
	sub, ok := m.registry.Get(subscriptionID)
	if !ok {
		return nil, handlers.NotFoundError("subscription not found")
	}
	return sub, nil
}

// List returns the subscriptions owned by a subscriber, or all of them
// when subscriberID is empty.
func (m *Manager) List(subscriberID string) []*models.Subscription {
	return m.registry.List(subscriberID)
}

// Delete stops a subscription's worker and unlinks its filters.
func (m *Manager) Delete(subscriptionID string) error {
	if !m.registry.Unregister(subscriptionID) {
		return handlers.NotFoundError("subscription not found")
	}
	m.systems.Remove(subscriptionID)
	m.characters.Remove(subscriptionID)
	slog.Info("Subscription deleted", "subscription_id", subscriptionID)
	return nil
}

// Stop shuts down every worker. Used at shutdown.
func (m *Manager) Stop() {
	m.registry.StopAll()
}

// ManagerStats is a snapshot of subscription engine occupancy.
type ManagerStats struct {
	Active     int        `json:"active"`
	Systems    IndexStats `json:"systems"`
	Characters IndexStats `json:"characters"`
}

// Stats returns a snapshot of subscription engine occupancy.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Active:     m.registry.Len(),
		Systems:    m.systems.Stats(),
		Characters: m.characters.Stats(),
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
