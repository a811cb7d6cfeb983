package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/guarzo/wanderer-kills/internal/subscription/routes"
	"github.com/guarzo/wanderer-kills/internal/subscription/services"
	"github.com/guarzo/wanderer-kills/pkg/cache"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/module"
)

// Module owns the subscription engine: the manager, its worker registry,
// the match indexes, the broadcaster, and the webhook dispatcher.
type Module struct {
	*module.BaseModule

	manager     *services.Manager
	broadcaster *services.Broadcaster
	routes      *routes.Routes

	sweepInterval time.Duration
}

// NewModule creates the subscription module.
func NewModule(cfg *config.Config, c *cache.NamespacedCache) *Module {
	manager := services.NewManager(cfg.Subscription, services.NewWebhookDispatcher(cfg.Webhook))
	broadcaster := services.NewBroadcaster(
		manager.Registry(),
		manager.SystemIndex(),
		manager.CharacterIndex(),
		c,
		cfg.Cache.CharacterExtractionTTL,
	)

	return &Module{
		BaseModule:    module.NewBaseModule("subscription"),
		manager:       manager,
		broadcaster:   broadcaster,
		routes:        routes.NewRoutes(manager),
		sweepInterval: cfg.Subscription.SweepInterval,
	}
}

// Manager exposes subscription CRUD to the websocket module.
func (m *Module) Manager() *services.Manager {
	return m.manager
}

// Broadcaster exposes the fan-out publisher for the event store.
func (m *Module) Broadcaster() *services.Broadcaster {
	return m.broadcaster
}

// RegisterUnifiedRoutes registers the subscription endpoints.
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	m.routes.RegisterRoutes(api, basePath)
	slog.Info("Subscription routes registered", "base_path", basePath)
}

// StartBackgroundTasks compacts the match indexes periodically.
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.StopChannel():
			return
		case <-ticker.C:
			removed := m.manager.SystemIndex().Compact() + m.manager.CharacterIndex().Compact()
			if removed > 0 {
				slog.Debug("Index compaction completed", "removed", removed)
			}
		}
	}
}

// Stop shuts the workers down after the base lifecycle.
func (m *Module) Stop() {
	m.BaseModule.Stop()
	m.manager.Stop()
}
