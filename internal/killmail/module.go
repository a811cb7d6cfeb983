package killmail

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/guarzo/wanderer-kills/internal/killmail/routes"
	"github.com/guarzo/wanderer-kills/internal/killmail/services"
	"github.com/guarzo/wanderer-kills/pkg/cache"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/esi"
	"github.com/guarzo/wanderer-kills/pkg/module"
)

// Module owns the in-memory event store, the enrichment service, and the
// killmail read endpoints.
type Module struct {
	*module.BaseModule

	store    *services.EventStore
	enricher *services.Enricher
	routes   *routes.Routes

	gcInterval time.Duration
}

// NewModule creates the killmail module.
func NewModule(cfg *config.Config, c *cache.NamespacedCache, esiClient esi.MetadataClient) *Module {
	store := services.NewEventStore(cfg.Storage.MaxEventsPerSystem, cfg.Storage.EnableEventStreaming)
	enricher := services.NewEnricher(esiClient, c, cfg.Enrichment, cfg.Cache)

	return &Module{
		BaseModule: module.NewBaseModule("killmail"),
		store:      store,
		enricher:   enricher,
		routes:     routes.NewRoutes(store, c, cfg.Cache),
		gcInterval: cfg.Storage.GCInterval,
	}
}

// Store exposes the event store to sibling modules.
func (m *Module) Store() *services.EventStore {
	return m.store
}

// Enricher exposes the enrichment service to the ingest pipeline.
func (m *Module) Enricher() *services.Enricher {
	return m.enricher
}

// RegisterUnifiedRoutes registers the killmail read endpoints.
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	m.routes.RegisterRoutes(api, basePath)
	slog.Info("Killmail routes registered", "base_path", basePath)
}

// StartBackgroundTasks runs the periodic event store GC.
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	ticker := time.NewTicker(m.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.StopChannel():
			return
		case <-ticker.C:
			m.store.GC()
		}
	}
}
