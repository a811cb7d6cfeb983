package zkillboard

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	killmailServices "github.com/guarzo/wanderer-kills/internal/killmail/services"
	"github.com/guarzo/wanderer-kills/internal/zkillboard/routes"
	"github.com/guarzo/wanderer-kills/internal/zkillboard/services"
	"github.com/guarzo/wanderer-kills/pkg/cache"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/esi"
	"github.com/guarzo/wanderer-kills/pkg/module"
)

// Module owns the RedisQ consumer and ingest pipeline.
type Module struct {
	*module.BaseModule

	consumer *services.Consumer
	pipeline *services.Pipeline
	routes   *routes.Routes
}

// NewModule creates the zkillboard module.
func NewModule(
	cfg *config.Config,
	c *cache.NamespacedCache,
	killmails esi.KillmailClient,
	enricher *killmailServices.Enricher,
	store *killmailServices.EventStore,
) *Module {
	pipeline := services.NewPipeline(killmails, enricher, store, c, cfg.Stream.CutoffAge, cfg.Cache)
	consumer := services.NewConsumer(pipeline, cfg.Stream)

	return &Module{
		BaseModule: module.NewBaseModule("zkillboard"),
		consumer:   consumer,
		pipeline:   pipeline,
		routes:     routes.NewRoutes(consumer),
	}
}

// Consumer exposes the poller for status aggregation.
func (m *Module) Consumer() *services.Consumer {
	return m.consumer
}

// RegisterUnifiedRoutes registers the stream status endpoint.
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	m.routes.RegisterRoutes(api, basePath)
	slog.Info("Stream routes registered", "base_path", basePath)
}

// StartBackgroundTasks starts the poll loop and keeps it alive until the
// context is cancelled or the module is stopped.
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	if err := m.consumer.Start(ctx); err != nil {
		slog.Error("Failed to start RedisQ consumer", "error", err)
		return
	}

	select {
	case <-ctx.Done():
	case <-m.StopChannel():
	}
	m.consumer.Stop()
}
