package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	killmailServices "github.com/guarzo/wanderer-kills/internal/killmail/services"
	subscriptionServices "github.com/guarzo/wanderer-kills/internal/subscription/services"
	"github.com/guarzo/wanderer-kills/internal/websocket/routes"
	"github.com/guarzo/wanderer-kills/internal/websocket/services"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/module"
)

// Module owns the websocket hub and binds it to the subscription engine
// as the channel transport.
type Module struct {
	*module.BaseModule

	hub    *services.Hub
	routes *routes.Routes

	statsInterval time.Duration
}

// NewModule creates the websocket module and registers the hub as the
// channel sink.
func NewModule(cfg *config.Config, manager *subscriptionServices.Manager, store *killmailServices.EventStore) *Module {
	hub := services.NewHub(manager, store, cfg.Stream.CutoffAge)
	manager.SetChannelSink(hub)

	return &Module{
		BaseModule:    module.NewBaseModule("websocket"),
		hub:           hub,
		routes:        routes.NewRoutes(hub),
		statsInterval: cfg.Monitoring.StatusInterval,
	}
}

// Hub exposes the hub for status aggregation.
func (m *Module) Hub() *services.Hub {
	return m.hub
}

// RegisterUnifiedRoutes registers the websocket info endpoint.
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	m.routes.RegisterRoutes(api, basePath)
	slog.Info("WebSocket routes registered", "base_path", basePath)
}

// RegisterSocket mounts the upgrade endpoint on the raw router. The
// upgrade cannot go through the typed API layer.
func (m *Module) RegisterSocket(r chi.Router) {
	r.Get("/socket", m.hub.HandleConnection)
	slog.Info("WebSocket endpoint registered", "path", "/socket")
}

// StartBackgroundTasks pushes periodic system stats to joined clients.
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	ticker := time.NewTicker(m.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.StopChannel():
			return
		case <-ticker.C:
			m.hub.PushSystemStats()
		}
	}
}
