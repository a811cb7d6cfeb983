package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "go.uber.org/automaxprocs"

	"github.com/guarzo/wanderer-kills/internal/killmail"
	"github.com/guarzo/wanderer-kills/internal/subscription"
	"github.com/guarzo/wanderer-kills/internal/websocket"
	"github.com/guarzo/wanderer-kills/internal/zkillboard"
	"github.com/guarzo/wanderer-kills/pkg/app"
	"github.com/guarzo/wanderer-kills/pkg/metrics"
	"github.com/guarzo/wanderer-kills/pkg/module"
	"github.com/guarzo/wanderer-kills/pkg/status"
	"github.com/guarzo/wanderer-kills/pkg/version"
)

const apiBasePath = "/api/v1"

func main() {
	log.Printf("wanderer-kills %s starting", version.GetVersionString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appCtx, err := app.InitializeApp("wanderer-kills")
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	cfg := appCtx.Config

	// Modules. The killmail module owns the store and enricher; the
	// others hang off it.
	killmailModule := killmail.NewModule(cfg, appCtx.Cache, appCtx.ESIClient)
	subscriptionModule := subscription.NewModule(cfg, appCtx.Cache)
	websocketModule := websocket.NewModule(cfg, subscriptionModule.Manager(), killmailModule.Store())
	zkillboardModule := zkillboard.NewModule(cfg, appCtx.Cache, appCtx.ESIClient,
		killmailModule.Enricher(), killmailModule.Store())

	// Stored events fan out through the subscription broadcaster.
	killmailModule.Store().SetPublisher(subscriptionModule.Broadcaster())

	registerStatusReporters(appCtx, killmailModule, subscriptionModule, websocketModule, zkillboardModule)

	modules := []module.Module{killmailModule, subscriptionModule, websocketModule, zkillboardModule}
	for _, mod := range modules {
		go mod.StartBackgroundTasks(ctx)
		slog.Info("Module started", "module", mod.Name())
	}

	if err := appCtx.StartScheduler(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	var srv *http.Server
	if cfg.Headless {
		slog.Info("Running headless, HTTP surface disabled")
	} else {
		srv = buildServer(appCtx, modules, websocketModule)
		go func() {
			slog.Info("Starting server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Server failed to start", "error", err)
				os.Exit(1)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Received shutdown signal, initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
	}

	for _, mod := range modules {
		mod.Stop()
	}

	appCtx.Shutdown(shutdownCtx)
	slog.Info("Shutdown completed")
}

func buildServer(appCtx *app.AppContext, modules []module.Module, websocketModule *websocket.Module) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	humaConfig := huma.DefaultConfig("Wanderer Kills API", version.Get().Version)
	humaConfig.Info.Description = "Real-time killmail distribution service"
	api := humachi.New(r, humaConfig)

	appCtx.Status.RegisterRoutes(api)
	for _, mod := range modules {
		mod.RegisterUnifiedRoutes(api, apiBasePath)
	}
	websocketModule.RegisterSocket(r)
	r.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:         appCtx.Config.Host + ":" + appCtx.Config.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func registerStatusReporters(
	appCtx *app.AppContext,
	killmailModule *killmail.Module,
	subscriptionModule *subscription.Module,
	websocketModule *websocket.Module,
	zkillboardModule *zkillboard.Module,
) {
	appCtx.Status.Register(status.ReporterFunc{ReporterName: "cache", Fn: func() any {
		return appCtx.Cache.Stats()
	}})
	appCtx.Status.Register(status.ReporterFunc{ReporterName: "store", Fn: func() any {
		return killmailModule.Store().Stats()
	}})
	appCtx.Status.Register(status.ReporterFunc{ReporterName: "stream", Fn: func() any {
		return zkillboardModule.Consumer().Status()
	}})
	appCtx.Status.Register(status.ReporterFunc{ReporterName: "subscriptions", Fn: func() any {
		return subscriptionModule.Manager().Stats()
	}})
	appCtx.Status.Register(status.ReporterFunc{ReporterName: "websocket", Fn: func() any {
		return map[string]any{"active_connections": websocketModule.Hub().ConnectionCount()}
	}})
}
