package app

import (
	"context"
	"log"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/guarzo/wanderer-kills/pkg/cache"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/esi"
	"github.com/guarzo/wanderer-kills/pkg/logging"
	"github.com/guarzo/wanderer-kills/pkg/sde"
	"github.com/guarzo/wanderer-kills/pkg/status"
)

// AppContext holds the shared application context and dependencies.
type AppContext struct {
	Config           *config.Config
	Cache            *cache.NamespacedCache
	ESIClient        *esi.Client
	TelemetryManager *logging.TelemetryManager
	Status           *status.Aggregator
	Scheduler        *cron.Cron
	ServiceName      string

	shutdownFuncs []func(context.Context) error
}

// InitializeApp initializes common application dependencies.
func InitializeApp(serviceName string) (*AppContext, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	ctx := context.Background()
	cfg := config.Load()

	// Initialize telemetry
	telemetryManager := logging.NewTelemetryManager()
	if err := telemetryManager.Initialize(ctx); err != nil {
		log.Printf("Warning: Failed to initialize telemetry: %v", err)
		// Continue without telemetry rather than failing
	}

	c, err := cache.New(cfg.Cache.MaxEntries)
	if err != nil {
		return nil, err
	}
	slog.Info("Cache initialized", "max_entries", cfg.Cache.MaxEntries)

	// Warm the ship type namespace from the bundled data file.
	loader := sde.NewShipTypeLoader(config.GetEnv("SHIP_TYPES_PATH", "data/ship_types.csv"), c, cfg.Cache.ESITTL)
	if _, err := loader.Load(); err != nil {
		slog.Warn("Failed to load ship type data", "error", err)
	}

	appCtx := &AppContext{
		Config:           cfg,
		Cache:            c,
		ESIClient:        esi.NewClient(cfg.ESI, cfg.Enrichment),
		TelemetryManager: telemetryManager,
		Status:           status.NewAggregator(),
		Scheduler:        cron.New(),
		ServiceName:      serviceName,
	}

	appCtx.shutdownFuncs = append(appCtx.shutdownFuncs, func(context.Context) error {
		appCtx.Scheduler.Stop()
		c.Close()
		return nil
	})
	if telemetryManager != nil {
		appCtx.shutdownFuncs = append(appCtx.shutdownFuncs, telemetryManager.Shutdown)
	}

	return appCtx, nil
}

// StartScheduler registers the periodic maintenance jobs and starts the
// cron runner.
func (a *AppContext) StartScheduler() error {
	if _, err := a.Scheduler.AddFunc("@every "+a.Config.Cache.SweepInterval.String(), func() {
		a.Cache.Sweep()
	}); err != nil {
		return err
	}
	if _, err := a.Scheduler.AddFunc("@every "+a.Config.Monitoring.StatusInterval.String(), func() {
		a.Status.LogStatus()
	}); err != nil {
		return err
	}

	a.Scheduler.Start()
	slog.Info("Scheduler started",
		"cache_sweep", a.Config.Cache.SweepInterval,
		"status_interval", a.Config.Monitoring.StatusInterval)
	return nil
}

// Shutdown gracefully shuts down all application dependencies.
func (a *AppContext) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down application", "service", a.ServiceName)

	for _, shutdown := range a.shutdownFuncs {
		if err := shutdown(ctx); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}

	slog.Info("Application shutdown completed", "service", a.ServiceName)
	return nil
}
