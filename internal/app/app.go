// Package app is the dependency container: it builds every service and
// handler in startup order and owns their lifecycles.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/common"
	"github.com/freva-org/freva-rest/internal/handlers"
	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/services/auth"
	"github.com/freva-org/freva-rest/internal/services/cache"
	"github.com/freva-org/freva-rest/internal/services/flavour"
	"github.com/freva-org/freva-rest/internal/services/search"
	"github.com/freva-org/freva-rest/internal/services/stats"
	"github.com/freva-org/freva-rest/internal/services/zarr"
	mongostore "github.com/freva-org/freva-rest/internal/storage/mongo"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Backends
	Store        interfaces.MetadataStore
	CacheService *cache.Service

	// Core services
	FlavourService interfaces.FlavourService
	SearchService  interfaces.SearchService
	ZarrService    interfaces.ZarrService
	AuthService    interfaces.AuthService
	StatsService   *stats.Service

	// HTTP handlers
	APIHandler         *handlers.APIHandler
	DatabrowserHandler *handlers.DatabrowserHandler
	FlavourHandler     *handlers.FlavourHandler
	StacHandler        *handlers.StacHandler
	ZarrHandler        *handlers.ZarrHandler
	AuthHandler        *handlers.AuthHandler

	maintenance *cron.Cron
}

// New initializes the application with all dependencies
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	store, err := mongostore.NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}
	app.Store = store

	cacheService, err := cache.NewService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache client: %w", err)
	}
	app.CacheService = cacheService

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := cacheService.Ping(pingCtx); err != nil {
		// Zarr streaming degrades, the rest of the service still works.
		logger.Warn().Err(err).Msg("Cache/broker unreachable at startup")
	}
	cancel()

	authService, err := auth.NewService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth mediator: %w", err)
	}
	app.AuthService = authService

	flavourService, err := flavour.NewService(ctx, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize flavour registry: %w", err)
	}
	app.FlavourService = flavourService

	app.SearchService = search.NewService(cfg, logger)
	app.ZarrService = zarr.NewService(cfg, cacheService, logger)
	app.StatsService = stats.NewService(store, cfg.Stats.QueueSize, logger)

	app.APIHandler = handlers.NewAPIHandler(cfg, logger)
	app.DatabrowserHandler = handlers.NewDatabrowserHandler(
		app.SearchService, app.FlavourService, app.AuthService, app.ZarrService,
		app.StatsService, cfg, logger)
	app.FlavourHandler = handlers.NewFlavourHandler(app.FlavourService, app.AuthService, logger)
	app.StacHandler = handlers.NewStacHandler(app.SearchService, cfg, logger)
	app.ZarrHandler = handlers.NewZarrHandler(app.ZarrService, app.AuthService, cfg, logger)
	app.AuthHandler = handlers.NewAuthHandler(app.AuthService, cfg, logger)

	app.startMaintenance()

	return app, nil
}

// startMaintenance schedules the periodic background work: discovery/JWKS
// refresh and the expired-job sweep.
func (a *App) startMaintenance() {
	a.maintenance = cron.New()

	a.maintenance.AddFunc("@every 10m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.AuthService.Refresh(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduled OIDC refresh failed")
		}
	})

	a.maintenance.AddFunc("@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := a.ZarrService.SweepExpired(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Zarr expiry sweep failed")
		}
	})

	a.maintenance.Start()
}

// RunStats drains the statistics queue until ctx is cancelled.
func (a *App) RunStats(ctx context.Context) error {
	return a.StatsService.Run(ctx)
}

// Close releases backend connections and stops the maintenance scheduler.
func (a *App) Close(ctx context.Context) error {
	if a.maintenance != nil {
		a.maintenance.Stop()
	}
	var firstErr error
	if err := a.CacheService.Close(); err != nil {
		firstErr = err
	}
	if err := a.Store.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
