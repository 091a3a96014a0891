package server

import (
	"context"
	"fmt"

	"compliance-api/core/cache"
	"compliance-api/core/config"
	"compliance-api/core/database"
	"compliance-api/core/logger"
	"compliance-api/core/metrics"
	"compliance-api/core/storage"
	"compliance-api/modules/notification"
	notificationService "compliance-api/modules/notification/service"
	"compliance-api/modules/xero"
	xeroService "compliance-api/modules/xero/service"
)

// App holds the process-wide dependencies shared by the serve and worker commands.
type App struct {
	Config        *config.Config
	DB            *database.Database
	Cache         cache.Cache
	Metrics       *metrics.Registry
	Notifications *notificationService.NotificationService
	Xero          *xeroService.ConnectionService
}

// NewApp connects to Postgres and Redis and wires the modules. Redis is optional unless
// requireRedis is set or the redis state store is selected.
func NewApp(ctx context.Context, cfg *config.Config, requireRedis bool) (*App, error) {
	db, err := database.InitDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		DB:      db,
		Metrics: metrics.NewRegistry(),
	}

	redisCache, err := cache.NewRedisCache(ctx, cfg.Redis)
	switch {
	case err == nil:
		app.Cache = redisCache
	case requireRedis || cfg.Xero.StateStore == config.StateStoreRedis:
		_ = db.Close()
		return nil, err
	default:
		logger.Warn("App:NewApp:RedisUnavailable", "error", err)
	}

	app.Notifications = notification.NewService(db)

	var archive storage.ObjectStore
	if s3 := storage.NewS3Store(cfg.Storage); s3 != nil {
		archive = s3
	}

	app.Xero, err = xero.NewService(cfg, db, app.Cache, archive, app.Notifications, app.Metrics)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to build xero service: %w", err)
	}
	return app, nil
}

func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			logger.Warn("App:Close:Cache", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("App:Close:Database", "error", err)
		}
	}
}
