package database

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/config"
)

const (
	readyAttempts = 5
	readyBackoff  = 500 * time.Millisecond
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			func(cfg *config.AppConfig, logger *zap.Logger) (*Manager, error) {
				return NewManager(&cfg.Database, logger)
			},
			(*Manager).DB,
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, manager *Manager, logger *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return manager.WaitReady(ctx, readyAttempts, readyBackoff)
		},
		OnStop: func(ctx context.Context) error {
			if sqlDB, err := manager.db.DB(); err == nil {
				stats := sqlDB.Stats()
				logger.Info("Closing database connections",
					zap.Int("open", stats.OpenConnections),
					zap.Int64("wait_count", stats.WaitCount))
			}
			return manager.Close()
		},
	})
}
