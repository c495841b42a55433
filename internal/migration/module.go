package migration

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/config"
)

// Module brings the schema up to date before the rest of the app starts.
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(config *config.AppConfig) (*Migrator, error) {
					return NewMigrator(&config.Database)
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	cfg *config.AppConfig,
	migrator *Migrator,
	logger *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureSchema(ctx, migrator, cfg.Database.AutoMigrate, logger)
		},
		OnStop: func(ctx context.Context) error {
			return migrator.Close()
		},
	})
}

// ensureSchema never downgrades: a database newer than the binary means a
// rollback of the deployment, and dropping auth tables loses every account.
func ensureSchema(ctx context.Context, migrator *Migrator, autoMigrate bool, logger *zap.Logger) error {
	current, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	latest := migrator.LatestVersion()

	logger.Info("Database migration status",
		zap.Int64("current_version", current),
		zap.Int64("latest_version", latest),
		zap.String("dir", migrator.Dir()))

	switch {
	case current == latest:
		return nil
	case current > latest:
		return fmt.Errorf("database schema version %d is newer than this build (%d); run cmd/migrate from the matching release", current, latest)
	case !autoMigrate:
		return fmt.Errorf("database schema version %d is behind %d and auto_migrate is off", current, latest)
	}

	applied, err := migrator.Up(ctx)
	for _, v := range applied {
		logger.Info("applied migration", zap.Int64("version", v))
	}
	if err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	return nil
}
