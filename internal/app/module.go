package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/auth"
	"github.com/elskow/folio-auth/internal/database"
	"github.com/elskow/folio-auth/internal/mailer"
	"github.com/elskow/folio-auth/internal/migration"
	"github.com/elskow/folio-auth/internal/ratelimit"
	"github.com/elskow/folio-auth/internal/server"
)

// Module combines all application modules around an already built logger.
func Module(logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(logger),

		// Configuration
		fx.Provide(server.LoadConfig),

		// Storage: wait for the database, then bring the schema up to date
		database.Module(),
		migration.Module(),

		// Supporting services
		mailer.Module(),
		ratelimit.Module(),

		// Auth Module
		auth.NewModule(),

		// Server
		fx.Provide(server.NewServer),

		// Start the server
		fx.Invoke(registerHooks),
	)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	shutdowner fx.Shutdowner,
	srv *server.Server,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Listen(); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("failed to start server", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server...")
			return srv.Stop(ctx)
		},
	})
}
