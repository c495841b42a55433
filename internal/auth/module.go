package auth

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/config"
	"github.com/elskow/folio-auth/internal/mailer"
	"github.com/elskow/folio-auth/internal/ratelimit"
)

// NewModule wires the auth service, its gorm repository and HTTP surface.
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			NewRepository,
			newService,
			NewHandler,
			NewAuthMiddleware,
		),
		fx.Invoke(registerHooks),
	)
}

func newService(cfg *config.AppConfig, log *zap.Logger, repo Repository, dispatcher *mailer.Dispatcher, limiter ratelimit.Limiter) *Service {
	return NewService(&cfg.Auth, log.Named("auth"), repo, dispatcher,
		WithEmailLimiter(limiter, cfg.RateLimit))
}

// registerHooks clears challenges left over from before a restart and lets
// in-flight reset deliveries finish on shutdown.
func registerHooks(lifecycle fx.Lifecycle, svc *Service, log *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			purged, err := svc.PurgeExpiredChallenges(ctx)
			if err != nil {
				log.Warn("failed to purge expired challenges", zap.Error(err))
				return nil
			}
			log.Info("expired challenges purged", zap.Int64("count", purged))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := svc.Wait(ctx); err != nil {
				log.Warn("background auth tasks still running at shutdown", zap.Error(err))
			}
			return nil
		},
	})
}
