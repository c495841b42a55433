package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(lifecycle fx.Lifecycle, cfg *config.AppConfig, log *zap.Logger) (Limiter, error) {
					return newLimiter(lifecycle, &cfg.RateLimit, log)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, limiter Limiter, log *zap.Logger) *HTTP {
					var opts []HTTPOption
					if cfg.RateLimit.TrustedProxyHeader != "" {
						opts = append(opts, WithTrustedProxyHeader(cfg.RateLimit.TrustedProxyHeader))
						log.Info("rate limiting by proxy header", zap.String("header", cfg.RateLimit.TrustedProxyHeader))
					}
					return NewHTTP(limiter, cfg.RateLimit.IPLimit, cfg.RateLimit.IPWindow, log, opts...)
				},
			),
		),
	)
}

func newLimiter(lifecycle fx.Lifecycle, cfg *config.RateLimitConfig, log *zap.Logger) (Limiter, error) {
	if cfg.Backend != "redis" {
		limiter := NewMemoryLimiter()
		sweepEvery := max(cfg.IPWindow, cfg.EmailWindow)
		if sweepEvery <= 0 {
			sweepEvery = time.Minute
		}
		stop := make(chan struct{})
		lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					ticker := time.NewTicker(sweepEvery)
					defer ticker.Stop()
					for {
						select {
						case <-ticker.C:
							limiter.Sweep(time.Now().Add(-sweepEvery))
						case <-stop:
							return
						}
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				close(stop)
				return nil
			},
		})
		return limiter, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := NewRedisLimiter(client, "folio:rl:")

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
			}
			log.Info("rate limiter using redis", zap.String("addr", cfg.RedisAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return limiter.Close()
		},
	})

	return limiter, nil
}
