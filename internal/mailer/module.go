package mailer

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger) (Sender, error) {
					if cfg.Mail.Transport == "smtp" {
						return NewSMTPSender(&cfg.Mail)
					}
					log.Warn("mail transport is log; one-time codes will be written to the log")
					return NewLogSender(log), nil
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, sender Sender, log *zap.Logger) *Dispatcher {
					return NewDispatcher(sender, cfg.Mail.Timeout, log)
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, dispatcher *Dispatcher, log *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("waiting for in-flight mail deliveries")
			err := dispatcher.Wait(ctx)
			stats := dispatcher.Stats()
			log.Info("mail delivery totals",
				zap.Int("sent", stats.Sent),
				zap.Int("failed", stats.Failed))
			return err
		},
	})
}
