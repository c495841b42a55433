package main

import (
	"flag"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/elskow/folio-auth/internal/app"
	"github.com/elskow/folio-auth/internal/server"
)

func main() {
	configDir := flag.String("config", "", "directory holding config.toml (default ./config/server or FOLIO_CONFIG_DIR)")
	flag.Parse()

	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", server.EnvDevelopment)
	}
	if *configDir != "" {
		os.Setenv("FOLIO_CONFIG_DIR", *configDir)
	}

	logger, err := server.NewLogger(os.Getenv("APP_ENV"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	app := fx.New(
		app.Module(logger),
		// Migrations and the redis ping run in OnStart.
		fx.StartTimeout(time.Minute),
		fx.StopTimeout(30*time.Second),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{
				Logger: log.Named("fx"),
			}
		}),
	)

	app.Run()
}
