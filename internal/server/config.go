package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/elskow/folio-auth/internal/config"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

const defaultConfigDir = "./config/server"

// developmentSecret is the signing key committed in config/server/config.toml.
// It is public, so production refuses to sign with it.
const developmentSecret = "development-only-secret-change-me"

func LoadConfig() (*config.AppConfig, error) {
	dir := os.Getenv("FOLIO_CONFIG_DIR")
	if dir == "" {
		dir = defaultConfigDir
	}
	return LoadConfigFrom(dir)
}

// LoadConfigFrom reads config.toml from dir, applies the section for the
// current APP_ENV and finally overlays secrets from the environment.
func LoadConfigFrom(dir string) (*config.AppConfig, error) {
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = EnvDevelopment
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg config.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Load environment-specific configurations
	for _, section := range []struct {
		key    string
		target any
	}{
		{"auth", &cfg.Auth},
		{"mail", &cfg.Mail},
		{"database", &cfg.Database},
		{"rate_limit", &cfg.RateLimit},
	} {
		key := fmt.Sprintf("%s.%s", section.key, appEnv)
		if envSettings := v.GetStringMap(key); len(envSettings) > 0 {
			if err := v.UnmarshalKey(key, section.target); err != nil {
				return nil, fmt.Errorf("error unmarshaling env config: %w", err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing env overrides: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "folio.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.issuer", "folio-auth")
	v.SetDefault("auth.access_token_duration", 15*time.Minute)
	v.SetDefault("auth.refresh_token_duration", 7*24*time.Hour)
	v.SetDefault("auth.refresh_token_enabled", true)
	v.SetDefault("auth.challenge_ttl", 5*time.Minute)
	v.SetDefault("auth.reset_code_ttl", 10*time.Minute)
	v.SetDefault("auth.reset_token_ttl", 10*time.Minute)
	v.SetDefault("auth.code_length", 6)
	v.SetDefault("auth.max_code_attempts", 5)
	v.SetDefault("auth.resend_cooldown", 60*time.Second)
	v.SetDefault("auth.max_resends", 3)
	v.SetDefault("auth.min_password_length", 6)
	v.SetDefault("auth.max_login_failures", 5)
	v.SetDefault("auth.lockout_duration", 15*time.Minute)
	v.SetDefault("auth.totp_issuer", "Portfolio Admin")
	v.SetDefault("auth.totp_skew", 1)

	v.SetDefault("mail.transport", "log")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.tls", true)
	v.SetDefault("mail.timeout", 10*time.Second)

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.ip_limit", 20)
	v.SetDefault("rate_limit.ip_window", time.Minute)
	v.SetDefault("rate_limit.email_limit", 10)
	v.SetDefault("rate_limit.email_window", 10*time.Minute)
}

func validateConfig(cfg *config.AppConfig) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (or set FOLIO_JWT_SECRET)")
	}
	if os.Getenv("APP_ENV") == EnvProduction {
		if cfg.Auth.JWTSecret == developmentSecret {
			return errors.New("auth.jwt_secret is the committed development key, set FOLIO_JWT_SECRET in production")
		}
		if len(cfg.Auth.JWTSecret) < 32 {
			return errors.New("auth.jwt_secret must be at least 32 bytes in production")
		}
	}
	if cfg.Auth.CodeLength < 4 || cfg.Auth.CodeLength > 10 {
		return fmt.Errorf("auth.code_length must be between 4 and 10, got %d", cfg.Auth.CodeLength)
	}
	switch cfg.Mail.Transport {
	case "smtp", "log":
	default:
		return fmt.Errorf("unknown mail.transport %q", cfg.Mail.Transport)
	}
	switch cfg.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", cfg.RateLimit.Backend)
	}
	return nil
}
