package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[auth]
jwt_secret = "file-secret"
max_code_attempts = 7

[auth.production]
jwt_secret = "production-file-secret-that-is-long-enough"
access_token_duration = "5m"

[mail]
transport = "log"
`

func writeTestConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfigFrom(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, dir string)
	}{
		{
			name: "defaults fill missing keys",
			env:  map[string]string{"APP_ENV": EnvDevelopment},
			check: func(t *testing.T, dir string) {
				cfg, err := LoadConfigFrom(dir)
				require.NoError(t, err)
				assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
				assert.Equal(t, 7, cfg.Auth.MaxCodeAttempts)
				assert.Equal(t, 6, cfg.Auth.CodeLength)
				assert.Equal(t, 60*time.Second, cfg.Auth.ResendCooldown)
				assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenDuration)
				assert.Equal(t, "memory", cfg.RateLimit.Backend)
			},
		},
		{
			name: "environment section overrides base",
			env:  map[string]string{"APP_ENV": EnvProduction},
			check: func(t *testing.T, dir string) {
				cfg, err := LoadConfigFrom(dir)
				require.NoError(t, err)
				assert.Equal(t, "production-file-secret-that-is-long-enough", cfg.Auth.JWTSecret)
				assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTokenDuration)
				assert.Equal(t, 7, cfg.Auth.MaxCodeAttempts)
			},
		},
		{
			name: "secrets come from the environment",
			env: map[string]string{
				"APP_ENV":          EnvDevelopment,
				"FOLIO_JWT_SECRET": "env-secret",
			},
			check: func(t *testing.T, dir string) {
				cfg, err := LoadConfigFrom(dir)
				require.NoError(t, err)
				assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			tt.check(t, writeTestConfig(t, testConfig))
		})
	}
}

func TestLoadConfigFrom_Invalid(t *testing.T) {
	t.Setenv("APP_ENV", EnvTesting)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing secret", body: "[auth]\nissuer = \"x\"\n"},
		{name: "unknown mail transport", body: "[auth]\njwt_secret = \"s\"\n[mail]\ntransport = \"pigeon\"\n"},
		{name: "bad code length", body: "[auth]\njwt_secret = \"s\"\ncode_length = 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFrom(writeTestConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFrom_ShippedConfigInProduction(t *testing.T) {
	t.Setenv("APP_ENV", EnvProduction)
	t.Setenv("FOLIO_JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("FOLIO_JWT_SECRET"))

	_, err := LoadConfigFrom("../../config/server")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOLIO_JWT_SECRET")

	t.Setenv("FOLIO_JWT_SECRET", "a-real-production-secret-of-40-bytes-xx")
	cfg, err := LoadConfigFrom("../../config/server")
	require.NoError(t, err)
	assert.Equal(t, "a-real-production-secret-of-40-bytes-xx", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoadConfigFrom_ShippedConfigInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", EnvDevelopment)
	t.Setenv("FOLIO_JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("FOLIO_JWT_SECRET"))

	cfg, err := LoadConfigFrom("../../config/server")
	require.NoError(t, err)
	assert.Equal(t, developmentSecret, cfg.Auth.JWTSecret)
}

func TestLoadConfigFrom_MissingFile(t *testing.T) {
	_, err := LoadConfigFrom(t.TempDir())
	assert.Error(t, err)
}
