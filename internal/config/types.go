package config

import "time"

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              string        `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password" env:"FOLIO_DATABASE_PASSWORD"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	// Path is the sqlite file; ":memory:" is accepted.
	Path     string `mapstructure:"path"`
	LogLevel string `mapstructure:"log_level"`
	// MigrationsDir overrides discovery of the goose migrations directory.
	MigrationsDir string `mapstructure:"migrations_dir" env:"FOLIO_MIGRATIONS_DIR"`
	// AutoMigrate applies pending migrations when the server starts.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret            string        `mapstructure:"jwt_secret" env:"FOLIO_JWT_SECRET"`
	Issuer               string        `mapstructure:"issuer"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration"`
	RefreshTokenEnabled  bool          `mapstructure:"refresh_token_enabled"`

	ChallengeTTL     time.Duration `mapstructure:"challenge_ttl"`
	ResetCodeTTL     time.Duration `mapstructure:"reset_code_ttl"`
	ResetTokenTTL    time.Duration `mapstructure:"reset_token_ttl"`
	CodeLength       int           `mapstructure:"code_length"`
	MaxCodeAttempts  int           `mapstructure:"max_code_attempts"`
	ResendCooldown   time.Duration `mapstructure:"resend_cooldown"`
	MaxResends       int           `mapstructure:"max_resends"`
	MinPasswordLen   int           `mapstructure:"min_password_length"`
	MaxLoginFailures int           `mapstructure:"max_login_failures"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`

	TOTPIssuer string `mapstructure:"totp_issuer"`
	TOTPSkew   uint   `mapstructure:"totp_skew"`
}

type MailConfig struct {
	// Transport is "smtp" or "log".
	Transport string        `mapstructure:"transport"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password" env:"FOLIO_SMTP_PASSWORD"`
	From      string        `mapstructure:"from"`
	TLS       bool          `mapstructure:"tls"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" env:"FOLIO_REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"redis_db"`
	IPLimit       int           `mapstructure:"ip_limit"`
	IPWindow      time.Duration `mapstructure:"ip_window"`
	EmailLimit    int           `mapstructure:"email_limit"`
	EmailWindow   time.Duration `mapstructure:"email_window"`
	// TrustedProxyHeader names the header a fronting reverse proxy sets
	// to the client address. Empty keys clients by the socket peer.
	TrustedProxyHeader string `mapstructure:"trusted_proxy_header" env:"FOLIO_TRUSTED_PROXY_HEADER"`
}

type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Mail      MailConfig      `mapstructure:"mail"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}
