package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultJWTSecret is rejected in production.
const DefaultJWTSecret = "change-me"

// Database adapters.
const (
	AdapterPostgres = "postgres"
	AdapterSQLite   = "sqlite"
	AdapterMemory   = "memory"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	DBAdapter     string `env:"DB_ADAPTER" envDefault:"postgres"`
	SQLiteFile    string `env:"SQLITE_FILE" envDefault:"./data/prefsauth.db"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"./migrations"`

	// PostgreSQL connection settings. POSTGRES_DSN wins over the parts.
	PostgresDSN      string `env:"POSTGRES_DSN"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"prefsauth"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"prefsauth"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// JWTSecret signs SSO login tokens.
	JWTSecret           string        `env:"JWT_SECRET" envDefault:"change-me"`
	AccessTokenLifetime time.Duration `env:"ACCESS_TOKEN_LIFETIME" envDefault:"1h"`
	LoginTokenLifetime  time.Duration `env:"LOGIN_TOKEN_LIFETIME" envDefault:"24h"`

	// Client address resolution for IP allow-lists and rate limiting.
	TrustProxy        bool `env:"TRUST_PROXY" envDefault:"false"`
	TrustedProxyCount int  `env:"TRUSTED_PROXY_COUNT" envDefault:"1"`

	// TokenRateLimitPerMinute caps token requests per client address; 0
	// disables the limit.
	TokenRateLimitPerMinute int `env:"TOKEN_RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	// AllowedOrigins may call the token endpoint from a browser.
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// AdminAPIKeyHash is the bcrypt hash of the key guarding admin routes.
	// Admin routes are disabled when it is empty.
	AdminAPIKeyHash string `env:"ADMIN_API_KEY_HASH"`

	// RedisURL enables the shared SSO nonce store.
	RedisURL string `env:"REDIS_URL"`

	SSORedirectBaseURL   string        `env:"SSO_REDIRECT_BASE_URL" envDefault:"http://localhost:8080"`
	SSOGoogleAuthURL     string        `env:"SSO_GOOGLE_AUTH_URL"`
	SSOGoogleTokenURL    string        `env:"SSO_GOOGLE_TOKEN_URL"`
	SSOGoogleUserInfoURL string        `env:"SSO_GOOGLE_USERINFO_URL"`
	SSONonceTTL          time.Duration `env:"SSO_NONCE_TTL" envDefault:"10m"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// Load reads a .env file if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether ENVIRONMENT names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "production", "prod":
		return true
	}
	return false
}

func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.Port)
	}

	switch c.DBAdapter {
	case AdapterPostgres:
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case AdapterSQLite:
		if c.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case AdapterMemory:
		if c.IsProduction() {
			return errors.New("DB_ADAPTER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown DB_ADAPTER %q", c.DBAdapter)
	}

	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret) {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.AccessTokenLifetime <= 0 {
		return errors.New("ACCESS_TOKEN_LIFETIME must be positive")
	}
	if c.TrustedProxyCount < 0 {
		return errors.New("TRUSTED_PROXY_COUNT must not be negative")
	}
	if c.TokenRateLimitPerMinute < 0 {
		return errors.New("TOKEN_RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // Default to disable for local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}
