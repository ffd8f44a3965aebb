package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"PORT", "ENVIRONMENT", "LOG_LEVEL",
		"DB_ADAPTER", "SQLITE_FILE", "MIGRATIONS_DIR",
		"POSTGRES_DSN", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER",
		"POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_SSLMODE",
		"JWT_SECRET", "ACCESS_TOKEN_LIFETIME", "LOGIN_TOKEN_LIFETIME",
		"TRUST_PROXY", "TRUSTED_PROXY_COUNT", "TOKEN_RATE_LIMIT_PER_MINUTE",
		"CORS_ALLOWED_ORIGINS", "ADMIN_API_KEY_HASH", "REDIS_URL",
		"SSO_REDIRECT_BASE_URL", "SSO_GOOGLE_AUTH_URL", "SSO_GOOGLE_TOKEN_URL",
		"SSO_GOOGLE_USERINFO_URL", "SSO_NONCE_TTL", "METRICS_ENABLED",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, AdapterPostgres, cfg.DBAdapter)
	assert.Equal(t, "host=localhost port=5432 user=prefsauth dbname=prefsauth sslmode=disable", cfg.PostgresDSN)
	assert.Equal(t, time.Hour, cfg.AccessTokenLifetime)
	assert.Equal(t, 10*time.Minute, cfg.SSONonceTTL)
	assert.Equal(t, 60, cfg.TokenRateLimitPerMinute)
	assert.Equal(t, 1, cfg.TrustedProxyCount)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.TrustProxy)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DB_ADAPTER", "sqlite")
	t.Setenv("SQLITE_FILE", "/tmp/prefs.db")
	t.Setenv("ACCESS_TOKEN_LIFETIME", "15m")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("TRUSTED_PROXY_COUNT", "2")
	t.Setenv("SSO_GOOGLE_TOKEN_URL", "http://localhost:9999/token")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AdapterSQLite, cfg.DBAdapter)
	assert.Equal(t, "/tmp/prefs.db", cfg.SQLiteFile)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenLifetime)
	assert.True(t, cfg.TrustProxy)
	assert.Equal(t, 2, cfg.TrustedProxyCount)
	assert.Equal(t, "http://localhost:9999/token", cfg.SSOGoogleTokenURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "http"}},
		{"unknown adapter", map[string]string{"DB_ADAPTER": "mongo"}},
		{"default secret in production", map[string]string{"ENVIRONMENT": "production"}},
		{"memory adapter in production", map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "s3cret", "DB_ADAPTER": "memory"}},
		{"zero lifetime", map[string]string{"ACCESS_TOKEN_LIFETIME": "0s"}},
		{"negative rate limit", map[string]string{"TOKEN_RATE_LIMIT_PER_MINUTE": "-1"}},
		{"unparseable duration", map[string]string{"SSO_NONCE_TTL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoad_ProductionWithSecret(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "a-real-secret")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@db:5432/prefs?sslmode=require")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "postgres://u:p@db:5432/prefs?sslmode=require", cfg.PostgresDSN)
}

func TestBuildPostgresDSN(t *testing.T) {
	c := &Config{PostgresHost: "db", PostgresUser: "u", PostgresDB: "d", PostgresPassword: "p"}
	dsn, err := c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u dbname=d sslmode=disable password=p", dsn)

	_, err = (&Config{PostgresUser: "u", PostgresDB: "d"}).BuildPostgresDSN()
	require.Error(t, err)
	_, err = (&Config{PostgresHost: "db", PostgresDB: "d"}).BuildPostgresDSN()
	require.Error(t, err)
	_, err = (&Config{PostgresHost: "db", PostgresUser: "u"}).BuildPostgresDSN()
	require.Error(t, err)
}
