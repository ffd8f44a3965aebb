package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/authz"
	"github.com/example/prefsauth/internal/clientauth"
	"github.com/example/prefsauth/internal/config"
	"github.com/example/prefsauth/internal/exchange"
	"github.com/example/prefsauth/internal/logging"
	"github.com/example/prefsauth/internal/metrics"
	"github.com/example/prefsauth/internal/migrate"
	"github.com/example/prefsauth/internal/sso"
	"github.com/example/prefsauth/internal/store"
	"github.com/example/prefsauth/internal/token"
)

type App struct {
	store     store.Store
	queries   *store.Queries
	clients   *clientauth.Authenticator
	exchanger *exchange.Handler
	authz     *authz.Service
	sso       *sso.Linker

	errs           *apierr.Catalog
	logger         *slog.Logger
	metrics        *metrics.Metrics
	metricsHandler http.Handler

	rateLimiter       *RateLimiter
	adminKeyHash      string
	allowedOrigins    []string
	trustProxy        bool
	trustedProxyCount int
}

// newApp wires the services over st. A nil reg disables metrics.
func newApp(c *config.Config, st store.Store, nonces sso.NonceStore, logger *slog.Logger, reg *prometheus.Registry) (*App, error) {
	errs := apierr.DefaultCatalog()

	var m *metrics.Metrics
	var metricsHandler http.Handler
	if reg != nil {
		m = metrics.New(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	signer, err := sso.NewLoginTokenSigner([]byte(c.JWTSecret), "prefsauth", c.LoginTokenLifetime)
	if err != nil {
		return nil, err
	}

	queries := store.NewQueries(st, logger)
	svc := authz.NewService(st, token.UUIDGenerator{}, errs, logger,
		authz.WithLifetime(c.AccessTokenLifetime),
		authz.WithMetrics(m))

	app := &App{
		store:     st,
		queries:   queries,
		clients:   clientauth.New(st, errs, logger, m),
		exchanger: exchange.NewHandler(svc, queries, errs, logger, m),
		authz:     svc,
		sso: sso.NewLinker(st, nonces, signer, errs, logger, m, sso.Config{
			RedirectBaseURL: c.SSORedirectBaseURL,
			Providers:       map[string]sso.Endpoints{"google": googleEndpoints(c)},
			NonceTTL:        c.SSONonceTTL,
		}),
		errs:              errs,
		logger:            logger,
		metrics:           m,
		metricsHandler:    metricsHandler,
		adminKeyHash:      c.AdminAPIKeyHash,
		allowedOrigins:    c.AllowedOrigins,
		trustProxy:        c.TrustProxy,
		trustedProxyCount: c.TrustedProxyCount,
	}
	if c.TokenRateLimitPerMinute > 0 {
		app.rateLimiter = NewRateLimiter(c.TokenRateLimitPerMinute)
	}
	return app, nil
}

func googleEndpoints(c *config.Config) sso.Endpoints {
	ep := sso.GoogleEndpoints()
	if c.SSOGoogleAuthURL != "" {
		ep.AuthURL = c.SSOGoogleAuthURL
	}
	if c.SSOGoogleTokenURL != "" {
		ep.TokenURL = c.SSOGoogleTokenURL
	}
	if c.SSOGoogleUserInfoURL != "" {
		ep.UserInfoURL = c.SSOGoogleUserInfoURL
	}
	return ep
}

func (a *App) Router() *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(SecurityHeaders)
	r.Use(a.Logging)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", a.HandleHealth).Methods("GET")
	r.HandleFunc("/ready", a.HandleReady).Methods("GET")
	if a.metricsHandler != nil {
		r.Handle("/metrics", a.metricsHandler).Methods("GET")
	}

	r.Handle("/access_token", a.CORS(a.RateLimit(http.HandlerFunc(a.HandleAccessToken)))).Methods("POST", "OPTIONS")

	r.HandleFunc("/sso/{provider}/login", a.HandleSSOLogin).Methods("GET")
	r.HandleFunc("/sso/{provider}/callback", a.HandleSSOCallback).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/grants/introspect", a.HandleIntrospect).Methods("POST")

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(a.AdminKeyAuth)
	admin.HandleFunc("/authorizations/revoke", a.HandleRevokeAuthorization).Methods("POST")
	admin.HandleFunc("/client-credentials/{id}/revoke-authorizations", a.HandleRevokeCredentialAuthorizations).Methods("POST")

	return r
}

func openStore(ctx context.Context, c *config.Config, logger *slog.Logger) (store.Store, error) {
	switch c.DBAdapter {
	case config.AdapterSQLite:
		if dir := filepath.Dir(c.SQLiteFile); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating sqlite directory: %w", err)
			}
		}
		s, err := store.OpenSQLite(ctx, c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		logger.Info("using sqlite database", "file", c.SQLiteFile)
		return s, nil
	case config.AdapterPostgres:
		logger.Info("applying database migrations", "dir", c.MigrationsDir)
		if err := migrate.Apply(c.MigrationsDir, c.PostgresDSN, logger); err != nil {
			logger.Warn("migration error, continuing", "error", err)
		}
		s, err := store.OpenPostgres(ctx, c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		logger.Info("connected to PostgreSQL database")
		return s, nil
	case config.AdapterMemory:
		logger.Warn("using in-memory database, not recommended for production")
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
}

func openNonceStore(ctx context.Context, c *config.Config) (sso.NonceStore, func() error, error) {
	if c.RedisURL == "" {
		return sso.NewMemoryNonceStore(nil), func() error { return nil }, nil
	}
	s, err := sso.NewRedisNonceStore(ctx, c.RedisURL, "prefsauth:")
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func run() error {
	c, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.NewLogger(c.Environment, c.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, c, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	nonces, closeNonces, err := openNonceStore(ctx, c)
	if err != nil {
		return fmt.Errorf("nonce store: %w", err)
	}
	defer closeNonces()

	var reg *prometheus.Registry
	if c.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	app, err := newApp(c, st, nonces, logger, reg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      app.Router(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "port", c.Port, "db_adapter", c.DBAdapter)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited properly")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
