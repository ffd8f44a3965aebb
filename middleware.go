package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/exchange"
)

// AdminKeyAuth guards admin routes with the API key whose bcrypt hash is
// configured. Without a configured hash every admin request is refused.
func (a *App) AdminKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			// Try Authorization header: Bearer <api-key>
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" || a.adminKeyHash == "" ||
			bcrypt.CompareHashAndPassword([]byte(a.adminKeyHash), []byte(apiKey)) != nil {
			a.logger.WarnContext(r.Context(), "admin request rejected", "path", r.URL.Path, "ip", a.clientIP(r))
			a.writeError(w, r, a.errs.New(apierr.Unauthorized, nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS lets the configured browser origins call the token endpoint.
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && a.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *App) originAllowed(origin string) bool {
	for _, o := range a.allowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// idleLimiterTTL is how long a client address keeps its limiter without
// requests before it is swept.
const idleLimiterTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements per-client-address rate limiting
type RateLimiter struct {
	limitPerMinute int
	limiters       map[string]*limiterEntry
	lastSweep      time.Time
	mu             sync.Mutex
}

func NewRateLimiter(limitPerMinute int) *RateLimiter {
	return &RateLimiter{
		limitPerMinute: limitPerMinute,
		limiters:       make(map[string]*limiterEntry),
	}
}

// Allow reports whether key may make another request now.
func (rl *RateLimiter) Allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > idleLimiterTTL {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) > idleLimiterTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.limitPerMinute)/60, rl.limitPerMinute)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// RateLimit enforces the per-address limit. A nil limiter disables it.
func (a *App) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rateLimiter != nil && !a.rateLimiter.Allow(a.clientIP(r), time.Now()) {
			writeJSON(w, http.StatusTooManyRequests, &apierr.Error{
				Message:    "Rate limit exceeded",
				StatusCode: http.StatusTooManyRequests,
				IsError:    true,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging middleware logs requests and records their latency
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		a.metrics.ObserveRequest(route, wrapped.statusCode, duration)
		a.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"ip", a.clientIP(r),
			"status", wrapped.statusCode,
			"duration", duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func (a *App) clientIP(r *http.Request) string {
	return exchange.ClientIP(r, a.trustProxy, a.trustedProxyCount)
}
