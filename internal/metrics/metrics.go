// Package metrics holds the Prometheus instruments of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "prefsauth"

// Rejection reasons for GrantRejected.
const (
	ReasonMissingInput  = "missing_input"
	ReasonUnknownClient = "unknown_client"
	ReasonOwnership     = "ownership"
	ReasonIPBlock       = "ip_block"
	ReasonPrivilege     = "privilege"
	ReasonClientAuth    = "client_auth"
)

type Metrics struct {
	tokensIssued    prometheus.Counter
	tokensRevoked   prometheus.Counter
	grantRejections *prometheus.CounterVec
	grantLookups    *prometheus.CounterVec
	ssoLogins       *prometheus.CounterVec
	httpRequests    *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_tokens_issued_total",
			Help:      "Number of app installation access tokens issued.",
		}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_tokens_revoked_total",
			Help:      "Number of app installation access tokens revoked.",
		}),
		grantRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_rejections_total",
			Help:      "Number of rejected token requests by reason.",
		}, []string{"reason"}),
		grantLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_lookups_total",
			Help:      "Number of access token grant lookups by result.",
		}, []string{"result"}),
		ssoLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sso_logins_total",
			Help:      "Number of SSO login attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	reg.MustRegister(m.tokensIssued, m.tokensRevoked, m.grantRejections, m.grantLookups, m.ssoLogins, m.httpRequests)
	return m
}

func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

func (m *Metrics) TokenRevoked() {
	if m == nil {
		return
	}
	m.tokensRevoked.Inc()
}

func (m *Metrics) GrantRejected(reason string) {
	if m == nil {
		return
	}
	m.grantRejections.WithLabelValues(reason).Inc()
}

// GrantLookup records whether an access token resolved to a live grant.
func (m *Metrics) GrantLookup(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.grantLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SsoLogin(provider, outcome string) {
	if m == nil {
		return
	}
	m.ssoLogins.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}
