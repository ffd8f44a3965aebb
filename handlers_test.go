package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/prefsauth/internal/config"
	"github.com/example/prefsauth/internal/sso"
	"github.com/example/prefsauth/internal/store"
	"github.com/example/prefsauth/internal/testutil"
)

const testAdminKey = "admin-key-for-tests"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)
	return &config.Config{
		DBAdapter:           config.AdapterMemory,
		JWTSecret:           "test-secret",
		AccessTokenLifetime: time.Hour,
		LoginTokenLifetime:  time.Hour,
		TrustedProxyCount:   1,
		AdminAPIKeyHash:     string(hash),
		AllowedOrigins:      []string{"https://app.example.com"},
		SSORedirectBaseURL:  "https://auth.example.com",
		SSONonceTTL:         time.Minute,
	}
}

type testServer struct {
	app    *App
	router *mux.Router
	store  *store.MemoryStore
}

func newTestServer(t *testing.T, mutate ...func(c *config.Config)) *testServer {
	t.Helper()
	c := testConfig(t)
	for _, m := range mutate {
		m(c)
	}
	st := store.NewMemoryStore()
	testutil.Seed(t, st)
	app, err := newApp(c, st, sso.NewMemoryNonceStore(nil), testutil.Logger(), prometheus.NewRegistry())
	require.NoError(t, err)
	return &testServer{app: app, router: app.Router(), store: st}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func tokenForm(clientID, secret, key string) url.Values {
	return url.Values{
		"grant_type":    {"password"},
		"client_id":     {clientID},
		"client_secret": {secret},
		"username":      {key},
		"password":      {"unused"},
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHandleAccessToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(formRequest("/access_token", tokenForm(testutil.OAuth2ClientID, testutil.OAuth2ClientSecret, testutil.PrefsSafesKey)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.NotEmpty(t, body["accessToken"])
	assert.Equal(t, float64(3600), body["expiresIn"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestHandleAccessTokenJSONWithBasicAuth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/access_token",
		strings.NewReader(`{"grant_type":"password","username":"alice","password":"x"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.SetBasicAuth(testutil.RestrictedOAuth2ClientID, testutil.RestrictedOAuth2ClientSecret)

	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["accessToken"])
}

func TestHandleAccessTokenErrors(t *testing.T) {
	tests := []struct {
		name    string
		form    url.Values
		status  int
		message string
	}{
		{
			name:    "wrong secret",
			form:    tokenForm(testutil.OAuth2ClientID, "nope", testutil.PrefsSafesKey),
			status:  http.StatusUnauthorized,
			message: "Unauthorized",
		},
		{
			name: "unsupported grant type",
			form: func() url.Values {
				f := tokenForm(testutil.OAuth2ClientID, testutil.OAuth2ClientSecret, testutil.PrefsSafesKey)
				f.Set("grant_type", "client_credentials")
				return f
			}(),
			status:  http.StatusBadRequest,
			message: `The grant type "client_credentials" is not supported`,
		},
		{
			name:    "restricted client with unknown key",
			form:    tokenForm(testutil.RestrictedOAuth2ClientID, testutil.RestrictedOAuth2ClientSecret, "nobody"),
			status:  http.StatusUnauthorized,
			message: "Unauthorized",
		},
		{
			name:    "full privilege client without key",
			form:    tokenForm(testutil.OAuth2ClientID, testutil.OAuth2ClientSecret, ""),
			status:  http.StatusBadRequest,
			message: `The input field "PrefsSafes ID, client ID, or client credential ID" was undefined`,
		},
		{
			name:    "ip bound client from outside its block",
			form:    tokenForm(testutil.IPBoundOAuth2ClientID, testutil.IPBoundOAuth2ClientSecret, testutil.PrefsSafesKey),
			status:  http.StatusUnauthorized,
			message: "Unauthorized",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(formRequest("/access_token", tt.form))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			body := decode(t, rec)
			assert.Equal(t, tt.message, body["message"])
			assert.Equal(t, float64(tt.status), body["statusCode"])
			assert.Equal(t, true, body["isError"])
		})
	}
}

func TestHandleAccessTokenForwardedFor(t *testing.T) {
	form := tokenForm(testutil.IPBoundOAuth2ClientID, testutil.IPBoundOAuth2ClientSecret, testutil.PrefsSafesKey)

	s := newTestServer(t, func(c *config.Config) { c.TrustProxy = true })
	req := formRequest("/access_token", form)
	req.Header.Set("X-Forwarded-For", "10.20.30.40, 192.0.2.10")
	rec := s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	untrusted := newTestServer(t)
	req = formRequest("/access_token", form)
	req.Header.Set("X-Forwarded-For", "10.20.30.40, 192.0.2.10")
	rec = untrusted.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAccessTokenRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.TokenRateLimitPerMinute = 2 })
	form := tokenForm(testutil.OAuth2ClientID, testutil.OAuth2ClientSecret, testutil.PrefsSafesKey)

	for i := 0; i < 2; i++ {
		rec := s.do(formRequest("/access_token", form))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(formRequest("/access_token", form))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleAccessTokenCORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/access_token", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := s.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/access_token", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = s.do(req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func issueToken(t *testing.T, s *testServer) string {
	t.Helper()
	rec := s.do(formRequest("/access_token", tokenForm(testutil.OAuth2ClientID, testutil.OAuth2ClientSecret, testutil.PrefsSafesKey)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)["accessToken"].(string)
}

func TestHandleIntrospect(t *testing.T) {
	s := newTestServer(t)
	tok := issueToken(t, s)

	rec := s.do(formRequest("/api/v1/grants/introspect", url.Values{"token": {tok}}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, testutil.PrefsSafesKey, body["prefsSafesKey"])
	assert.Equal(t, testutil.ClientID, body["clientId"])
	assert.Equal(t, testutil.ClientCredentialID, body["clientCredentialId"])
	assert.NotContains(t, rec.Body.String(), tok)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/grants/introspect", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = s.do(req)
	assert.Equal(t, true, decode(t, rec)["active"])

	rec = s.do(formRequest("/api/v1/grants/introspect", url.Values{"token": {"unknown"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"active": false}, decode(t, rec))

	rec = s.do(formRequest("/api/v1/grants/introspect", url.Values{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIntrospectOmitsIPBlocks(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.TrustProxy = true })
	req := formRequest("/access_token", tokenForm(testutil.IPBoundOAuth2ClientID, testutil.IPBoundOAuth2ClientSecret, testutil.PrefsSafesKey))
	req.Header.Set("X-Forwarded-For", "10.20.30.40, 192.0.2.10")
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode(t, rec)["accessToken"].(string)

	rec = s.do(formRequest("/api/v1/grants/introspect", url.Values{"token": {tok}}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, testutil.IPBoundClientID, body["clientId"])
	assert.NotContains(t, body, "allowedIPBlocks")
	assert.NotContains(t, rec.Body.String(), "10.0.0.0/8")
}

func TestHandleRevokeAuthorization(t *testing.T) {
	s := newTestServer(t)
	tok := issueToken(t, s)
	revoke := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/authorizations/revoke",
			strings.NewReader(`{"accessToken":"`+tok+`","reason":"lost device"}`))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		return s.do(req)
	}

	assert.Equal(t, http.StatusUnauthorized, revoke("").Code)
	assert.Equal(t, http.StatusUnauthorized, revoke("wrong").Code)

	rec := revoke(testAdminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(formRequest("/api/v1/grants/introspect", url.Values{"token": {tok}}))
	assert.Equal(t, false, decode(t, rec)["active"])

	assert.Equal(t, http.StatusNotFound, revoke(testAdminKey).Code)
}

func TestHandleRevokeCredentialAuthorizations(t *testing.T) {
	s := newTestServer(t)
	first := issueToken(t, s)
	second := issueToken(t, s)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/client-credentials/"+testutil.ClientCredentialID+"/revoke-authorizations", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decode(t, rec)["revoked"])

	for _, tok := range []string{first, second} {
		rec = s.do(formRequest("/api/v1/grants/introspect", url.Values{"token": {tok}}))
		assert.Equal(t, false, decode(t, rec)["active"])
	}
}

func TestAdminRoutesDisabledWithoutKeyHash(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.AdminAPIKeyHash = "" })

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/authorizations/revoke", nil)
	req.Header.Set("X-API-Key", testAdminKey)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ready"])

	issueToken(t, s)
	rec = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prefsauth_access_tokens_issued_total 1")
	assert.Contains(t, rec.Body.String(), `prefsauth_http_request_duration_seconds_count{code="200",route="/access_token"} 1`)
}

func TestHandleSSOLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/sso/google/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", loc.Host)
	assert.Equal(t, testutil.SsoProviderClientID, loc.Query().Get("client_id"))
	assert.Equal(t, "https://auth.example.com/sso/google/callback", loc.Query().Get("redirect_uri"))
	assert.NotEmpty(t, loc.Query().Get("state"))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/sso/github/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSSOCallbackErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/sso/google/callback?state=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "The authorization code from google is missing", decode(t, rec)["message"])

	rec = s.do(httptest.NewRequest(http.MethodGet, "/sso/google/callback?code=c&state=forged", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSSOCallbackForwardsProviderError(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
	}))
	t.Cleanup(provider.Close)

	s := newTestServer(t, func(c *config.Config) {
		c.SSOGoogleAuthURL = provider.URL + "/authorize"
		c.SSOGoogleTokenURL = provider.URL + "/token"
		c.SSOGoogleUserInfoURL = provider.URL + "/userinfo"
	})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/sso/google/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/sso/google/callback?code=c&state="+state, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_grant","error_description":"Bad Request"}`, rec.Body.String())
}
