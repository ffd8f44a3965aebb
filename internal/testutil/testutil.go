// Package testutil provides fixtures and helpers shared by the package tests.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/prefsauth/internal/store"
)

// Fixture ids and secrets seeded by Seed.
const (
	UserID              = "user-1"
	PrefsSafeID         = "prefsSafe-1"
	PrefsSafesKey       = "alice"
	CloudSafeCredential = "cloudSafeCredential-1"

	// full create privileges, no IP restriction
	ClientID           = "client-1"
	ClientCredentialID = "clientCredential-1"
	OAuth2ClientID     = "client_id_1"
	OAuth2ClientSecret = "client_secret_1"

	// no create privileges
	RestrictedClientID           = "client-2"
	RestrictedClientCredentialID = "clientCredential-2"
	RestrictedOAuth2ClientID     = "client_id_2"
	RestrictedOAuth2ClientSecret = "client_secret_2"

	// full create privileges, only 10.0.0.0/8
	IPBoundClientID           = "client-3"
	IPBoundClientCredentialID = "clientCredential-3"
	IPBoundOAuth2ClientID     = "client_id_3"
	IPBoundOAuth2ClientSecret = "client_secret_3"

	RevokedClientCredentialID = "clientCredential-revoked"

	SsoProvider             = "google"
	SsoProviderClientID     = "google-client-id"
	SsoProviderClientSecret = "google-client-secret"
)

// Epoch is the creation time of every seeded record.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Seed writes the standard fixture set into s.
func Seed(t testing.TB, s store.Store) {
	t.Helper()
	ctx := context.Background()
	revokedAt := Epoch.Add(time.Hour)

	recs := []store.Record{
		&store.User{ID: UserID, Name: "Alice", Username: "alice", Roles: []string{"user"}, Verified: true, TimestampCreated: Epoch},
		&store.PrefsSafe{ID: PrefsSafeID, SafeType: store.SafeTypeUser, Name: "alice", Preferences: json.RawMessage(`{"contexts":{"gpii-default":{"name":"Default preferences"}}}`), TimestampCreated: Epoch},
		&store.PrefsSafesKey{ID: PrefsSafesKey, PrefsSafeID: PrefsSafeID, TimestampCreated: Epoch},
		&store.CloudSafeCredential{ID: CloudSafeCredential, UserID: UserID, PrefsSafeID: PrefsSafeID},

		&store.Client{ID: ClientID, Name: "Full privilege app", AccessType: store.AccessTypePrivate, TimestampCreated: Epoch},
		&store.ClientCredential{ID: ClientCredentialID, ClientID: ClientID, OAuth2ClientID: OAuth2ClientID, OAuth2ClientSecret: OAuth2ClientSecret, IsCreateGpiiKeyAllowed: true, IsCreatePrefsSafeAllowed: true, TimestampCreated: Epoch},

		&store.Client{ID: RestrictedClientID, Name: "Restricted app", AccessType: store.AccessTypeSharedByTrustedParties, TimestampCreated: Epoch},
		&store.ClientCredential{ID: RestrictedClientCredentialID, ClientID: RestrictedClientID, OAuth2ClientID: RestrictedOAuth2ClientID, OAuth2ClientSecret: RestrictedOAuth2ClientSecret, TimestampCreated: Epoch},

		&store.Client{ID: IPBoundClientID, Name: "IP bound app", AccessType: store.AccessTypePrivate, TimestampCreated: Epoch},
		&store.ClientCredential{ID: IPBoundClientCredentialID, ClientID: IPBoundClientID, OAuth2ClientID: IPBoundOAuth2ClientID, OAuth2ClientSecret: IPBoundOAuth2ClientSecret, IsCreateGpiiKeyAllowed: true, IsCreatePrefsSafeAllowed: true, AllowedIPBlocks: []string{"10.0.0.0/8"}, TimestampCreated: Epoch},

		&store.ClientCredential{ID: RevokedClientCredentialID, ClientID: ClientID, OAuth2ClientID: "client_id_revoked", OAuth2ClientSecret: "client_secret_revoked", Revoked: true, RevokedReason: "rotated", TimestampCreated: Epoch, TimestampRevoked: &revokedAt},

		&store.SsoProvider{ID: "ssoProvider-google", Provider: SsoProvider, ClientID: SsoProviderClientID, ClientSecret: SsoProviderClientSecret, TimestampCreated: Epoch},
	}
	for _, r := range recs {
		require.NoError(t, s.Insert(ctx, r))
	}
}

// SequenceGenerator returns "token-1", "token-2", ... so tests can predict
// issued access tokens.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) GenerateAccessToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + strconv.Itoa(g.n)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
