package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/authz"
	"github.com/example/prefsauth/internal/config"
	"github.com/example/prefsauth/internal/store"
	"github.com/example/prefsauth/internal/testutil"
	"github.com/example/prefsauth/internal/token"
)

func testDeps(st store.Store) *deps {
	return &deps{
		loadConfig: func() (*config.Config, error) {
			return &config.Config{DBAdapter: config.AdapterMemory}, nil
		},
		openStore: func(ctx context.Context, c *config.Config) (store.Store, error) {
			return st, nil
		},
		logger: func(*config.Config) *slog.Logger { return testutil.Logger() },
		now:    func() time.Time { return testutil.Epoch },
	}
}

// run executes the admin command line args and decodes its JSON output.
func run(t *testing.T, st store.Store, args ...string) (map[string]any, error) {
	t.Helper()
	root := newRootCmd(testDeps(st))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return nil, err
	}
	var v map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &v), out.String())
	return v, nil
}

func TestProvisionClientAndCredential(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	out, err := run(t, st, "provision", "client", "--name", "Kiosk", "--access-type", "sharedByTrustedParties")
	require.NoError(t, err)
	clientID := out["id"].(string)

	out, err = run(t, st, "provision", "credential", "--client-id", clientID,
		"--oauth2-client-id", "kiosk-1", "--allow-create-key", "--ip-block", "10.0.0.0/8", "--ip-block", "192.168.1.1")
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", out["oauth2ClientId"])
	assert.Len(t, out["oauth2ClientSecret"], 64)

	client, cred, err := store.NewQueries(st, testutil.Logger()).ClientAndCredentialByOAuth2ClientID(ctx, "kiosk-1")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, clientID, client.ID)
	assert.Equal(t, store.AccessTypeSharedByTrustedParties, client.AccessType)
	assert.True(t, cred.IsCreateGpiiKeyAllowed)
	assert.False(t, cred.IsCreatePrefsSafeAllowed)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cred.AllowedIPBlocks)
	assert.Equal(t, out["oauth2ClientSecret"], cred.OAuth2ClientSecret)
}

func TestProvisionRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"client without name", []string{"provision", "client"}},
		{"client with unknown access type", []string{"provision", "client", "--name", "x", "--access-type", "open"}},
		{"credential for unknown client", []string{"provision", "credential", "--client-id", "nope"}},
		{"prefs safe with invalid json", []string{"provision", "prefs-safe", "--preferences", "{"}},
		{"key for unknown safe", []string{"provision", "key", "--prefs-safe-id", "nope"}},
		{"user without password", []string{"provision", "user", "--username", "bob"}},
		{"sso provider without secret", []string{"provision", "sso-provider", "--client-id", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, store.NewMemoryStore(), tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestProvisionPrefsSafeKeyAndUser(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q := store.NewQueries(st, testutil.Logger())

	out, err := run(t, st, "provision", "prefs-safe", "--name", "kiosk", "--preferences", `{"contexts":{}}`, "--key", "kiosk-key")
	require.NoError(t, err)
	safeID := out["id"].(string)
	assert.Equal(t, "kiosk-key", out["key"])

	out, err = run(t, st, "provision", "key", "--prefs-safe-id", safeID)
	require.NoError(t, err)
	second := out["key"].(string)

	for _, k := range []string{"kiosk-key", second} {
		safe, err := q.PrefsSafeByKey(ctx, k)
		require.NoError(t, err)
		require.NotNil(t, safe)
		assert.Equal(t, safeID, safe.ID)
		assert.Equal(t, store.SafeTypeSnapset, safe.SafeType)
	}

	out, err = run(t, st, "provision", "user", "--name", "Bob", "--username", "bob", "--password", "pw", "--prefs-safe-id", safeID)
	require.NoError(t, err)
	u, err := q.UserByID(ctx, out["id"].(string))
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.CheckPassword("pw"))

	safes, err := q.PrefsSafeByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, safes, 1)
	assert.Equal(t, safeID, safes[0].ID)
}

func TestProvisionSsoProvider(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := run(t, st, "provision", "sso-provider", "--client-id", "cid", "--client-secret", "csecret")
	require.NoError(t, err)

	p, err := store.NewQueries(st, testutil.Logger()).SsoProviderByName(context.Background(), "google")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "cid", p.ClientID)
	assert.Equal(t, "csecret", p.ClientSecret)
}

func TestAPIKeyHash(t *testing.T) {
	out, err := run(t, store.NewMemoryStore(), "provision", "api-key-hash", "--key", "my-admin-key")
	require.NoError(t, err)
	assert.Equal(t, "my-admin-key", out["apiKey"])
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(out["hash"].(string)), []byte("my-admin-key")))

	out, err = run(t, store.NewMemoryStore(), "provision", "api-key-hash")
	require.NoError(t, err)
	assert.Len(t, out["apiKey"], 64)
}

func TestRevokeCredential(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	testutil.Seed(t, st)
	svc := authz.NewService(st, token.UUIDGenerator{}, apierr.DefaultCatalog(), testutil.Logger())
	tok, err := svc.GrantAppInstallationAuthorization(ctx, testutil.PrefsSafesKey, testutil.ClientID, testutil.ClientCredentialID)
	require.NoError(t, err)

	out, err := run(t, st, "revoke", "credential", testutil.ClientCredentialID, "--reason", "leaked")
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["revokedAuthorizations"])

	cred, err := store.FindOne[*store.ClientCredential](ctx, st, store.TableClientCredentials, testutil.ClientCredentialID)
	require.NoError(t, err)
	assert.True(t, cred.Revoked)
	assert.Equal(t, "leaked", cred.RevokedReason)

	grant, err := svc.FindGrant(ctx, tok.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, grant)

	_, err = run(t, st, "revoke", "credential", "missing")
	assert.Error(t, err)
}

func TestRevokeKeyAndToken(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	testutil.Seed(t, st)

	_, err := run(t, st, "revoke", "key", testutil.PrefsSafesKey)
	require.NoError(t, err)
	k, err := store.FindOne[*store.PrefsSafesKey](ctx, st, store.TablePrefsSafesKeys, testutil.PrefsSafesKey)
	require.NoError(t, err)
	assert.True(t, k.Revoked)

	_, err = run(t, st, "revoke", "key", testutil.PrefsSafesKey)
	assert.Error(t, err)

	_, err = run(t, st, "revoke", "token", "unknown")
	assert.EqualError(t, err, "The record of the access token is not found")
}

func TestOpenStoreRefusesMemory(t *testing.T) {
	_, err := openStore(context.Background(), &config.Config{DBAdapter: config.AdapterMemory})
	assert.Error(t, err)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	_, err := run(t, store.NewMemoryStore(), "migrate", "version")
	assert.ErrorContains(t, err, "migrations only work with PostgreSQL")
}
