package store

import (
	"context"
	"log/slog"
)

// TokenInfo is the merged result of resolving an access token to its
// authorization and the client credential that authorization was issued to.
// Credentials and Authorization are zero values when the chain breaks.
type TokenInfo struct {
	AccessToken   string
	Credentials   ClientCredential
	Authorization Authorization
}

// Found reports whether the chain resolved an authorization.
func (t *TokenInfo) Found() bool { return t.Authorization.ID != "" }

// Queries holds the domain-specific finder chains. It is read-only.
type Queries struct {
	f      Finder
	logger *slog.Logger
}

func NewQueries(f Finder, logger *slog.Logger) *Queries {
	return &Queries{f: f, logger: logger}
}

func (q *Queries) UserByID(ctx context.Context, id string) (*User, error) {
	return FindOne[*User](ctx, q.f, TableUsers, id)
}

func (q *Queries) ClientByID(ctx context.Context, id string) (*Client, error) {
	return FindOne[*Client](ctx, q.f, TableClients, id)
}

func (q *Queries) ClientCredentialByID(ctx context.Context, id string) (*ClientCredential, error) {
	return FindOne[*ClientCredential](ctx, q.f, TableClientCredentials, id)
}

func (q *Queries) PrefsSafesKeyByID(ctx context.Context, id string) (*PrefsSafesKey, error) {
	return FindOne[*PrefsSafesKey](ctx, q.f, TablePrefsSafesKeys, id)
}

// PrefsSafeByUserID follows user -> cloud safe credentials -> prefs safe.
func (q *Queries) PrefsSafeByUserID(ctx context.Context, userID string) ([]*PrefsSafe, error) {
	user, err := q.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		q.logger.DebugContext(ctx, "prefs safe lookup: no user", "table", TableUsers, "user_id", userID)
		return []*PrefsSafe{}, nil
	}

	creds, err := FindAll[*CloudSafeCredential](ctx, q.f, TableCloudSafeCredentials, "user_id", user.ID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		q.logger.DebugContext(ctx, "prefs safe lookup: no cloud safe credentials", "table", TableCloudSafeCredentials, "user_id", userID)
		return []*PrefsSafe{}, nil
	}

	safes := make([]*PrefsSafe, 0, len(creds))
	for _, c := range creds {
		safe, err := FindOne[*PrefsSafe](ctx, q.f, TablePrefsSafes, c.PrefsSafeID)
		if err != nil {
			return nil, err
		}
		if safe == nil {
			q.logger.DebugContext(ctx, "prefs safe lookup: dangling credential", "table", TablePrefsSafes, "prefs_safe_id", c.PrefsSafeID)
			continue
		}
		safes = append(safes, safe)
	}
	return safes, nil
}

// PrefsSafeByKey follows a non-revoked prefs safes key to its safe.
func (q *Queries) PrefsSafeByKey(ctx context.Context, key string) (*PrefsSafe, error) {
	k, err := q.PrefsSafesKeyByID(ctx, key)
	if err != nil {
		return nil, err
	}
	if k == nil || k.Revoked {
		q.logger.DebugContext(ctx, "prefs safe lookup: no live key", "table", TablePrefsSafesKeys)
		return nil, nil
	}
	safe, err := FindOne[*PrefsSafe](ctx, q.f, TablePrefsSafes, k.PrefsSafeID)
	if err != nil {
		return nil, err
	}
	if safe == nil {
		q.logger.DebugContext(ctx, "prefs safe lookup: dangling key", "table", TablePrefsSafes, "prefs_safe_id", k.PrefsSafeID)
	}
	return safe, nil
}

// ClientAndCredentialByOAuth2ClientID joins a live client credential with
// its live client. Either result is nil when absent.
func (q *Queries) ClientAndCredentialByOAuth2ClientID(ctx context.Context, oauth2ClientID string) (*Client, *ClientCredential, error) {
	creds, err := FindAll[*ClientCredential](ctx, q.f, TableClientCredentials, "oauth2_client_id", oauth2ClientID)
	if err != nil {
		return nil, nil, err
	}
	var cred *ClientCredential
	for _, c := range creds {
		if !c.Revoked {
			cred = c
			break
		}
	}
	if cred == nil {
		q.logger.DebugContext(ctx, "client lookup: no live credential", "table", TableClientCredentials)
		return nil, nil, nil
	}

	client, err := q.ClientByID(ctx, cred.ClientID)
	if err != nil {
		return nil, nil, err
	}
	if client == nil || client.Revoked() {
		q.logger.DebugContext(ctx, "client lookup: no live client", "table", TableClients, "client_id", cred.ClientID)
		return nil, cred, nil
	}
	return client, cred, nil
}

// AuthAndCredentialsByAccessToken follows access token -> live
// authorization -> client credential.
func (q *Queries) AuthAndCredentialsByAccessToken(ctx context.Context, accessToken string) (*TokenInfo, error) {
	info := &TokenInfo{AccessToken: accessToken}

	auths, err := FindAll[*Authorization](ctx, q.f, TableAuthorizations, "access_token", accessToken)
	if err != nil {
		return nil, err
	}
	var auth *Authorization
	for _, a := range auths {
		if !a.Revoked {
			auth = a
			break
		}
	}
	if auth == nil {
		q.logger.DebugContext(ctx, "token lookup: no live authorization", "table", TableAuthorizations)
		return info, nil
	}

	cred, err := q.ClientCredentialByID(ctx, auth.ClientCredentialID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		q.logger.DebugContext(ctx, "token lookup: no credential", "table", TableClientCredentials, "client_credential_id", auth.ClientCredentialID)
		return info, nil
	}

	info.Authorization = *auth
	info.Credentials = *cred
	return info, nil
}

// AuthorizationsByClientCredential lists every authorization, revoked or
// not, issued to a credential.
func (q *Queries) AuthorizationsByClientCredential(ctx context.Context, credentialID string) ([]*Authorization, error) {
	return FindAll[*Authorization](ctx, q.f, TableAuthorizations, "client_credential_id", credentialID)
}

// SsoProviderByName returns the live registration for a provider.
func (q *Queries) SsoProviderByName(ctx context.Context, provider string) (*SsoProvider, error) {
	ps, err := FindAll[*SsoProvider](ctx, q.f, TableSsoProviders, "provider", provider)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		if !p.Revoked {
			return p, nil
		}
	}
	q.logger.DebugContext(ctx, "sso provider lookup: none registered", "table", TableSsoProviders, "provider", provider)
	return nil, nil
}

func (q *Queries) SsoAccountByProviderUser(ctx context.Context, provider, providerUserID string) (*SsoAccount, error) {
	accounts, err := FindAll[*SsoAccount](ctx, q.f, TableSsoAccounts, "provider_user_id", providerUserID)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Provider == provider {
			return a, nil
		}
	}
	return nil, nil
}

// LiveSsoAccessToken returns the single non-revoked token row of an
// account and provider.
func (q *Queries) LiveSsoAccessToken(ctx context.Context, accountID, provider string) (*SsoAccessToken, error) {
	tokens, err := FindAll[*SsoAccessToken](ctx, q.f, TableSsoAccessTokens, "sso_account_id", accountID)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.Provider == provider && !t.Revoked {
			return t, nil
		}
	}
	return nil, nil
}
