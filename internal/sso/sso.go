// Package sso links external identity provider logins to local users.
//
// A login attempt moves through AuthorizeRequested, CodeReceived,
// TokenExchanged, ProfileFetched and AccountUpserted before it is Linked.
// Any failure ends it in Failed with the originating error: provider
// errors are returned as the provider reported them, not translated into
// the apierr taxonomy.
package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/metrics"
	"github.com/example/prefsauth/internal/store"
)

// State of a login attempt.
type State string

const (
	StateAuthorizeRequested State = "authorize_requested"
	StateCodeReceived       State = "code_received"
	StateTokenExchanged     State = "token_exchanged"
	StateProfileFetched     State = "profile_fetched"
	StateAccountUpserted    State = "account_upserted"
	StateLinked             State = "linked"
	StateFailed             State = "failed"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Endpoints are the three provider URLs a login attempt talks to.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleEndpoints returns Google's production endpoints.
func GoogleEndpoints() Endpoints {
	return Endpoints{
		AuthURL:     google.Endpoint.AuthURL,
		TokenURL:    google.Endpoint.TokenURL,
		UserInfoURL: googleUserInfoURL,
	}
}

// UpstreamError is a non-200 profile response, passed on as received.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s userinfo request failed with status %d", e.Provider, e.StatusCode)
}

// Store is the subset of store.Store the linker needs.
type Store interface {
	store.Finder
	Insert(ctx context.Context, rec store.Record) error
	Update(ctx context.Context, rec store.Record) error
}

// Config wires a Linker.
type Config struct {
	// RedirectBaseURL is this service's public base URL; callbacks land on
	// {RedirectBaseURL}/sso/{provider}/callback.
	RedirectBaseURL string
	Providers       map[string]Endpoints
	Scopes          []string
	NonceTTL        time.Duration
	HTTPClient      *http.Client
	Now             func() time.Time
}

// Result is returned once a login attempt is Linked.
type Result struct {
	LoginToken   string `json:"loginToken"`
	UserID       string `json:"userId"`
	SsoAccountID string `json:"ssoAccountId"`
}

type Linker struct {
	store      Store
	queries    *store.Queries
	nonces     NonceStore
	signer     *LoginTokenSigner
	errs       *apierr.Catalog
	logger     *slog.Logger
	metrics    *metrics.Metrics
	redirect   string
	providers  map[string]Endpoints
	scopes     []string
	nonceTTL   time.Duration
	httpClient *http.Client
	now        func() time.Time
}

func NewLinker(st Store, nonces NonceStore, signer *LoginTokenSigner, errs *apierr.Catalog, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Linker {
	l := &Linker{
		store:      st,
		queries:    store.NewQueries(st, logger),
		nonces:     nonces,
		signer:     signer,
		errs:       errs,
		logger:     logger,
		metrics:    m,
		redirect:   cfg.RedirectBaseURL,
		providers:  cfg.Providers,
		scopes:     cfg.Scopes,
		nonceTTL:   cfg.NonceTTL,
		httpClient: cfg.HTTPClient,
		now:        cfg.Now,
	}
	if l.providers == nil {
		l.providers = map[string]Endpoints{"google": GoogleEndpoints()}
	}
	if len(l.scopes) == 0 {
		l.scopes = []string{"openid", "email", "profile"}
	}
	if l.nonceTTL <= 0 {
		l.nonceTTL = DefaultNonceTTL
	}
	if l.httpClient == nil {
		l.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// AuthorizeURL starts a login attempt with provider and returns the URL
// to redirect the browser to.
func (l *Linker) AuthorizeURL(ctx context.Context, provider string) (string, error) {
	cfg, err := l.oauth2Config(ctx, provider)
	if err != nil {
		return "", err
	}
	state, err := newNonce()
	if err != nil {
		return "", err
	}
	if err := l.nonces.Put(ctx, state, l.nonceTTL); err != nil {
		return "", err
	}
	l.logger.DebugContext(ctx, "sso login started", "provider", provider, "state", StateAuthorizeRequested)
	return cfg.AuthCodeURL(state), nil
}

// Callback completes a login attempt from the provider's redirect.
func (l *Linker) Callback(ctx context.Context, provider, code, state string) (*Result, error) {
	res, stage, err := l.callback(ctx, provider, code, state)
	if err != nil {
		l.logger.WarnContext(ctx, "sso login failed", "provider", provider, "stage", stage, "state", StateFailed, "error", err)
		l.metrics.SsoLogin(provider, string(StateFailed))
		return nil, err
	}
	l.logger.InfoContext(ctx, "sso login linked", "provider", provider, "user_id", res.UserID, "sso_account_id", res.SsoAccountID)
	l.metrics.SsoLogin(provider, string(StateLinked))
	return res, nil
}

func (l *Linker) callback(ctx context.Context, provider, code, state string) (*Result, State, error) {
	terms := map[string]string{"provider": provider}
	if code == "" {
		return nil, StateAuthorizeRequested, l.errs.New(apierr.MissingAuthCode, terms)
	}
	ok, err := l.nonces.Take(ctx, state)
	if err != nil {
		return nil, StateAuthorizeRequested, err
	}
	if state == "" || !ok {
		return nil, StateAuthorizeRequested, l.errs.New(apierr.InvalidState, terms)
	}

	cfg, err := l.oauth2Config(ctx, provider)
	if err != nil {
		return nil, StateCodeReceived, err
	}
	tok, err := cfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, l.httpClient), code)
	if err != nil {
		return nil, StateCodeReceived, err
	}

	profile, raw, err := l.fetchProfile(ctx, provider, tok.AccessToken)
	if err != nil {
		return nil, StateTokenExchanged, err
	}

	account, err := l.upsertAccount(ctx, provider, profile, raw)
	if err != nil {
		return nil, StateProfileFetched, err
	}

	loginToken, err := l.upsertAccessToken(ctx, provider, account, tok)
	if err != nil {
		return nil, StateAccountUpserted, err
	}
	return &Result{LoginToken: loginToken, UserID: account.UserID, SsoAccountID: account.ID}, StateLinked, nil
}

func (l *Linker) oauth2Config(ctx context.Context, provider string) (*oauth2.Config, error) {
	ep, ok := l.providers[provider]
	reg, err := l.queries.SsoProviderByName(ctx, provider)
	if err != nil {
		return nil, err
	}
	if !ok || reg == nil {
		return nil, l.errs.New(apierr.MissingDoc, map[string]string{"docName": "the SSO provider " + provider})
	}
	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  l.redirect + "/sso/" + url.PathEscape(provider) + "/callback",
		Scopes:       l.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ep.AuthURL,
			TokenURL:  ep.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

type profile struct {
	Sub   string `json:"sub"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (p profile) userID() string {
	if p.Sub != "" {
		return p.Sub
	}
	return p.ID
}

func (l *Linker) fetchProfile(ctx context.Context, provider, accessToken string) (*profile, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.providers[provider].UserInfoURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Body: body}
	}

	var p profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, nil, fmt.Errorf("decoding %s userinfo: %w", provider, err)
	}
	if p.userID() == "" {
		return nil, nil, fmt.Errorf("%s userinfo has no user id", provider)
	}
	return &p, json.RawMessage(body), nil
}

// upsertAccount resolves the account by the provider's user id, creating
// the user and account on first login and refreshing the stored profile
// otherwise.
func (l *Linker) upsertAccount(ctx context.Context, provider string, p *profile, raw json.RawMessage) (*store.SsoAccount, error) {
	now := l.now().UTC()
	account, err := l.queries.SsoAccountByProviderUser(ctx, provider, p.userID())
	if err != nil {
		return nil, err
	}
	if account != nil {
		account.UserInfo = raw
		account.TimestampUpdated = &now
		if err := l.store.Update(ctx, account); err != nil {
			return nil, fmt.Errorf("updating sso account: %w", err)
		}
		return account, nil
	}

	user := &store.User{
		ID:               uuid.NewString(),
		Type:             store.TypeUser,
		Name:             p.Name,
		Username:         p.Email,
		Verified:         true,
		Roles:            []string{"user"},
		TimestampCreated: now,
	}
	if err := l.store.Insert(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	account = &store.SsoAccount{
		ID:               uuid.NewString(),
		Type:             store.TypeSsoAccount,
		UserID:           user.ID,
		Provider:         provider,
		ProviderUserID:   p.userID(),
		UserInfo:         raw,
		TimestampCreated: now,
	}
	if err := l.store.Insert(ctx, account); err != nil {
		return nil, fmt.Errorf("creating sso account: %w", err)
	}
	return account, nil
}

// upsertAccessToken keeps exactly one live token row per account and
// provider. The login token is reissued only when the provider access
// token changed, so an unchanged token keeps existing sessions valid.
func (l *Linker) upsertAccessToken(ctx context.Context, provider string, account *store.SsoAccount, tok *oauth2.Token) (string, error) {
	now := l.now().UTC()
	expires := tok.Expiry
	if expires.IsZero() {
		// Providers may omit expires_in; the row then lives as long as
		// the login token it backs.
		expires = now.Add(l.signer.Lifetime())
	}

	row, err := l.queries.LiveSsoAccessToken(ctx, account.ID, provider)
	if err != nil {
		return "", err
	}
	if row != nil && row.AccessToken == tok.AccessToken {
		return row.LoginToken, nil
	}

	loginToken, err := l.signer.Sign(account.UserID, account.ID, provider, now)
	if err != nil {
		return "", err
	}

	if row == nil {
		row = &store.SsoAccessToken{
			ID:               uuid.NewString(),
			Type:             store.TypeSsoAccessToken,
			SsoAccountID:     account.ID,
			Provider:         provider,
			AccessToken:      tok.AccessToken,
			RefreshToken:     tok.RefreshToken,
			LoginToken:       loginToken,
			ExpiresAt:        expires,
			TimestampCreated: now,
		}
		if err := l.store.Insert(ctx, row); err != nil {
			return "", fmt.Errorf("creating sso access token: %w", err)
		}
		return loginToken, nil
	}

	row.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		row.RefreshToken = tok.RefreshToken
	}
	row.LoginToken = loginToken
	row.ExpiresAt = expires
	row.TimestampUpdated = &now
	if err := l.store.Update(ctx, row); err != nil {
		return "", fmt.Errorf("updating sso access token: %w", err)
	}
	return loginToken, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
