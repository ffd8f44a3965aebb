// Package authz issues, resolves and revokes app installation
// authorizations: the access tokens that bind a client credential to a
// prefs safes key.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/metrics"
	"github.com/example/prefsauth/internal/store"
	"github.com/example/prefsauth/internal/token"
)

// DefaultLifetime is how long an issued access token stays valid.
const DefaultLifetime = 3600 * time.Second

// missingInputFields is the term substituted into MissingInput errors.
const missingInputFields = "PrefsSafes ID, client ID, or client credential ID"

const tracerName = "github.com/example/prefsauth/internal/authz"

// Store is the subset of store.Store the service needs.
type Store interface {
	store.Finder
	Insert(ctx context.Context, rec store.Record) error
	Update(ctx context.Context, rec store.Record) error
}

// Token is the only thing a caller learns about a new authorization.
type Token struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// Grant is the live privilege bundle behind an access token. Its JSON form
// is served by unauthenticated introspection, so network policy stays out.
type Grant struct {
	AccessToken        string   `json:"-"`
	PrefsSafesKey      string   `json:"prefsSafesKey,omitempty"`
	UserID             string   `json:"userId,omitempty"`
	ClientID           string   `json:"clientId"`
	ClientCredentialID string   `json:"clientCredentialId"`
	AllowedIPBlocks    []string `json:"-"`
	ExpiresIn          int      `json:"expiresIn"`
}

type Service struct {
	store    Store
	queries  *store.Queries
	tokens   token.Generator
	errs     *apierr.Catalog
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	lifetime time.Duration
	now      func() time.Time
}

type Option func(*Service)

// WithLifetime overrides DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(st Store, gen token.Generator, errs *apierr.Catalog, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		queries:  store.NewQueries(st, logger),
		tokens:   gen,
		errs:     errs,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GrantAppInstallationAuthorization authorizes clientCredentialID of
// clientID to act on prefsSafesKey. Every call mints a new token, even for
// a pair that already holds one.
func (s *Service) GrantAppInstallationAuthorization(ctx context.Context, prefsSafesKey, clientID, clientCredentialID string) (*Token, error) {
	ctx, span := s.tracer.Start(ctx, "authz.GrantAppInstallationAuthorization",
		trace.WithAttributes(
			attribute.String("oauth.client_id", clientID),
			attribute.String("oauth.client_credential_id", clientCredentialID),
		))
	defer span.End()

	tok, err := s.grant(ctx, prefsSafesKey, clientID, clientCredentialID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return tok, nil
}

func (s *Service) grant(ctx context.Context, prefsSafesKey, clientID, clientCredentialID string) (*Token, error) {
	if prefsSafesKey == "" || clientID == "" || clientCredentialID == "" {
		s.metrics.GrantRejected(metrics.ReasonMissingInput)
		return nil, s.errs.New(apierr.MissingInput, map[string]string{"fieldName": missingInputFields})
	}

	var (
		client *store.Client
		cred   *store.ClientCredential
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		client, err = s.queries.ClientByID(gctx, clientID)
		return err
	})
	g.Go(func() error {
		var err error
		cred, err = s.queries.ClientCredentialByID(gctx, clientCredentialID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading client and credential: %w", err)
	}

	if !s.liveClient(ctx, client, clientID) || !s.liveCredential(ctx, cred, clientCredentialID) {
		s.metrics.GrantRejected(metrics.ReasonUnknownClient)
		return nil, s.errs.New(apierr.Unauthorized, nil)
	}
	if cred.ClientID != clientID {
		s.logger.WarnContext(ctx, "client credential does not belong to client",
			"client_id", clientID, "client_credential_id", clientCredentialID)
		s.metrics.GrantRejected(metrics.ReasonOwnership)
		return nil, s.errs.New(apierr.Unauthorized, nil)
	}

	now := s.now().UTC()
	auth := &store.Authorization{
		ID:                 uuid.NewString(),
		Type:               store.TypeAuthorization,
		ClientID:           clientID,
		PrefsSafesKey:      prefsSafesKey,
		ClientCredentialID: clientCredentialID,
		AccessToken:        s.tokens.GenerateAccessToken(),
		TimestampCreated:   now,
		TimestampExpires:   now.Add(s.lifetime),
	}
	if err := s.store.Insert(ctx, auth); err != nil {
		return nil, fmt.Errorf("saving authorization: %w", err)
	}

	s.metrics.TokenIssued()
	s.logger.InfoContext(ctx, "issued app installation authorization",
		"authorization_id", auth.ID, "client_id", clientID, "client_credential_id", clientCredentialID)

	return &Token{
		AccessToken: auth.AccessToken,
		ExpiresIn:   int(s.lifetime / time.Second),
	}, nil
}

func (s *Service) liveClient(ctx context.Context, c *store.Client, id string) bool {
	switch {
	case c == nil:
		s.logger.DebugContext(ctx, "client not found", "client_id", id)
		return false
	case c.Type != store.TypeClient:
		s.logger.WarnContext(ctx, "mismatched doc type", "client_id", id, "type", c.Type, "expected", store.TypeClient)
		return false
	case c.Revoked():
		s.logger.DebugContext(ctx, "client revoked", "client_id", id)
		return false
	}
	return true
}

func (s *Service) liveCredential(ctx context.Context, c *store.ClientCredential, id string) bool {
	switch {
	case c == nil:
		s.logger.DebugContext(ctx, "client credential not found", "client_credential_id", id)
		return false
	case c.Type != store.TypeClientCredential:
		s.logger.WarnContext(ctx, "mismatched doc type", "client_credential_id", id, "type", c.Type, "expected", store.TypeClientCredential)
		return false
	case c.Revoked:
		s.logger.DebugContext(ctx, "client credential revoked", "client_credential_id", id)
		return false
	}
	return true
}

// GetInfoByAccessToken resolves an access token to its live authorization
// and the credential it was issued to. It returns nil when the token is
// unknown or revoked.
func (s *Service) GetInfoByAccessToken(ctx context.Context, accessToken string) (*store.TokenInfo, error) {
	ctx, span := s.tracer.Start(ctx, "authz.GetInfoByAccessToken")
	defer span.End()

	info, err := s.queries.AuthAndCredentialsByAccessToken(ctx, accessToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !info.Found() {
		return nil, nil
	}
	return info, nil
}

// FindGrant returns the grant behind accessToken, or nil when the token
// does not carry a live grant.
func (s *Service) FindGrant(ctx context.Context, accessToken string) (*Grant, error) {
	info, err := s.GetInfoByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	grant := s.grantFromInfo(info)
	s.metrics.GrantLookup(grant != nil)
	return grant, nil
}

func (s *Service) grantFromInfo(info *store.TokenInfo) *Grant {
	if info == nil {
		return nil
	}
	auth := info.Authorization
	if auth.Type != store.TypeAuthorization || auth.Revoked {
		return nil
	}
	if info.Credentials.Revoked {
		return nil
	}
	expiresIn := ExpiresIn(s.now(), auth.TimestampExpires)
	if expiresIn <= 0 {
		return nil
	}
	return &Grant{
		AccessToken:        auth.AccessToken,
		PrefsSafesKey:      auth.PrefsSafesKey,
		UserID:             auth.UserID,
		ClientID:           auth.ClientID,
		ClientCredentialID: auth.ClientCredentialID,
		AllowedIPBlocks:    info.Credentials.AllowedIPBlocks,
		ExpiresIn:          expiresIn,
	}
}

// RevokeAuthorization marks the live authorization of accessToken as
// revoked. The token and expiry are left untouched.
func (s *Service) RevokeAuthorization(ctx context.Context, accessToken, reason string) error {
	ctx, span := s.tracer.Start(ctx, "authz.RevokeAuthorization")
	defer span.End()

	if accessToken == "" {
		return s.errs.New(apierr.MissingInput, map[string]string{"fieldName": "access token"})
	}
	auths, err := store.FindAll[*store.Authorization](ctx, s.store, store.TableAuthorizations, "access_token", accessToken)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, a := range auths {
		if a.Revoked {
			continue
		}
		return s.revoke(ctx, a, reason)
	}
	return s.errs.New(apierr.MissingDoc, map[string]string{"docName": "the access token"})
}

// RevokeClientCredentialAuthorizations revokes every live authorization
// issued to a client credential and reports how many were revoked.
func (s *Service) RevokeClientCredentialAuthorizations(ctx context.Context, clientCredentialID, reason string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "authz.RevokeClientCredentialAuthorizations",
		trace.WithAttributes(attribute.String("oauth.client_credential_id", clientCredentialID)))
	defer span.End()

	auths, err := s.queries.AuthorizationsByClientCredential(ctx, clientCredentialID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	n := 0
	for _, a := range auths {
		if a.Revoked {
			continue
		}
		if err := s.revoke(ctx, a, reason); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Service) revoke(ctx context.Context, a *store.Authorization, reason string) error {
	now := s.now().UTC()
	a.Revoked = true
	a.RevokedReason = reason
	a.TimestampRevoked = &now
	if err := s.store.Update(ctx, a); err != nil {
		return fmt.Errorf("revoking authorization %s: %w", a.ID, err)
	}
	s.metrics.TokenRevoked()
	s.logger.InfoContext(ctx, "revoked app installation authorization",
		"authorization_id", a.ID, "client_credential_id", a.ClientCredentialID, "reason", reason)
	return nil
}

// ExpiresIn returns the whole seconds left until expires, or a value <= 0
// once it has passed.
func ExpiresIn(now, expires time.Time) int {
	return int(expires.Sub(now) / time.Second)
}
