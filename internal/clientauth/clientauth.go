// Package clientauth verifies OAuth2 client id/secret pairs against the
// stored client credentials.
package clientauth

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/metrics"
	"github.com/example/prefsauth/internal/store"
)

// Credential is the part of a client credential that may travel past
// client authentication. It deliberately has no secret field.
type Credential struct {
	ID                       string   `json:"id"`
	AllowedIPBlocks          []string `json:"allowedIPBlocks,omitempty"`
	IsCreateGpiiKeyAllowed   bool     `json:"isCreateGpiiKeyAllowed"`
	IsCreatePrefsSafeAllowed bool     `json:"isCreatePrefsSafeAllowed"`
}

// ClientInfo is the authenticated client context handed to the token
// exchange.
type ClientInfo struct {
	Client           *store.Client `json:"client"`
	ClientCredential Credential    `json:"clientCredential"`
}

// FullyPrivileged reports whether the credential may create both keys and
// prefs safes.
func (c Credential) FullyPrivileged() bool {
	return c.IsCreateGpiiKeyAllowed && c.IsCreatePrefsSafeAllowed
}

type Authenticator struct {
	queries *store.Queries
	errs    *apierr.Catalog
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(f store.Finder, errs *apierr.Catalog, logger *slog.Logger, m *metrics.Metrics) *Authenticator {
	return &Authenticator{
		queries: store.NewQueries(f, logger),
		errs:    errs,
		logger:  logger,
		metrics: m,
	}
}

// AuthenticateClient checks secret against the live credential registered
// under oauth2ClientID. Store errors are returned unchanged; every other
// failure is Unauthorized.
func (a *Authenticator) AuthenticateClient(ctx context.Context, oauth2ClientID, secret string) (*ClientInfo, error) {
	if oauth2ClientID == "" || secret == "" {
		return nil, a.reject(ctx, oauth2ClientID, "missing client id or secret")
	}

	client, cred, err := a.queries.ClientAndCredentialByOAuth2ClientID(ctx, oauth2ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil || cred == nil {
		return nil, a.reject(ctx, oauth2ClientID, "no live client")
	}
	if subtle.ConstantTimeCompare([]byte(cred.OAuth2ClientSecret), []byte(secret)) != 1 {
		return nil, a.reject(ctx, oauth2ClientID, "secret mismatch")
	}

	return &ClientInfo{
		Client: client,
		ClientCredential: Credential{
			ID:                       cred.ID,
			AllowedIPBlocks:          cred.AllowedIPBlocks,
			IsCreateGpiiKeyAllowed:   cred.IsCreateGpiiKeyAllowed,
			IsCreatePrefsSafeAllowed: cred.IsCreatePrefsSafeAllowed,
		},
	}, nil
}

func (a *Authenticator) reject(ctx context.Context, oauth2ClientID, why string) error {
	a.logger.InfoContext(ctx, "client authentication failed", "oauth2_client_id", oauth2ClientID, "reason", why)
	a.metrics.GrantRejected(metrics.ReasonClientAuth)
	return a.errs.New(apierr.Unauthorized, nil)
}
