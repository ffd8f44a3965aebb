// Package exchange implements the password-grant shaped token exchange: an
// authenticated client trades a prefs safes key (sent as the username) for
// an access token, subject to its IP allow-list and create privileges.
package exchange

import (
	"context"
	"log/slog"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/authz"
	"github.com/example/prefsauth/internal/clientauth"
	"github.com/example/prefsauth/internal/metrics"
	"github.com/example/prefsauth/internal/store"
)

// GrantType is the only grant_type the exchange accepts.
const GrantType = "password"

// Granter mints access tokens. *authz.Service satisfies it.
type Granter interface {
	GrantAppInstallationAuthorization(ctx context.Context, prefsSafesKey, clientID, clientCredentialID string) (*authz.Token, error)
}

// KeyFinder looks up prefs safes keys. *store.Queries satisfies it.
type KeyFinder interface {
	PrefsSafesKeyByID(ctx context.Context, id string) (*store.PrefsSafesKey, error)
}

// Request carries one token request after client authentication.
// Password is accepted for wire compatibility and ignored.
type Request struct {
	Client   *clientauth.ClientInfo
	Username string
	Password string
	Scope    string
	IP       string
}

// Result is the success body of the exchange. ExpiresIn travels next to
// the token, never inside it.
type Result struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

type Handler struct {
	granter Granter
	keys    KeyFinder
	errs    *apierr.Catalog
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHandler(g Granter, keys KeyFinder, errs *apierr.Catalog, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{granter: g, keys: keys, errs: errs, logger: logger, metrics: m}
}

// Exchange applies the IP allow-list and then the create-privilege policy:
// a fully privileged credential is granted a token for any key, a
// restricted one only for a key that already exists.
func (h *Handler) Exchange(ctx context.Context, req Request) (*Result, error) {
	if req.Client == nil || req.Client.Client == nil {
		return nil, h.errs.New(apierr.Unauthorized, nil)
	}
	cred := req.Client.ClientCredential

	if len(cred.AllowedIPBlocks) > 0 && !IPAllowed(req.IP, cred.AllowedIPBlocks) {
		h.logger.WarnContext(ctx, "token request from address outside allowed blocks",
			"client_credential_id", cred.ID, "ip", req.IP)
		h.metrics.GrantRejected(metrics.ReasonIPBlock)
		return nil, h.errs.New(apierr.Unauthorized, nil)
	}

	if !cred.FullyPrivileged() {
		exists, err := h.keyExists(ctx, req.Username)
		if err != nil {
			return nil, err
		}
		if !exists {
			h.logger.InfoContext(ctx, "restricted client asked for a key that does not exist",
				"client_credential_id", cred.ID)
			h.metrics.GrantRejected(metrics.ReasonPrivilege)
			return nil, h.errs.New(apierr.Unauthorized, nil)
		}
	}

	tok, err := h.granter.GrantAppInstallationAuthorization(ctx, req.Username, req.Client.Client.ID, cred.ID)
	if err != nil {
		return nil, err
	}
	return &Result{AccessToken: tok.AccessToken, ExpiresIn: tok.ExpiresIn}, nil
}

func (h *Handler) keyExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	k, err := h.keys.PrefsSafesKeyByID(ctx, key)
	if err != nil {
		return false, err
	}
	return k != nil && !k.Revoked, nil
}
