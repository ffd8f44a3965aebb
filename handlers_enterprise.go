package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/authz"
)

type introspection struct {
	Active bool `json:"active"`
	*authz.Grant
}

// HandleIntrospect tells a resource server whether an access token
// carries a live grant and what it grants.
// POST /api/v1/grants/introspect
func (a *App) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		a.writeError(w, r, a.errs.New(apierr.MissingInput, map[string]string{"fieldName": "request body"}))
		return
	}
	tok := params["token"]
	if tok == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			tok = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if tok == "" {
		a.writeError(w, r, a.errs.New(apierr.MissingInput, map[string]string{"fieldName": "token"}))
		return
	}

	grant, err := a.authz.FindGrant(r.Context(), tok)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if grant == nil {
		writeJSON(w, http.StatusOK, introspection{Active: false})
		return
	}
	writeJSON(w, http.StatusOK, introspection{Active: true, Grant: grant})
}

// HandleRevokeAuthorization revokes the authorization behind one access
// token.
// POST /api/v1/admin/authorizations/revoke
func (a *App) HandleRevokeAuthorization(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		a.writeError(w, r, a.errs.New(apierr.MissingInput, map[string]string{"fieldName": "request body"}))
		return
	}
	if err := a.authz.RevokeAuthorization(r.Context(), params["accessToken"], params["reason"]); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// HandleRevokeCredentialAuthorizations revokes every live authorization of
// a client credential, e.g. after its secret leaked.
// POST /api/v1/admin/client-credentials/{id}/revoke-authorizations
func (a *App) HandleRevokeCredentialAuthorizations(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		params = map[string]string{}
	}
	n, err := a.authz.RevokeClientCredentialAuthorizations(r.Context(), mux.Vars(r)["id"], params["reason"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
