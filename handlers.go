package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/exchange"
)

const maxBodyBytes = 1 << 20

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.WarnContext(r.Context(), "store not ready", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// HandleAccessToken is the password-grant token endpoint. The client
// authenticates with client_id/client_secret in the body or with HTTP
// Basic; username carries the prefs safes key.
// POST /access_token
func (a *App) HandleAccessToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := readParams(w, r)
	if err != nil {
		a.writeError(w, r, a.errs.New(apierr.MissingInput, map[string]string{"fieldName": "request body"}))
		return
	}

	clientID, clientSecret := params["client_id"], params["client_secret"]
	if clientID == "" {
		if id, secret, ok := r.BasicAuth(); ok {
			clientID, clientSecret = id, secret
		}
	}
	info, err := a.clients.AuthenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	switch gt := params["grant_type"]; gt {
	case exchange.GrantType:
	case "":
		a.writeError(w, r, a.errs.New(apierr.MissingInput, map[string]string{"fieldName": "grant_type"}))
		return
	default:
		a.writeError(w, r, a.errs.New(apierr.InvalidGrantType, map[string]string{"grantType": gt}))
		return
	}

	res, err := a.exchanger.Exchange(ctx, exchange.Request{
		Client:   info,
		Username: params["username"],
		Password: params["password"],
		Scope:    params["scope"],
		IP:       a.clientIP(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSSOLogin redirects the browser to the provider's consent page.
// GET /sso/{provider}/login
func (a *App) HandleSSOLogin(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	target, err := a.sso.AuthorizeURL(r.Context(), provider)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleSSOCallback finishes a login attempt and returns the local login
// token. Provider errors are forwarded as the provider sent them.
// GET /sso/{provider}/callback
func (a *App) HandleSSOCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	q := r.URL.Query()
	res, err := a.sso.Callback(r.Context(), provider, q.Get("code"), q.Get("state"))
	if err != nil {
		a.writeProviderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readParams flattens a JSON object or a form body into a string map.
func readParams(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, err
		}
		params := make(map[string]string, len(raw))
		for k, v := range raw {
			switch v := v.(type) {
			case string:
				params[k] = v
			case nil:
			default:
				params[k] = fmt.Sprint(v)
			}
		}
		return params, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(r.Form))
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}
	return params, nil
}
