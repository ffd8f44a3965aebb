package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/example/prefsauth/internal/apierr"
	"github.com/example/prefsauth/internal/sso"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "error", err)
	}
}

// writeError writes err as a taxonomy body. Errors outside the taxonomy
// are logged and reported as Internal so no store or network detail leaks.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := apierr.As(err); ok {
		writeJSON(w, e.StatusCode, e)
		return
	}
	a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	e := a.errs.New(apierr.Internal, nil)
	writeJSON(w, e.StatusCode, e)
}

// writeProviderError forwards an identity provider's error response
// unchanged. Anything else goes through writeError.
func (a *App) writeProviderError(w http.ResponseWriter, r *http.Request, err error) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		forwardUpstream(w, re.Response.StatusCode, re.Response.Header.Get("Content-Type"), re.Body)
		return
	}
	var ue *sso.UpstreamError
	if errors.As(err, &ue) {
		forwardUpstream(w, ue.StatusCode, "application/json", ue.Body)
		return
	}
	a.writeError(w, r, err)
}

func forwardUpstream(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
