package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"jiralink.dev/internal/audit"
	"jiralink.dev/internal/auth"
	"jiralink.dev/internal/credentials"
)

// stateTTL bounds how long a consent round trip may take.
const stateTTL = 10 * time.Minute

type registerCredentialsRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type statusResponse struct {
	Success bool `json:"success"`
	credentials.Status
}

func (a *API) handleRegisterCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req registerCredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.ClientSecret) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "client_id and client_secret are required")
		return
	}
	rec, err := a.deps.Credentials.Register(r.Context(), id.TenantID, req.ClientID, req.ClientSecret)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "connection.credentials.register", map[string]any{
		"client_id": rec.ClientID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Jira credentials saved",
		"client_id": rec.ClientID,
	})
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	state, err := a.deps.Tokens.GenerateState(id, stateTTL)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	target, err := a.deps.Refresher.AuthorizeURL(r.Context(), id, state)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"url":     target,
		})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleCallback completes the authorization-code grant. The caller comes
// from the bearer token when present, otherwise from the signed state. When
// both are present they must name the same caller.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		msg := denied
		if desc := q.Get("error_description"); desc != "" {
			msg += ": " + desc
		}
		writeError(w, r, http.StatusBadRequest, "authorization_denied", msg)
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "No code provided")
		return
	}

	ctx := r.Context()
	id, hasBearer := auth.IdentityFromContext(ctx)
	if state := q.Get("state"); state != "" || !hasBearer {
		stateID, err := a.deps.Tokens.ResolveState(state)
		if err != nil || (hasBearer && stateID != id) {
			unauthorized(w, r, "invalid or expired state")
			return
		}
		id = stateID
		ctx = auth.ContextWithIdentity(ctx, id)
	}

	rec, err := a.deps.Refresher.ExchangeCode(ctx, id, code)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "connection.callback", map[string]any{
		"token_expires_at": rec.TokenExpiresAt,
	})
	if a.deps.CallbackRedirectURL != "" {
		http.Redirect(w, r, a.deps.CallbackRedirectURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          "Jira connected",
		"token_expires_at": rec.TokenExpiresAt,
	})
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	rec, err := a.deps.Refresher.Current(r.Context(), id.TenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"token_expires_at": rec.TokenExpiresAt,
	})
}

func (a *API) handleResolveCloud(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	cloudID, err := a.deps.CloudIDs.ResolveCloudID(r.Context(), id.TenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "connection.cloud.resolve", map[string]any{
		"cloud_id": cloudID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Cloud ID fetched and saved successfully",
		"cloud_id": cloudID,
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	var recPtr *credentials.Record
	rec, err := a.deps.Credentials.Get(r.Context(), id.TenantID)
	switch {
	case err == nil:
		recPtr = &rec
	case !errors.Is(err, credentials.ErrNotFound):
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Success: true,
		Status:  credentials.Report(recPtr, id.Role),
	})
}

// identity returns the authenticated caller or writes 401.
func (a *API) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := auth.Require(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return auth.Identity{}, false
	}
	return id, true
}
