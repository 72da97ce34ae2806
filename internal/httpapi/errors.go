package httpapi

import (
	"errors"
	"net/http"

	"jiralink.dev/internal/access"
	"jiralink.dev/internal/auth"
	"jiralink.dev/internal/credentials"
	"jiralink.dev/internal/jira"
	"jiralink.dev/internal/obs"
	"jiralink.dev/internal/projects"
	"jiralink.dev/internal/tenant"
)

type upstreamBody struct {
	Op     string `json:"op"`
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// writeDomainError maps service errors onto the JSON error envelope.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *credentials.UpstreamAuthError
	var syncErr *projects.UpstreamSyncError
	switch {
	case errors.As(err, &authErr):
		writeUpstreamError(w, r, "upstream_auth_failed", "issue tracker rejected the authorization request", authErr.Upstream)
	case errors.As(err, &syncErr):
		writeUpstreamError(w, r, "upstream_sync_failed", "issue tracker rejected the project search", syncErr.Upstream)

	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		unauthorized(w, r, "authentication required")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "role not permitted for this resource")

	case errors.Is(err, credentials.ErrInvalidInput), errors.Is(err, projects.ErrInvalidInput),
		errors.Is(err, access.ErrInvalidInput), errors.Is(err, tenant.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, credentials.ErrNoConnection):
		writeError(w, r, http.StatusBadRequest, "no_connection", "Jira connection not found")
	case errors.Is(err, credentials.ErrMissingCredentials):
		writeError(w, r, http.StatusBadRequest, "missing_credentials", "Jira credentials are missing")
	case errors.Is(err, projects.ErrIncompleteCredentials):
		writeError(w, r, http.StatusBadRequest, "incomplete_credentials", "Incomplete Jira credentials")
	case errors.Is(err, projects.ErrCloudIDNotResolved):
		writeError(w, r, http.StatusBadRequest, "cloud_id_not_resolved", "Cloud ID has not been resolved")
	case errors.Is(err, credentials.ErrNoCloudResourceFound):
		writeError(w, r, http.StatusNotFound, "no_cloud_resource", "Cloud ID not found")
	case errors.Is(err, access.ErrRequestNotFound):
		writeError(w, r, http.StatusNotFound, "request_not_found", "Pending request not found for this project")
	case errors.Is(err, access.ErrProjectNotFound), errors.Is(err, projects.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "project_not_found", "Project not found")
	case errors.Is(err, access.ErrDuplicatePending):
		writeError(w, r, http.StatusConflict, "duplicate_pending", "An access request for this project is already pending")
	case errors.Is(err, credentials.ErrNotFound), errors.Is(err, tenant.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")

	default:
		obs.Logger().ErrorContext(r.Context(), "request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, "server_error", "Server error")
	}
}

func writeUpstreamError(w http.ResponseWriter, r *http.Request, code, msg string, ue *jira.UpstreamError) {
	payload := map[string]any{
		"success": false,
		"code":    code,
		"message": msg,
	}
	if ue != nil {
		payload["upstream"] = upstreamBody{Op: ue.Op, Status: ue.Status, Body: ue.Body}
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadGateway, payload)
}
