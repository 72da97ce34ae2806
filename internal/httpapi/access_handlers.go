package httpapi

import (
	"net/http"
	"strings"

	"jiralink.dev/internal/audit"
)

type requestAccessRequest struct {
	ProjectID string `json:"project_id"`
}

type acceptRequest struct {
	ProjectID  string `json:"project_id"`
	EmployeeID string `json:"employee_id"`
}

func (a *API) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req requestAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "project_id is required")
		return
	}
	created, err := a.deps.Access.RequestAccess(r.Context(), id.TenantID, req.ProjectID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.request", map[string]any{
		"request_id": created.ID,
		"project_id": created.ProjectID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Access request sent successfully.",
		"request": created,
	})
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	pending, err := a.deps.Access.ListPending(r.Context(), id.TenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"requests": pending,
	})
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req acceptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.EmployeeID) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "Missing project_id or employee_id")
		return
	}
	updated, err := a.deps.Access.Accept(r.Context(), id.TenantID, req.ProjectID, req.EmployeeID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.accept", map[string]any{
		"request_id":  updated.ID,
		"project_id":  updated.ProjectID,
		"employee_id": updated.EmployeeID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"request": updated,
	})
}
