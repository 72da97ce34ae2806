package httpapi

import (
	"net/http"

	"jiralink.dev/internal/audit"
)

func (a *API) handleSyncProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	list, err := a.deps.Sync.Sync(r.Context(), id.TenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "projects.sync", map[string]any{
		"count": len(list),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Projects synced successfully",
		"projects": list,
	})
}

func (a *API) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	list, err := a.deps.Sync.List(r.Context(), id.TenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"projects": list,
	})
}

func (a *API) handleOrganizationProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	list, err := a.deps.Access.ProjectsForEmployee(r.Context(), id.TenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"projects": list,
	})
}
