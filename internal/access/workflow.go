package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"jiralink.dev/internal/credentials"
	"jiralink.dev/internal/ids"
	"jiralink.dev/internal/obs"
	"jiralink.dev/internal/projects"
	"jiralink.dev/internal/tenant"
)

// AccessStatus is the employee-facing view of a project's request state.
type AccessStatus string

const (
	AccessIdle     AccessStatus = "idle"
	AccessPending  AccessStatus = "pending"
	AccessAccepted AccessStatus = "accepted"
)

// EmployeeSummary is the public part of the requesting employee.
type EmployeeSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ProjectSummary is the display part of the target project.
type ProjectSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key"`
}

// PendingView is a PENDING request joined with its display fields.
type PendingView struct {
	Request
	Employee EmployeeSummary `json:"employee"`
	Project  ProjectSummary  `json:"project"`
}

// ProjectAccess is an organization project annotated for one employee.
type ProjectAccess struct {
	projects.Project
	AccessStatus AccessStatus `json:"access_status"`
}

// Workflow drives access requests between employees and organizations.
type Workflow struct {
	store     Store
	projects  projects.Store
	creds     credentials.Store
	directory tenant.Directory
	now       func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock overrides the workflow clock.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorkflow wires the workflow to its stores.
func NewWorkflow(store Store, projectStore projects.Store, creds credentials.Store, directory tenant.Directory, opts ...Option) *Workflow {
	w := &Workflow{
		store:     store,
		projects:  projectStore,
		creds:     creds,
		directory: directory,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RequestAccess files a PENDING request for a project of the employee's organization.
func (w *Workflow) RequestAccess(ctx context.Context, employeeID, projectID string) (Request, error) {
	employeeID = strings.TrimSpace(employeeID)
	projectID = strings.TrimSpace(projectID)
	if employeeID == "" || projectID == "" {
		return Request{}, ErrInvalidInput
	}
	emp, err := w.directory.Employee(ctx, employeeID)
	if err != nil {
		return Request{}, err
	}
	if _, err := w.organizationProject(ctx, emp.OrganizationID, projectID); err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return Request{}, ErrProjectNotFound
		}
		return Request{}, err
	}

	now := w.now()
	req, err := w.store.Create(ctx, Request{
		ID:         ids.NewAt(now),
		EmployeeID: employeeID,
		ProjectID:  projectID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Request{}, err
	}
	obs.AccessRequestTransition("requested")
	return req, nil
}

// Accept moves the employee's PENDING request on one of the organization's
// projects to ACCEPTED. Nothing is mutated when no request matches.
func (w *Workflow) Accept(ctx context.Context, organizationID, projectID, employeeID string) (Request, error) {
	if err := w.requireConnection(ctx, organizationID); err != nil {
		return Request{}, err
	}
	if _, err := w.organizationProject(ctx, organizationID, projectID); err != nil {
		if errors.Is(err, projects.ErrNotFound) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, err
	}
	req, err := w.store.AcceptPending(ctx, projectID, employeeID, w.now())
	if err != nil {
		return Request{}, err
	}
	obs.AccessRequestTransition("accepted")
	return req, nil
}

// ListPending returns PENDING requests on the organization's own projects.
func (w *Workflow) ListPending(ctx context.Context, organizationID string) ([]PendingView, error) {
	if err := w.requireConnection(ctx, organizationID); err != nil {
		return nil, err
	}
	owned, err := w.projects.ListByTenant(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if len(owned) == 0 {
		return []PendingView{}, nil
	}
	byID := make(map[string]projects.Project, len(owned))
	projectIDs := make([]string, 0, len(owned))
	for _, p := range owned {
		byID[p.ID] = p
		projectIDs = append(projectIDs, p.ID)
	}

	reqs, err := w.store.ListPending(ctx, projectIDs)
	if err != nil {
		return nil, err
	}
	out := make([]PendingView, 0, len(reqs))
	employees := map[string]EmployeeSummary{}
	for _, r := range reqs {
		es, ok := employees[r.EmployeeID]
		if !ok {
			es = EmployeeSummary{ID: r.EmployeeID}
			emp, err := w.directory.Employee(ctx, r.EmployeeID)
			switch {
			case err == nil:
				es.Username, es.Email = emp.Username, emp.Email
			case !errors.Is(err, tenant.ErrNotFound):
				return nil, err
			}
			employees[r.EmployeeID] = es
		}
		p := byID[r.ProjectID]
		out = append(out, PendingView{
			Request:  r,
			Employee: es,
			Project:  ProjectSummary{ID: p.ID, Name: p.Name, Key: p.Key},
		})
	}
	return out, nil
}

// ProjectsForEmployee lists the employee's organization projects with the
// employee's request state on each.
func (w *Workflow) ProjectsForEmployee(ctx context.Context, employeeID string) ([]ProjectAccess, error) {
	emp, err := w.directory.Employee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	owned, err := w.projects.ListByTenant(ctx, emp.OrganizationID)
	if err != nil {
		return nil, err
	}
	reqs, err := w.store.ListByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	state := make(map[string]AccessStatus, len(reqs))
	for _, r := range reqs {
		switch {
		case r.Status == StatusAccepted:
			state[r.ProjectID] = AccessAccepted
		case state[r.ProjectID] == "":
			state[r.ProjectID] = AccessPending
		}
	}
	out := make([]ProjectAccess, 0, len(owned))
	for _, p := range owned {
		st := state[p.ID]
		if st == "" {
			st = AccessIdle
		}
		out = append(out, ProjectAccess{Project: p, AccessStatus: st})
	}
	return out, nil
}

func (w *Workflow) requireConnection(ctx context.Context, organizationID string) error {
	_, err := w.creds.Get(ctx, organizationID)
	if errors.Is(err, credentials.ErrNotFound) || errors.Is(err, credentials.ErrInvalidInput) {
		return credentials.ErrNoConnection
	}
	return err
}

func (w *Workflow) organizationProject(ctx context.Context, organizationID, projectID string) (projects.Project, error) {
	p, err := w.projects.Get(ctx, projectID)
	if err != nil {
		return projects.Project{}, err
	}
	if organizationID == "" || p.TenantID != organizationID {
		return projects.Project{}, projects.ErrNotFound
	}
	return p, nil
}
