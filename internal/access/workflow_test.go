package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jiralink.dev/internal/credentials"
	"jiralink.dev/internal/projects"
	"jiralink.dev/internal/tenant"
)

type fixture struct {
	wf       *Workflow
	store    *Memory
	projects *projects.Memory
	creds    *credentials.Memory
	app      projects.Project
	web      projects.Project
	foreign  projects.Project
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	dir := tenant.NewMemory()
	dir.PutOrganization(tenant.Organization{ID: "org-1", Username: "acme", Email: "ops@acme.test"})
	dir.PutOrganization(tenant.Organization{ID: "org-2", Username: "globex"})
	dir.PutEmployee(tenant.Employee{ID: "emp-1", Username: "jo", Email: "jo@acme.test", OrganizationID: "org-1"})
	dir.PutEmployee(tenant.Employee{ID: "emp-2", Username: "sam", Email: "sam@acme.test", OrganizationID: "org-1"})

	ps := projects.NewMemory()
	app, err := ps.Upsert(ctx, projects.Project{TenantID: "org-1", RemoteID: "10000", Key: "APP", Name: "App"})
	require.NoError(t, err)
	web, err := ps.Upsert(ctx, projects.Project{TenantID: "org-1", RemoteID: "10001", Key: "WEB", Name: "Web"})
	require.NoError(t, err)
	foreign, err := ps.Upsert(ctx, projects.Project{TenantID: "org-2", RemoteID: "20000", Key: "GLX", Name: "Globex"})
	require.NoError(t, err)

	creds := credentials.NewMemory()
	_, err = creds.SaveToken(ctx, "org-1", credentials.Token{AccessToken: "A", RefreshToken: "R", ExpiresAt: time.Now().Add(time.Hour)}, nil)
	require.NoError(t, err)

	store := NewMemory()
	return fixture{
		wf:       NewWorkflow(store, ps, creds, dir),
		store:    store,
		projects: ps,
		creds:    creds,
		app:      app,
		web:      web,
		foreign:  foreign,
	}
}

func TestRequestThenAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	other, err := f.wf.RequestAccess(ctx, "emp-2", f.app.ID)
	require.NoError(t, err)

	accepted, err := f.wf.Accept(ctx, "org-1", f.app.ID, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, accepted.ID)
	assert.Equal(t, StatusAccepted, accepted.Status)

	for _, r := range f.store.All() {
		if r.ID == other.ID {
			assert.Equal(t, StatusPending, r.Status, "other requests stay untouched")
		}
	}
}

func TestAcceptWithoutMatchMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	require.NoError(t, err)
	before := f.store.All()

	_, err = f.wf.Accept(ctx, "org-1", f.web.ID, "emp-1")
	assert.ErrorIs(t, err, ErrRequestNotFound)
	_, err = f.wf.Accept(ctx, "org-1", f.app.ID, "emp-2")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	assert.Equal(t, before, f.store.All())
}

func TestAcceptRequiresConnection(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.Accept(context.Background(), "org-2", f.foreign.ID, "emp-1")
	assert.ErrorIs(t, err, credentials.ErrNoConnection)
}

func TestAcceptScopedToOwnProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.creds.SaveToken(ctx, "org-2", credentials.Token{AccessToken: "A", RefreshToken: "R", ExpiresAt: time.Now().Add(time.Hour)}, nil)
	require.NoError(t, err)
	_, err = f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	require.NoError(t, err)

	_, err = f.wf.Accept(ctx, "org-2", f.app.ID, "emp-1")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestDuplicatePendingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	require.NoError(t, err)
	_, err = f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	assert.ErrorIs(t, err, ErrDuplicatePending)

	_, err = f.wf.Accept(ctx, "org-1", f.app.ID, "emp-1")
	require.NoError(t, err)
	_, err = f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	assert.NoError(t, err, "a new request is allowed once the previous one left PENDING")
}

func TestRequestAccessForeignProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.RequestAccess(context.Background(), "emp-1", f.foreign.ID)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = f.wf.RequestAccess(context.Background(), "emp-1", "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.Empty(t, f.store.All())
}

func TestListPendingScopedAndJoined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	require.NoError(t, err)
	_, err = f.wf.RequestAccess(ctx, "emp-2", f.web.ID)
	require.NoError(t, err)
	_, err = f.wf.Accept(ctx, "org-1", f.app.ID, "emp-1")
	require.NoError(t, err)

	views, err := f.wf.ListPending(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, EmployeeSummary{ID: "emp-2", Username: "sam", Email: "sam@acme.test"}, views[0].Employee)
	assert.Equal(t, ProjectSummary{ID: f.web.ID, Name: "Web", Key: "WEB"}, views[0].Project)

	_, err = f.creds.SaveToken(ctx, "org-2", credentials.Token{AccessToken: "A", RefreshToken: "R", ExpiresAt: time.Now().Add(time.Hour)}, nil)
	require.NoError(t, err)
	other, err := f.wf.ListPending(ctx, "org-2")
	require.NoError(t, err)
	assert.Empty(t, other, "organizations only see requests on their own projects")
}

func TestListPendingRequiresConnection(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.ListPending(context.Background(), "org-2")
	assert.ErrorIs(t, err, credentials.ErrNoConnection)
}

func TestProjectsForEmployee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	require.NoError(t, err)
	_, err = f.wf.Accept(ctx, "org-1", f.app.ID, "emp-1")
	require.NoError(t, err)
	_, err = f.wf.RequestAccess(ctx, "emp-1", f.app.ID)
	require.NoError(t, err)

	got, err := f.wf.ProjectsForEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	status := map[string]AccessStatus{}
	for _, p := range got {
		status[p.Key] = p.AccessStatus
	}
	assert.Equal(t, AccessAccepted, status["APP"])
	assert.Equal(t, AccessIdle, status["WEB"])
}
