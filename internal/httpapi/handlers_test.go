package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jiralink.dev/internal/access"
	"jiralink.dev/internal/auth"
	"jiralink.dev/internal/credentials"
	"jiralink.dev/internal/jira"
	"jiralink.dev/internal/jira/jiratest"
	"jiralink.dev/internal/projects"
	"jiralink.dev/internal/tenant"
)

type testEnv struct {
	t        *testing.T
	srv      *httptest.Server
	client   *http.Client
	verifier *auth.Verifier
	fake     *jiratest.Fake
	creds    *credentials.Memory
	projects *projects.Memory
	requests *access.Memory
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)

	dir := tenant.NewMemory()
	dir.PutOrganization(tenant.Organization{ID: "org-1", Username: "acme", Email: "ops@acme.test"})
	dir.PutOrganization(tenant.Organization{ID: "org-2", Username: "globex"})
	dir.PutEmployee(tenant.Employee{ID: "emp-1", Username: "jo", Email: "jo@acme.test", OrganizationID: "org-1"})

	fake := &jiratest.Fake{
		ExchangeResult: jira.TokenSet{AccessToken: "A1", RefreshToken: "R1", ExpiresIn: 3600},
		RefreshResult:  jira.TokenSet{AccessToken: "A2", RefreshToken: "R2", ExpiresIn: 3600},
		Resources:      []jira.Resource{{ID: "cloud-1", Name: "acme"}},
		Projects: []jira.RemoteProject{
			{ID: "10000", Key: "APP", Name: "App", ProjectTypeKey: "software"},
			{ID: "10001", Key: "WEB", Name: "Web", ProjectTypeKey: "software"},
		},
	}
	creds := credentials.NewMemory()
	ps := projects.NewMemory()
	requests := access.NewMemory()
	refresher := credentials.NewRefresher(creds, fake, credentials.WithAppClient(jira.ClientCredentials{ClientID: "app", ClientSecret: "app-secret"}))

	deps := Deps{
		Tokens:      verifier,
		Credentials: creds,
		Refresher:   refresher,
		CloudIDs:    credentials.NewResolver(creds, refresher, fake),
		Sync:        projects.NewSynchronizer(creds, refresher, fake, ps),
		Access:      access.NewWorkflow(requests, ps, creds, dir),
		Directory:   dir,
		Version:     "test",
		RateBurst:   1000,
		RatePerSec:  1000,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv := httptest.NewServer(New(deps).Handler())
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	return &testEnv{
		t:        t,
		srv:      srv,
		client:   client,
		verifier: verifier,
		fake:     fake,
		creds:    creds,
		projects: ps,
		requests: requests,
	}
}

func (e *testEnv) token(tenantID string, role auth.Role) string {
	e.t.Helper()
	tok, err := e.verifier.GenerateToken(auth.Identity{TenantID: tenantID, Role: role}, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func (e *testEnv) do(method, path, token string, body any) *http.Response {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(e.t, err)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(payload))
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) connect(tenantID, cloudID string) {
	e.t.Helper()
	ctx := context.Background()
	_, err := e.creds.SaveToken(ctx, tenantID, credentials.Token{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: time.Now().Add(time.Hour)}, nil)
	require.NoError(e.t, err)
	if cloudID != "" {
		_, err = e.creds.SetCloudID(ctx, tenantID, cloudID)
		require.NoError(e.t, err)
	}
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"), path)
	}

	resp := env.do(http.MethodGet, "/v1/organizations", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	orgs := body["organizations"].([]any)
	require.Len(t, orgs, 2)
	assert.Equal(t, "acme", orgs[0].(map[string]any)["username"])
}

func TestReadyzReportsFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Ready = ReadyProbe{DB: failingPinger{}} })
	resp := env.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProtectedRouteRequiresBearer(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/projects", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unauthenticated", body["code"])
	assert.NotEmpty(t, body["request_id"])

	resp = env.do(http.MethodGet, "/v1/projects", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoleGates(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/access-requests/pending", env.token("emp-1", auth.RoleEmployee), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(http.MethodPost, "/v1/access-requests", env.token("org-1", auth.RoleOrganization), map[string]string{"project_id": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEmployeeConnectionFlow(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token("emp-1", auth.RoleEmployee)

	resp := env.do(http.MethodGet, "/v1/connection/status", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "NO_CONNECTION", body["status"])
	assert.Contains(t, body["message"], "employee")

	resp = env.do(http.MethodPost, "/v1/connection/credentials", tok, map[string]string{"client_id": "emp-client", "client_secret": "emp-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/connection/authorize", tok, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "emp-client", loc.Query().Get("client_id"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	// The browser comes back without a bearer token; the state identifies the caller.
	resp = env.do(http.MethodGet, "/v1/connection/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc", env.fake.LastCode)
	assert.Equal(t, "emp-client", env.fake.LastClient.ClientID)

	resp = env.do(http.MethodPost, "/v1/connection/cloud", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cloud-1", decodeBody(t, resp)["cloud_id"])

	resp = env.do(http.MethodGet, "/v1/connection/status", tok, nil)
	body = decodeBody(t, resp)
	assert.Equal(t, "FULLY_CONNECTED", body["status"])
	assert.Equal(t, "emp-client", body["client_id"])
}

func TestCallbackRejectsBadState(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/connection/callback?code=abc&state=forged", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(http.MethodGet, "/v1/connection/callback?state=x", env.token("org-1", auth.RoleOrganization), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, exchange, _, _ := env.fake.Calls()
	assert.Zero(t, exchange)
}

func TestStateIsNotABearerToken(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token("org-1", auth.RoleOrganization)

	resp := env.do(http.MethodGet, "/v1/connection/authorize?format=json", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	consent, err := url.Parse(decodeBody(t, resp)["url"].(string))
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)

	resp = env.do(http.MethodGet, "/v1/connection/status", state, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = env.do(http.MethodPost, "/v1/connection/credentials", state, map[string]string{"client_id": "evil", "client_secret": "evil"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_, err = env.creds.Get(context.Background(), "org-1")
	assert.ErrorIs(t, err, credentials.ErrNotFound)

	// A bearer token is not a valid state either.
	resp = env.do(http.MethodGet, "/v1/connection/callback?code=abc&state="+url.QueryEscape(tok), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A state minted for another tenant does not match the bearer caller.
	other, err := env.verifier.GenerateState(auth.Identity{TenantID: "org-2", Role: auth.RoleOrganization}, time.Minute)
	require.NoError(t, err)
	resp = env.do(http.MethodGet, "/v1/connection/callback?code=abc&state="+url.QueryEscape(other), tok, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, exchange, _, _ := env.fake.Calls()
	assert.Zero(t, exchange)

	resp = env.do(http.MethodGet, "/v1/connection/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrganizationCallbackRedirects(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.CallbackRedirectURL = "https://app.example/organization/dashboard" })

	resp := env.do(http.MethodGet, "/v1/connection/callback?code=xyz", env.token("org-1", auth.RoleOrganization), nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://app.example/organization/dashboard", resp.Header.Get("Location"))
	assert.Equal(t, "app", env.fake.LastClient.ClientID)

	rec, err := env.creds.Get(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "A1", rec.AccessToken)
}

func TestCallbackUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fake.ExchangeErr = &jira.UpstreamError{Op: jira.OpExchangeCode, Status: http.StatusBadRequest, Body: `{"error":"invalid_grant"}`}

	resp := env.do(http.MethodGet, "/v1/connection/callback?code=xyz", env.token("org-1", auth.RoleOrganization), nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "upstream_auth_failed", body["code"])
	upstream := body["upstream"].(map[string]any)
	assert.Equal(t, float64(http.StatusBadRequest), upstream["status"])
	assert.Contains(t, upstream["body"], "invalid_grant")
}

func TestTokenEndpointRefreshesWithoutLeakingTokens(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.creds.SaveToken(context.Background(), "org-1", credentials.Token{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: time.Now().Add(-time.Minute)}, nil)
	require.NoError(t, err)

	resp := env.do(http.MethodPost, "/v1/connection/token", env.token("org-1", auth.RoleOrganization), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["token_expires_at"])
	assert.NotContains(t, body, "access_token")
	assert.Equal(t, "R1", env.fake.LastRefreshToken)

	resp = env.do(http.MethodPost, "/v1/connection/token", env.token("org-2", auth.RoleOrganization), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_connection", decodeBody(t, resp)["code"])
}

func TestProjectSyncAndList(t *testing.T) {
	env := newTestEnv(t)
	org := env.token("org-1", auth.RoleOrganization)

	resp := env.do(http.MethodPost, "/v1/projects/sync", org, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_connection", decodeBody(t, resp)["code"])

	env.connect("org-1", "")
	resp = env.do(http.MethodPost, "/v1/projects/sync", org, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "cloud_id_not_resolved", decodeBody(t, resp)["code"])

	env.connect("org-1", "cloud-1")
	resp = env.do(http.MethodPost, "/v1/projects/sync", org, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody(t, resp)["projects"], 2)

	_, _, _, searches := env.fake.Calls()
	resp = env.do(http.MethodGet, "/v1/projects", org, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody(t, resp)["projects"], 2)
	_, _, _, after := env.fake.Calls()
	assert.Equal(t, searches, after, "listing must not call upstream")
}

func TestSyncUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.connect("org-1", "cloud-1")
	env.fake.ProjectsErr = &jira.UpstreamError{Op: jira.OpSearchProjects, Status: http.StatusForbidden, Body: "forbidden"}

	resp := env.do(http.MethodPost, "/v1/projects/sync", env.token("org-1", auth.RoleOrganization), nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "upstream_sync_failed", decodeBody(t, resp)["code"])
}

func TestAccessRequestWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.connect("org-1", "cloud-1")
	org := env.token("org-1", auth.RoleOrganization)
	emp := env.token("emp-1", auth.RoleEmployee)

	resp := env.do(http.MethodPost, "/v1/projects/sync", org, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, err := env.projects.ListByTenant(context.Background(), "org-1")
	require.NoError(t, err)
	target := list[0].ID

	resp = env.do(http.MethodGet, "/v1/organization/projects", emp, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, p := range decodeBody(t, resp)["projects"].([]any) {
		assert.Equal(t, "idle", p.(map[string]any)["access_status"])
	}

	resp = env.do(http.MethodPost, "/v1/access-requests", emp, map[string]string{"project_id": target})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(http.MethodPost, "/v1/access-requests", emp, map[string]string{"project_id": target})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "duplicate_pending", decodeBody(t, resp)["code"])

	resp = env.do(http.MethodGet, "/v1/access-requests/pending", org, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decodeBody(t, resp)["requests"].([]any)
	require.Len(t, pending, 1)
	view := pending[0].(map[string]any)
	assert.Equal(t, "jo", view["employee"].(map[string]any)["username"])
	assert.Equal(t, target, view["project"].(map[string]any)["id"])

	resp = env.do(http.MethodPost, "/v1/access-requests/accept", org, map[string]string{"project_id": target, "employee_id": "emp-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACCEPTED", decodeBody(t, resp)["request"].(map[string]any)["status"])

	resp = env.do(http.MethodPost, "/v1/access-requests/accept", org, map[string]string{"project_id": target, "employee_id": "emp-1"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "request_not_found", decodeBody(t, resp)["code"])

	resp = env.do(http.MethodGet, "/v1/organization/projects", emp, nil)
	statuses := map[string]string{}
	for _, p := range decodeBody(t, resp)["projects"].([]any) {
		m := p.(map[string]any)
		statuses[m["id"].(string)] = m["access_status"].(string)
	}
	assert.Equal(t, "accepted", statuses[target])
}

func TestAcceptRequiresOrganizationConnection(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/v1/access-requests/accept", env.token("org-2", auth.RoleOrganization), map[string]string{"project_id": "p", "employee_id": "emp-1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_connection", decodeBody(t, resp)["code"])
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/v1/connection/credentials", env.token("emp-1", auth.RoleEmployee), map[string]string{"client_id": "x", "client_secret": "y", "extra": "z"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodGet, "/v1/projects/sync", env.token("org-1", auth.RoleOrganization), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}
