package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"jiralink.dev/internal/access"
	"jiralink.dev/internal/auth"
	"jiralink.dev/internal/credentials"
	"jiralink.dev/internal/obs"
	"jiralink.dev/internal/projects"
	"jiralink.dev/internal/tenant"
)

const serviceName = "jiralink-api"

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database and, when configured, Redis.
type ReadyProbe struct {
	DB    Pinger
	Redis Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// TokenService verifies caller bearer tokens and signs OAuth state values.
type TokenService interface {
	auth.Resolver
	GenerateState(id auth.Identity, ttl time.Duration) (string, error)
	ResolveState(state string) (auth.Identity, error)
}

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Tokens      TokenService
	Credentials credentials.Store
	Refresher   *credentials.Refresher
	CloudIDs    *credentials.Resolver
	Sync        *projects.Synchronizer
	Access      *access.Workflow
	Directory   tenant.Directory

	Ready   readinessChecker
	Version string

	// CallbackRedirectURL is where the browser lands after a successful
	// code exchange. Empty means answer with JSON.
	CallbackRedirectURL string
	RateBurst           int
	RatePerSec          int
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps

	rateBurst  int
	ratePerSec int
}

func New(deps Deps) *API {
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	a := &API{
		mux:        http.NewServeMux(),
		deps:       deps,
		rateBurst:  deps.RateBurst,
		ratePerSec: deps.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)

	a.mux.HandleFunc("/v1/connection/credentials", a.handleRegisterCredentials)
	a.mux.HandleFunc("/v1/connection/authorize", a.handleAuthorize)
	a.mux.HandleFunc("/v1/connection/callback", a.handleCallback)
	a.mux.HandleFunc("/v1/connection/token", a.handleToken)
	a.mux.HandleFunc("/v1/connection/cloud", a.handleResolveCloud)
	a.mux.HandleFunc("/v1/connection/status", a.handleStatus)

	a.mux.HandleFunc("/v1/projects", a.handleProjects)
	a.mux.HandleFunc("/v1/projects/sync", a.handleSyncProjects)

	a.mux.Handle("/v1/organization/projects", RequireRole(auth.RoleEmployee)(http.HandlerFunc(a.handleOrganizationProjects)))
	a.mux.Handle("/v1/access-requests", RequireRole(auth.RoleEmployee)(http.HandlerFunc(a.handleRequestAccess)))
	a.mux.Handle("/v1/access-requests/pending", RequireRole(auth.RoleOrganization)(http.HandlerFunc(a.handlePending)))
	a.mux.Handle("/v1/access-requests/accept", RequireRole(auth.RoleOrganization)(http.HandlerFunc(a.handleAccept)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgs, err := a.deps.Directory.ListOrganizations(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"organizations": orgs,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"success": false,
		"code":    code,
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
