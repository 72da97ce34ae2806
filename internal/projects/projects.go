// Package projects mirrors a tenant's Jira software projects into local storage.
package projects

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"jiralink.dev/internal/ids"
	"jiralink.dev/internal/jira"
)

var (
	// ErrNotFound indicates no project exists with the given id.
	ErrNotFound = errors.New("projects: not found")
	// ErrInvalidInput is returned for blank identifiers.
	ErrInvalidInput = errors.New("projects: invalid input")
	// ErrIncompleteCredentials means the tenant's record lacks token fields.
	ErrIncompleteCredentials = errors.New("projects: incomplete credentials")
	// ErrCloudIDNotResolved means the cloud id must be resolved before syncing.
	ErrCloudIDNotResolved = errors.New("projects: cloud id not resolved")
)

// UpstreamSyncError wraps a failed project search.
type UpstreamSyncError struct {
	Upstream *jira.UpstreamError
}

func (e *UpstreamSyncError) Error() string { return "upstream sync: " + e.Upstream.Error() }
func (e *UpstreamSyncError) Unwrap() error { return e.Upstream }

// Project is a locally stored mirror of a remote project.
type Project struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	RemoteID       string    `json:"remote_id"`
	Key            string    `json:"key"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	LeadAccountID  string    `json:"lead_account_id,omitempty"`
	ProjectTypeKey string    `json:"project_type_key"`
	URL            string    `json:"url,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists projects.
type Store interface {
	// Upsert inserts or overwrites the project keyed by (TenantID, RemoteID).
	Upsert(ctx context.Context, p Project) (Project, error)
	// ListByTenant returns the tenant's projects, newest first.
	ListByTenant(ctx context.Context, tenantID string) ([]Project, error)
	Get(ctx context.Context, id string) (Project, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]Project
	byRemote map[string]string
	writes   int
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{projects: make(map[string]Project), byRemote: make(map[string]string)}
}

func remoteKey(tenantID, remoteID string) string { return tenantID + "\x00" + remoteID }

func (m *Memory) Upsert(_ context.Context, p Project) (Project, error) {
	if strings.TrimSpace(p.TenantID) == "" || strings.TrimSpace(p.RemoteID) == "" {
		return Project{}, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	key := remoteKey(p.TenantID, p.RemoteID)
	if id, ok := m.byRemote[key]; ok {
		existing := m.projects[id]
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = ids.NewAt(now)
		p.CreatedAt = now
		m.byRemote[key] = p.ID
	}
	p.UpdatedAt = now
	m.projects[p.ID] = p
	m.writes++
	return p, nil
}

func (m *Memory) ListByTenant(_ context.Context, tenantID string) ([]Project, error) {
	m.mu.RLock()
	out := make([]Project, 0)
	for _, p := range m.projects {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

// Writes reports how many upserts the store has applied.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func sortNewestFirst(ps []Project) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID > ps[j].ID
		}
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}
