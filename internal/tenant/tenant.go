// Package tenant is the read-only directory of organizations and employees
// maintained by the external registration system.
package tenant

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound indicates no tenant exists with the given id.
	ErrNotFound = errors.New("tenant: not found")
	// ErrInvalidInput is returned for blank ids.
	ErrInvalidInput = errors.New("tenant: invalid input")
)

// Organization owns projects and accepts access requests.
type Organization struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Employee belongs to one organization and requests access to its projects.
type Employee struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	OrganizationID string `json:"organization_id"`
}

// Directory resolves tenant identities.
type Directory interface {
	Organization(ctx context.Context, id string) (Organization, error)
	Employee(ctx context.Context, id string) (Employee, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
}

// Memory is an in-process Directory for tests and local runs.
type Memory struct {
	mu   sync.RWMutex
	orgs map[string]Organization
	emps map[string]Employee
}

var _ Directory = (*Memory)(nil)

// NewMemory returns an empty directory.
func NewMemory() *Memory {
	return &Memory{orgs: make(map[string]Organization), emps: make(map[string]Employee)}
}

// PutOrganization inserts or replaces an organization.
func (m *Memory) PutOrganization(o Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[o.ID] = o
}

// PutEmployee inserts or replaces an employee.
func (m *Memory) PutEmployee(e Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emps[e.ID] = e
}

func (m *Memory) Organization(_ context.Context, id string) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, ErrInvalidInput
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) Employee(_ context.Context, id string) (Employee, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Employee{}, ErrInvalidInput
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.emps[id]
	if !ok {
		return Employee{}, ErrNotFound
	}
	return e, nil
}

// ListOrganizations returns organizations ordered by username.
func (m *Memory) ListOrganizations(_ context.Context) ([]Organization, error) {
	m.mu.RLock()
	out := make([]Organization, 0, len(m.orgs))
	for _, o := range m.orgs {
		out = append(out, o)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].ID < out[j].ID
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}
