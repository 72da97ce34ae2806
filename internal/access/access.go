// Package access implements the employee to organization project access
// request workflow: PENDING, then ACCEPTED.
package access

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrRequestNotFound means no PENDING request matches.
	ErrRequestNotFound = errors.New("access: pending request not found")
	// ErrDuplicatePending means the pair already has a PENDING request.
	ErrDuplicatePending = errors.New("access: request already pending")
	// ErrProjectNotFound means the project does not exist in the employee's organization.
	ErrProjectNotFound = errors.New("access: project not found")
	// ErrInvalidInput is returned for blank identifiers.
	ErrInvalidInput = errors.New("access: invalid input")
)

// Status is the request lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
)

// Request is an employee's request to use an organization project.
type Request struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	ProjectID  string    `json:"project_id"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists access requests.
type Store interface {
	// Create inserts a PENDING request, failing with ErrDuplicatePending when
	// the pair already has one.
	Create(ctx context.Context, r Request) (Request, error)
	// AcceptPending moves the pair's PENDING request to ACCEPTED.
	AcceptPending(ctx context.Context, projectID, employeeID string, at time.Time) (Request, error)
	// ListPending returns PENDING requests targeting any of projectIDs, newest first.
	ListPending(ctx context.Context, projectIDs []string) ([]Request, error)
	// ListByEmployee returns every request the employee made, newest first.
	ListByEmployee(ctx context.Context, employeeID string) ([]Request, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	requests map[string]Request
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{requests: make(map[string]Request)}
}

func (m *Memory) Create(_ context.Context, r Request) (Request, error) {
	if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.EmployeeID) == "" || strings.TrimSpace(r.ProjectID) == "" {
		return Request{}, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.EmployeeID == r.EmployeeID && existing.ProjectID == r.ProjectID && existing.Status == StatusPending {
			return Request{}, ErrDuplicatePending
		}
	}
	r.Status = StatusPending
	m.requests[r.ID] = r
	return r, nil
}

func (m *Memory) AcceptPending(_ context.Context, projectID, employeeID string, at time.Time) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.requests {
		if r.ProjectID == projectID && r.EmployeeID == employeeID && r.Status == StatusPending {
			r.Status = StatusAccepted
			r.UpdatedAt = at
			m.requests[id] = r
			return r, nil
		}
	}
	return Request{}, ErrRequestNotFound
}

func (m *Memory) ListPending(_ context.Context, projectIDs []string) ([]Request, error) {
	want := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		want[id] = struct{}{}
	}
	return m.filter(func(r Request) bool {
		_, ok := want[r.ProjectID]
		return ok && r.Status == StatusPending
	}), nil
}

func (m *Memory) ListByEmployee(_ context.Context, employeeID string) ([]Request, error) {
	return m.filter(func(r Request) bool { return r.EmployeeID == employeeID }), nil
}

// All returns every stored request, newest first.
func (m *Memory) All() []Request {
	return m.filter(func(Request) bool { return true })
}

func (m *Memory) filter(keep func(Request) bool) []Request {
	m.mu.RLock()
	out := make([]Request, 0)
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
