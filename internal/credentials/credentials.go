// Package credentials owns the per-tenant OAuth connection record and the
// workflows that move it forward: registration, code exchange, refresh and
// cloud id resolution.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"jiralink.dev/internal/jira"
)

var (
	// ErrNotFound indicates the tenant has no credential record.
	ErrNotFound = errors.New("credentials: not found")
	// ErrInvalidInput is returned for blank identifiers.
	ErrInvalidInput = errors.New("credentials: invalid input")
	// ErrMissingCredentials means the record lacks fields the operation needs.
	ErrMissingCredentials = errors.New("credentials: missing credentials")
	// ErrNoConnection means the tenant has not connected to Jira yet.
	ErrNoConnection = errors.New("credentials: no connection")
	// ErrNoCloudResourceFound means the token reaches no Jira site.
	ErrNoCloudResourceFound = errors.New("credentials: no cloud resource found")
	// ErrStaleToken is returned by a conditional token write that lost a race.
	ErrStaleToken = errors.New("credentials: token changed concurrently")
)

// UpstreamAuthError wraps a failed call made while acquiring or using a token.
type UpstreamAuthError struct {
	Upstream *jira.UpstreamError
}

func (e *UpstreamAuthError) Error() string { return "upstream auth: " + e.Upstream.Error() }
func (e *UpstreamAuthError) Unwrap() error { return e.Upstream }

func upstreamAuth(op string, err error) error {
	if ue, ok := jira.AsUpstream(err); ok {
		return &UpstreamAuthError{Upstream: ue}
	}
	return &UpstreamAuthError{Upstream: &jira.UpstreamError{Op: op, Body: err.Error()}}
}

// Record is one tenant's connection state. Empty strings and nil mean absent.
type Record struct {
	TenantID       string     `json:"tenant_id"`
	ClientID       string     `json:"client_id,omitempty"`
	ClientSecret   string     `json:"-"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CloudID        string     `json:"cloud_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasTokens reports whether every field needed to use or refresh a token is present.
func (r Record) HasTokens() bool {
	return r.AccessToken != "" && r.RefreshToken != "" && r.TokenExpiresAt != nil
}

// Client returns the registered client pair.
func (r Record) Client() jira.ClientCredentials {
	return jira.ClientCredentials{ClientID: r.ClientID, ClientSecret: r.ClientSecret}
}

// Token is what a successful grant persists.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Store persists credential records.
type Store interface {
	Get(ctx context.Context, tenantID string) (Record, error)
	// Register upserts the client pair and leaves token fields untouched.
	Register(ctx context.Context, tenantID, clientID, clientSecret string) (Record, error)
	// SaveToken writes token fields, creating the record if needed. A non-nil
	// expectedExpiry makes the write conditional on the stored expiry still
	// matching; a mismatch yields ErrStaleToken.
	SaveToken(ctx context.Context, tenantID string, tok Token, expectedExpiry *time.Time) (Record, error)
	// SetCloudID requires the record to hold an access token.
	SetCloudID(ctx context.Context, tenantID, cloudID string) (Record, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record), now: func() time.Time { return time.Now().UTC() }}
}

func (m *Memory) Get(_ context.Context, tenantID string) (Record, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Record{}, ErrInvalidInput
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[tenantID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(rec), nil
}

func (m *Memory) Register(_ context.Context, tenantID, clientID, clientSecret string) (Record, error) {
	tenantID = strings.TrimSpace(tenantID)
	clientID = strings.TrimSpace(clientID)
	if tenantID == "" || clientID == "" {
		return Record{}, fmt.Errorf("%w: tenant id and client id are required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rec, ok := m.records[tenantID]
	if !ok {
		rec = Record{TenantID: tenantID, CreatedAt: now}
	}
	rec.ClientID = clientID
	rec.ClientSecret = clientSecret
	rec.UpdatedAt = now
	m.records[tenantID] = rec
	return clone(rec), nil
}

func (m *Memory) SaveToken(_ context.Context, tenantID string, tok Token, expectedExpiry *time.Time) (Record, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" || tok.AccessToken == "" {
		return Record{}, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rec, ok := m.records[tenantID]
	if expectedExpiry != nil {
		if !ok || rec.TokenExpiresAt == nil || !rec.TokenExpiresAt.Equal(*expectedExpiry) {
			return Record{}, ErrStaleToken
		}
	}
	if !ok {
		rec = Record{TenantID: tenantID, CreatedAt: now}
	}
	exp := tok.ExpiresAt.UTC()
	rec.AccessToken = tok.AccessToken
	rec.RefreshToken = tok.RefreshToken
	rec.TokenExpiresAt = &exp
	rec.UpdatedAt = now
	m.records[tenantID] = rec
	return clone(rec), nil
}

func (m *Memory) SetCloudID(_ context.Context, tenantID, cloudID string) (Record, error) {
	tenantID = strings.TrimSpace(tenantID)
	cloudID = strings.TrimSpace(cloudID)
	if tenantID == "" || cloudID == "" {
		return Record{}, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[tenantID]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.AccessToken == "" {
		return Record{}, ErrMissingCredentials
	}
	rec.CloudID = cloudID
	rec.UpdatedAt = m.now()
	m.records[tenantID] = rec
	return clone(rec), nil
}

func clone(r Record) Record {
	if r.TokenExpiresAt != nil {
		t := *r.TokenExpiresAt
		r.TokenExpiresAt = &t
	}
	return r
}
