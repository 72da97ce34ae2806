// Package jiratest provides an in-memory jira.Provider for tests.
package jiratest

import (
	"context"
	"net/url"
	"sync"
	"time"

	"jiralink.dev/internal/jira"
)

// Fake records calls and answers from its fields. Zero value is usable.
type Fake struct {
	mu sync.Mutex

	RefreshResult  jira.TokenSet
	RefreshErr     error
	ExchangeResult jira.TokenSet
	ExchangeErr    error
	Resources      []jira.Resource
	ResourcesErr   error
	Projects       []jira.RemoteProject
	ProjectsErr    error
	// Delay is slept inside Refresh, to widen race windows in tests.
	Delay time.Duration

	RefreshCalls  int
	ExchangeCalls int
	ResourceCalls int
	SearchCalls   int

	LastRefreshToken string
	LastClient       jira.ClientCredentials
	LastCode         string
	LastCloudID      string
}

var _ jira.Provider = (*Fake)(nil)

func (f *Fake) AuthCodeURL(creds jira.ClientCredentials, state string) string {
	q := url.Values{}
	q.Set("client_id", creds.ClientID)
	q.Set("state", state)
	return "https://auth.example/authorize?" + q.Encode()
}

func (f *Fake) ExchangeCode(_ context.Context, creds jira.ClientCredentials, code string) (jira.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ExchangeCalls++
	f.LastClient = creds
	f.LastCode = code
	return f.ExchangeResult, f.ExchangeErr
}

func (f *Fake) Refresh(ctx context.Context, creds jira.ClientCredentials, refreshToken string) (jira.TokenSet, error) {
	f.mu.Lock()
	f.RefreshCalls++
	f.LastClient = creds
	f.LastRefreshToken = refreshToken
	res, err, delay := f.RefreshResult, f.RefreshErr, f.Delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return jira.TokenSet{}, ctx.Err()
		}
	}
	return res, err
}

func (f *Fake) AccessibleResources(_ context.Context, _ string) ([]jira.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResourceCalls++
	return append([]jira.Resource(nil), f.Resources...), f.ResourcesErr
}

func (f *Fake) SearchProjects(_ context.Context, _ string, cloudID string) ([]jira.RemoteProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchCalls++
	f.LastCloudID = cloudID
	return append([]jira.RemoteProject(nil), f.Projects...), f.ProjectsErr
}

// Calls returns the call counters.
func (f *Fake) Calls() (refresh, exchange, resources, search int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RefreshCalls, f.ExchangeCalls, f.ResourceCalls, f.SearchCalls
}
