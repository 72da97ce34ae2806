// Package jira talks to Atlassian Jira Cloud: the OAuth 2.0 (3LO) token
// endpoint and the handful of REST resources the connection workflow needs.
package jira

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Operation names, used in errors and metrics.
const (
	OpExchangeCode        = "exchange_code"
	OpRefresh             = "refresh"
	OpAccessibleResources = "accessible_resources"
	OpSearchProjects      = "search_projects"
)

// Scopes requested during consent.
var Scopes = []string{"read:jira-user", "read:jira-work", "offline_access"}

// ClientCredentials is a tenant's (or the application's) OAuth client pair.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// TokenSet is the result of a grant. ExpiresIn is in seconds.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Resource is one site the token can reach.
type Resource struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Scopes []string `json:"scopes"`
}

// RemoteProject is the subset of a Jira project descriptor that gets mirrored.
type RemoteProject struct {
	ID             string
	Key            string
	Name           string
	Description    string
	LeadAccountID  string
	ProjectTypeKey string
	Self           string
	AvatarURL      string
}

// Provider is the narrow capability the credential and sync workflows depend on.
type Provider interface {
	AuthCodeURL(creds ClientCredentials, state string) string
	ExchangeCode(ctx context.Context, creds ClientCredentials, code string) (TokenSet, error)
	Refresh(ctx context.Context, creds ClientCredentials, refreshToken string) (TokenSet, error)
	AccessibleResources(ctx context.Context, accessToken string) ([]Resource, error)
	SearchProjects(ctx context.Context, accessToken, cloudID string) ([]RemoteProject, error)
}

// UpstreamError carries a failed provider call verbatim. Status is 0 when no
// response arrived (timeout, connection failure).
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("jira %s: %s", e.Op, e.Body)
	}
	return fmt.Sprintf("jira %s: status %d: %s", e.Op, e.Status, truncate(e.Body, 256))
}

// AsUpstream unwraps err into an *UpstreamError.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
