package projects

import (
	"context"
	"errors"
	"log/slog"

	"jiralink.dev/internal/credentials"
	"jiralink.dev/internal/jira"
	"jiralink.dev/internal/obs"
)

// TokenSource yields a valid access token for a stored record.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, rec credentials.Record) (string, error)
}

var _ TokenSource = (*credentials.Refresher)(nil)

// Synchronizer pulls the remote project list and upserts it.
type Synchronizer struct {
	creds    credentials.Store
	tokens   TokenSource
	provider jira.Provider
	store    Store
	logger   *slog.Logger
}

// NewSynchronizer wires the sync workflow.
func NewSynchronizer(creds credentials.Store, tokens TokenSource, provider jira.Provider, store Store) *Synchronizer {
	return &Synchronizer{creds: creds, tokens: tokens, provider: provider, store: store, logger: obs.Logger()}
}

// Sync mirrors every software project of the tenant's site and returns the
// tenant's full stored set, newest first. A failure partway through leaves
// the projects already upserted in place.
func (s *Synchronizer) Sync(ctx context.Context, tenantID string) ([]Project, error) {
	rec, err := s.creds.Get(ctx, tenantID)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, credentials.ErrNoConnection
	}
	if err != nil {
		return nil, err
	}
	if !rec.HasTokens() {
		return nil, ErrIncompleteCredentials
	}
	token, err := s.tokens.EnsureValidToken(ctx, rec)
	if err != nil {
		return nil, err
	}
	if rec.CloudID == "" {
		return nil, ErrCloudIDNotResolved
	}

	remote, err := s.provider.SearchProjects(ctx, token, rec.CloudID)
	if err != nil {
		ue, ok := jira.AsUpstream(err)
		if !ok {
			ue = &jira.UpstreamError{Op: jira.OpSearchProjects, Body: err.Error()}
		}
		return nil, &UpstreamSyncError{Upstream: ue}
	}

	synced := 0
	for _, rp := range remote {
		if _, err := s.store.Upsert(ctx, fromRemote(tenantID, rp)); err != nil {
			obs.ProjectsSynced(synced)
			return nil, err
		}
		synced++
	}
	obs.ProjectsSynced(synced)
	s.logger.Info("projects synced", "tenant_id", tenantID, "count", synced)
	return s.store.ListByTenant(ctx, tenantID)
}

// List returns stored projects without calling Jira.
func (s *Synchronizer) List(ctx context.Context, tenantID string) ([]Project, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

func fromRemote(tenantID string, rp jira.RemoteProject) Project {
	return Project{
		TenantID:       tenantID,
		RemoteID:       rp.ID,
		Key:            rp.Key,
		Name:           rp.Name,
		Description:    rp.Description,
		LeadAccountID:  rp.LeadAccountID,
		ProjectTypeKey: rp.ProjectTypeKey,
		URL:            rp.Self,
		AvatarURL:      rp.AvatarURL,
	}
}
