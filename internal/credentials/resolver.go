package credentials

import (
	"context"
	"errors"

	"jiralink.dev/internal/jira"
	"jiralink.dev/internal/obs"
)

// Resolver maps a tenant's token to the Jira cloud id its resource calls need.
type Resolver struct {
	store     Store
	refresher *Refresher
	provider  jira.Provider
}

// NewResolver wires the cloud id lookup.
func NewResolver(store Store, refresher *Refresher, provider jira.Provider) *Resolver {
	return &Resolver{store: store, refresher: refresher, provider: provider}
}

// ResolveCloudID looks up the first accessible site and stores its id.
// Repeated calls overwrite with the same value.
func (r *Resolver) ResolveCloudID(ctx context.Context, tenantID string) (string, error) {
	rec, err := r.store.Get(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNoConnection
	}
	if err != nil {
		return "", err
	}
	token, err := r.refresher.EnsureValidToken(ctx, rec)
	if err != nil {
		return "", err
	}
	resources, err := r.provider.AccessibleResources(ctx, token)
	if err != nil {
		return "", upstreamAuth(jira.OpAccessibleResources, err)
	}
	if len(resources) == 0 || resources[0].ID == "" {
		return "", ErrNoCloudResourceFound
	}
	cloudID := resources[0].ID
	if _, err := r.store.SetCloudID(ctx, tenantID, cloudID); err != nil {
		return "", err
	}
	obs.Logger().Info("cloud id resolved", "tenant_id", tenantID, "cloud_id", cloudID)
	return cloudID, nil
}
