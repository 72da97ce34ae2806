package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"jiralink.dev/internal/auth"
	"jiralink.dev/internal/jira"
	"jiralink.dev/internal/lock"
	"jiralink.dev/internal/obs"
)

// Refresher is the single gate through which callers obtain a usable access
// token. Refresh-and-persist runs at most once per tenant per expiry window.
type Refresher struct {
	store          Store
	provider       jira.Provider
	locker         lock.Locker
	appClient      jira.ClientCredentials
	now            func() time.Time
	logger         *slog.Logger
	group          singleflight.Group
	refreshTimeout time.Duration
}

// DefaultRefreshTimeout bounds one shared refresh, lock wait included.
const DefaultRefreshTimeout = 30 * time.Second

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithClock overrides the refresher clock.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) RefresherOption {
	return func(r *Refresher) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithRefreshTimeout bounds a shared refresh independently of its callers.
func WithRefreshTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.refreshTimeout = d
		}
	}
}

// WithAppClient sets the application-level OAuth client used by tenants
// without a registered client pair.
func WithAppClient(creds jira.ClientCredentials) RefresherOption {
	return func(r *Refresher) {
		r.appClient = creds
	}
}

// NewRefresher wires the token gate.
func NewRefresher(store Store, provider jira.Provider, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:    store,
		provider: provider,
		locker:   lock.NewLocal(),
		now:      time.Now,
		logger:   obs.Logger(),

		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureValidToken returns an access token for rec, refreshing it first when
// the stored expiry is at or before now.
func (r *Refresher) EnsureValidToken(ctx context.Context, rec Record) (string, error) {
	cur, err := r.ensure(ctx, rec)
	if err != nil {
		return "", err
	}
	return cur.AccessToken, nil
}

// Current loads the tenant's record and makes sure its token is valid.
func (r *Refresher) Current(ctx context.Context, tenantID string) (Record, error) {
	rec, err := r.store.Get(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return Record{}, ErrNoConnection
	}
	if err != nil {
		return Record{}, err
	}
	return r.ensure(ctx, rec)
}

func (r *Refresher) ensure(ctx context.Context, rec Record) (Record, error) {
	if !rec.HasTokens() {
		return Record{}, ErrMissingCredentials
	}
	if r.now().Before(*rec.TokenExpiresAt) {
		return rec, nil
	}

	// The flight outlives any single caller; each caller waits on its own ctx.
	ch := r.group.DoChan(rec.TenantID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout)
		defer cancel()
		return r.refresh(fctx, rec.TenantID)
	})
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			obs.TokenRefreshed("shared")
		}
		if res.Err != nil {
			return Record{}, res.Err
		}
		return res.Val.(Record), nil
	}
}

func (r *Refresher) refresh(ctx context.Context, tenantID string) (Record, error) {
	unlock, err := r.locker.Lock(ctx, "refresh:"+tenantID)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	// Another instance may have refreshed while we waited on the lock.
	cur, err := r.store.Get(ctx, tenantID)
	if err != nil {
		return Record{}, err
	}
	if !cur.HasTokens() {
		return Record{}, ErrMissingCredentials
	}
	if r.now().Before(*cur.TokenExpiresAt) {
		return cur, nil
	}

	creds := r.clientFor(cur)
	if creds.ClientID == "" {
		return Record{}, ErrMissingCredentials
	}
	ts, err := r.provider.Refresh(ctx, creds, cur.RefreshToken)
	if err != nil {
		obs.TokenRefreshed("error")
		r.logger.Warn("token refresh failed", "tenant_id", tenantID, "error", err)
		return Record{}, upstreamAuth(jira.OpRefresh, err)
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = cur.RefreshToken
	}

	saved, err := r.store.SaveToken(ctx, tenantID, r.tokenFrom(ts), cur.TokenExpiresAt)
	if errors.Is(err, ErrStaleToken) {
		// Lost the conditional write; whoever won holds the live pair.
		latest, gerr := r.store.Get(ctx, tenantID)
		if gerr != nil {
			return Record{}, gerr
		}
		if latest.HasTokens() && r.now().Before(*latest.TokenExpiresAt) {
			return latest, nil
		}
		return Record{}, err
	}
	if err != nil {
		return Record{}, err
	}
	obs.TokenRefreshed("ok")
	r.logger.Info("token refreshed", "tenant_id", tenantID, "expires_at", saved.TokenExpiresAt)
	return saved, nil
}

// ExchangeCode trades a one-time authorization code for a token pair and
// persists it, creating the record for organizations on first connect.
func (r *Refresher) ExchangeCode(ctx context.Context, id auth.Identity, code string) (Record, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Record{}, ErrInvalidInput
	}
	creds, err := r.clientForTenant(ctx, id)
	if err != nil {
		return Record{}, err
	}
	ts, err := r.provider.ExchangeCode(ctx, creds, code)
	if err != nil {
		r.logger.Warn("code exchange failed", "tenant_id", id.TenantID, "error", err)
		return Record{}, upstreamAuth(jira.OpExchangeCode, err)
	}
	rec, err := r.store.SaveToken(ctx, id.TenantID, r.tokenFrom(ts), nil)
	if err != nil {
		return Record{}, err
	}
	r.logger.Info("jira connected", "tenant_id", id.TenantID, "role", string(id.Role))
	return rec, nil
}

// AuthorizeURL builds the consent URL the tenant's browser is sent to.
func (r *Refresher) AuthorizeURL(ctx context.Context, id auth.Identity, state string) (string, error) {
	creds, err := r.clientForTenant(ctx, id)
	if err != nil {
		return "", err
	}
	return r.provider.AuthCodeURL(creds, state), nil
}

// clientForTenant picks the client pair for a grant. Employees must have
// registered their own; organizations may rely on the application client.
func (r *Refresher) clientForTenant(ctx context.Context, id auth.Identity) (jira.ClientCredentials, error) {
	rec, err := r.store.Get(ctx, id.TenantID)
	switch {
	case errors.Is(err, ErrNotFound):
		if id.Role == auth.RoleEmployee {
			return jira.ClientCredentials{}, ErrNoConnection
		}
		rec = Record{TenantID: id.TenantID}
	case err != nil:
		return jira.ClientCredentials{}, err
	}
	if id.Role == auth.RoleEmployee && rec.ClientID == "" {
		return jira.ClientCredentials{}, ErrMissingCredentials
	}
	creds := r.clientFor(rec)
	if creds.ClientID == "" {
		return jira.ClientCredentials{}, ErrMissingCredentials
	}
	return creds, nil
}

func (r *Refresher) clientFor(rec Record) jira.ClientCredentials {
	if rec.ClientID != "" {
		return rec.Client()
	}
	return r.appClient
}

func (r *Refresher) tokenFrom(ts jira.TokenSet) Token {
	lifetime := ts.ExpiresIn
	if lifetime <= 0 {
		lifetime = jira.DefaultTokenLifetime
	}
	return Token{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    r.now().Add(time.Duration(lifetime) * time.Second).UTC(),
	}
}
