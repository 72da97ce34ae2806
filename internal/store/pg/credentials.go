package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"jiralink.dev/internal/credentials"
)

// Credentials implements credentials.Store.
type Credentials struct {
	s *Store
}

var _ credentials.Store = Credentials{}

// Credentials returns the credential record adapter.
func (s *Store) Credentials() Credentials { return Credentials{s: s} }

const credentialColumns = `tenant_id, client_id, client_secret, access_token, refresh_token, token_expires_at, cloud_id, created_at, updated_at`

func (c Credentials) Get(ctx context.Context, tenantID string) (credentials.Record, error) {
	if c.s.db == nil {
		return credentials.Record{}, errNoDB
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return credentials.Record{}, credentials.ErrInvalidInput
	}
	row := c.s.db.QueryRowContext(ctx, `select `+credentialColumns+` from jira_credentials where tenant_id = $1`, tenantID)
	rec, err := c.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Record{}, credentials.ErrNotFound
	}
	return rec, err
}

func (c Credentials) Register(ctx context.Context, tenantID, clientID, clientSecret string) (credentials.Record, error) {
	if c.s.db == nil {
		return credentials.Record{}, errNoDB
	}
	tenantID = strings.TrimSpace(tenantID)
	clientID = strings.TrimSpace(clientID)
	if tenantID == "" || clientID == "" {
		return credentials.Record{}, fmt.Errorf("%w: tenant id and client id are required", credentials.ErrInvalidInput)
	}
	sealedSecret, err := c.seal(tenantID, clientSecret)
	if err != nil {
		return credentials.Record{}, err
	}
	row := c.s.db.QueryRowContext(ctx, `
		insert into jira_credentials (tenant_id, client_id, client_secret, created_at, updated_at)
		values ($1, $2, $3, $4, $4)
		on conflict (tenant_id) do update
		set client_id = excluded.client_id,
		    client_secret = excluded.client_secret,
		    updated_at = excluded.updated_at
		returning `+credentialColumns, tenantID, clientID, sealedSecret, c.s.stamp())
	return c.scan(row)
}

func (c Credentials) SaveToken(ctx context.Context, tenantID string, tok credentials.Token, expectedExpiry *time.Time) (credentials.Record, error) {
	if c.s.db == nil {
		return credentials.Record{}, errNoDB
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" || tok.AccessToken == "" {
		return credentials.Record{}, credentials.ErrInvalidInput
	}
	access, err := c.seal(tenantID, tok.AccessToken)
	if err != nil {
		return credentials.Record{}, err
	}
	refresh, err := c.seal(tenantID, tok.RefreshToken)
	if err != nil {
		return credentials.Record{}, err
	}
	expires := tok.ExpiresAt.UTC().Truncate(time.Microsecond)
	now := c.s.stamp()

	if expectedExpiry == nil {
		row := c.s.db.QueryRowContext(ctx, `
			insert into jira_credentials (tenant_id, access_token, refresh_token, token_expires_at, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $5)
			on conflict (tenant_id) do update
			set access_token = excluded.access_token,
			    refresh_token = excluded.refresh_token,
			    token_expires_at = excluded.token_expires_at,
			    updated_at = excluded.updated_at
			returning `+credentialColumns, tenantID, access, refresh, expires, now)
		return c.scan(row)
	}

	row := c.s.db.QueryRowContext(ctx, `
		update jira_credentials
		set access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = $5
		where tenant_id = $1 and token_expires_at = $6
		returning `+credentialColumns, tenantID, access, refresh, expires, now, expectedExpiry.UTC())
	rec, err := c.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Record{}, credentials.ErrStaleToken
	}
	return rec, err
}

func (c Credentials) SetCloudID(ctx context.Context, tenantID, cloudID string) (credentials.Record, error) {
	if c.s.db == nil {
		return credentials.Record{}, errNoDB
	}
	tenantID = strings.TrimSpace(tenantID)
	cloudID = strings.TrimSpace(cloudID)
	if tenantID == "" || cloudID == "" {
		return credentials.Record{}, credentials.ErrInvalidInput
	}
	row := c.s.db.QueryRowContext(ctx, `
		update jira_credentials
		set cloud_id = $2, updated_at = $3
		where tenant_id = $1 and access_token is not null
		returning `+credentialColumns, tenantID, cloudID, c.s.stamp())
	rec, err := c.scan(row)
	if !errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	var exists bool
	if err := c.s.db.QueryRowContext(ctx, `select exists(select 1 from jira_credentials where tenant_id = $1)`, tenantID).Scan(&exists); err != nil {
		return credentials.Record{}, err
	}
	if !exists {
		return credentials.Record{}, credentials.ErrNotFound
	}
	return credentials.Record{}, credentials.ErrMissingCredentials
}

func (c Credentials) scan(row rowScanner) (credentials.Record, error) {
	var rec credentials.Record
	var clientID, secret, access, refresh, cloudID sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(&rec.TenantID, &clientID, &secret, &access, &refresh, &expiresAt, &cloudID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return credentials.Record{}, err
	}
	rec.ClientID = clientID.String
	rec.CloudID = cloudID.String
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		rec.TokenExpiresAt = &t
	}
	var err error
	if rec.ClientSecret, err = c.open(rec.TenantID, secret); err != nil {
		return credentials.Record{}, err
	}
	if rec.AccessToken, err = c.open(rec.TenantID, access); err != nil {
		return credentials.Record{}, err
	}
	if rec.RefreshToken, err = c.open(rec.TenantID, refresh); err != nil {
		return credentials.Record{}, err
	}
	return rec, nil
}

func (c Credentials) seal(tenantID, value string) (sql.NullString, error) {
	if value == "" {
		return sql.NullString{}, nil
	}
	sealed, err := c.s.sealer.Seal(tenantID, value)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("seal credential: %w", err)
	}
	return sql.NullString{String: sealed, Valid: true}, nil
}

func (c Credentials) open(tenantID string, v sql.NullString) (string, error) {
	if !v.Valid || v.String == "" {
		return "", nil
	}
	plain, err := c.s.sealer.Open(tenantID, v.String)
	if err != nil {
		return "", fmt.Errorf("open credential: %w", err)
	}
	return plain, nil
}
