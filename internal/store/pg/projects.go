package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"jiralink.dev/internal/ids"
	"jiralink.dev/internal/projects"
)

// Projects implements projects.Store.
type Projects struct {
	s *Store
}

var _ projects.Store = Projects{}

// Projects returns the project mirror adapter.
func (s *Store) Projects() Projects { return Projects{s: s} }

const projectColumns = `id, tenant_id, remote_id, key, name, description, lead_account_id, project_type_key, url, avatar_url, created_at, updated_at`

func (p Projects) Upsert(ctx context.Context, pr projects.Project) (projects.Project, error) {
	if p.s.db == nil {
		return projects.Project{}, errNoDB
	}
	if strings.TrimSpace(pr.TenantID) == "" || strings.TrimSpace(pr.RemoteID) == "" {
		return projects.Project{}, projects.ErrInvalidInput
	}
	now := p.s.stamp()
	row := p.s.db.QueryRowContext(ctx, `
		insert into jira_projects (`+projectColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		on conflict (tenant_id, remote_id) do update
		set key = excluded.key,
		    name = excluded.name,
		    description = excluded.description,
		    lead_account_id = excluded.lead_account_id,
		    project_type_key = excluded.project_type_key,
		    url = excluded.url,
		    avatar_url = excluded.avatar_url,
		    updated_at = excluded.updated_at
		returning `+projectColumns,
		ids.NewAt(now), pr.TenantID, pr.RemoteID, pr.Key, pr.Name, pr.Description,
		pr.LeadAccountID, pr.ProjectTypeKey, pr.URL, pr.AvatarURL, now)
	return scanProject(row)
}

func (p Projects) ListByTenant(ctx context.Context, tenantID string) ([]projects.Project, error) {
	if p.s.db == nil {
		return nil, errNoDB
	}
	rows, err := p.s.db.QueryContext(ctx, `
		select `+projectColumns+`
		from jira_projects
		where tenant_id = $1
		order by created_at desc, id desc
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]projects.Project, 0)
	for rows.Next() {
		pr, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p Projects) Get(ctx context.Context, id string) (projects.Project, error) {
	if p.s.db == nil {
		return projects.Project{}, errNoDB
	}
	row := p.s.db.QueryRowContext(ctx, `select `+projectColumns+` from jira_projects where id = $1`, id)
	pr, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return projects.Project{}, projects.ErrNotFound
	}
	return pr, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (projects.Project, error) {
	var pr projects.Project
	err := row.Scan(&pr.ID, &pr.TenantID, &pr.RemoteID, &pr.Key, &pr.Name, &pr.Description,
		&pr.LeadAccountID, &pr.ProjectTypeKey, &pr.URL, &pr.AvatarURL, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return projects.Project{}, err
	}
	return pr, nil
}
