package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"jiralink.dev/internal/tenant"
)

// Directory implements tenant.Directory over the organizations and employees
// tables populated by the registration system.
type Directory struct {
	s *Store
}

var _ tenant.Directory = Directory{}

// Directory returns the tenant directory adapter.
func (s *Store) Directory() Directory { return Directory{s: s} }

func (d Directory) Organization(ctx context.Context, id string) (tenant.Organization, error) {
	if d.s.db == nil {
		return tenant.Organization{}, errNoDB
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return tenant.Organization{}, tenant.ErrInvalidInput
	}
	var o tenant.Organization
	err := d.s.db.QueryRowContext(ctx, `select id, username, email from organizations where id = $1`, id).
		Scan(&o.ID, &o.Username, &o.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Organization{}, tenant.ErrNotFound
	}
	return o, err
}

func (d Directory) Employee(ctx context.Context, id string) (tenant.Employee, error) {
	if d.s.db == nil {
		return tenant.Employee{}, errNoDB
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return tenant.Employee{}, tenant.ErrInvalidInput
	}
	var e tenant.Employee
	err := d.s.db.QueryRowContext(ctx, `select id, username, email, organization_id from employees where id = $1`, id).
		Scan(&e.ID, &e.Username, &e.Email, &e.OrganizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Employee{}, tenant.ErrNotFound
	}
	return e, err
}

func (d Directory) ListOrganizations(ctx context.Context) ([]tenant.Organization, error) {
	if d.s.db == nil {
		return nil, errNoDB
	}
	rows, err := d.s.db.QueryContext(ctx, `
		select id, username, email
		from organizations
		order by username, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]tenant.Organization, 0)
	for rows.Next() {
		var o tenant.Organization
		if err := rows.Scan(&o.ID, &o.Username, &o.Email); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
