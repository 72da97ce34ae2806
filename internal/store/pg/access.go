package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"jiralink.dev/internal/access"
)

// AccessRequests implements access.Store. The partial unique index
// access_requests_one_pending keeps at most one PENDING row per pair.
type AccessRequests struct {
	s *Store
}

var _ access.Store = AccessRequests{}

// AccessRequests returns the access request adapter.
func (s *Store) AccessRequests() AccessRequests { return AccessRequests{s: s} }

const accessColumns = `id, employee_id, project_id, status, created_at, updated_at`

func (a AccessRequests) Create(ctx context.Context, r access.Request) (access.Request, error) {
	if a.s.db == nil {
		return access.Request{}, errNoDB
	}
	if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.EmployeeID) == "" || strings.TrimSpace(r.ProjectID) == "" {
		return access.Request{}, access.ErrInvalidInput
	}
	row := a.s.db.QueryRowContext(ctx, `
		insert into access_requests (`+accessColumns+`)
		values ($1, $2, $3, $4, $5, $6)
		returning `+accessColumns,
		r.ID, r.EmployeeID, r.ProjectID, string(access.StatusPending), r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	out, err := scanRequest(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return access.Request{}, access.ErrDuplicatePending
			case pgErrForeignKeyViolation:
				return access.Request{}, access.ErrProjectNotFound
			}
		}
		return access.Request{}, err
	}
	return out, nil
}

func (a AccessRequests) AcceptPending(ctx context.Context, projectID, employeeID string, at time.Time) (access.Request, error) {
	if a.s.db == nil {
		return access.Request{}, errNoDB
	}
	row := a.s.db.QueryRowContext(ctx, `
		update access_requests
		set status = $3, updated_at = $4
		where project_id = $1 and employee_id = $2 and status = $5
		returning `+accessColumns,
		projectID, employeeID, string(access.StatusAccepted), at.UTC(), string(access.StatusPending))
	out, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Request{}, access.ErrRequestNotFound
	}
	return out, err
}

func (a AccessRequests) ListPending(ctx context.Context, projectIDs []string) ([]access.Request, error) {
	if len(projectIDs) == 0 {
		return []access.Request{}, nil
	}
	return a.list(ctx, `
		select `+accessColumns+`
		from access_requests
		where status = $1 and project_id = any($2)
		order by created_at desc, id desc
	`, string(access.StatusPending), projectIDs)
}

func (a AccessRequests) ListByEmployee(ctx context.Context, employeeID string) ([]access.Request, error) {
	return a.list(ctx, `
		select `+accessColumns+`
		from access_requests
		where employee_id = $1
		order by created_at desc, id desc
	`, employeeID)
}

func (a AccessRequests) list(ctx context.Context, query string, args ...any) ([]access.Request, error) {
	if a.s.db == nil {
		return nil, errNoDB
	}
	rows, err := a.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]access.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (access.Request, error) {
	var (
		r      access.Request
		status string
	)
	if err := row.Scan(&r.ID, &r.EmployeeID, &r.ProjectID, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return access.Request{}, err
	}
	r.Status = access.Status(status)
	return r, nil
}
