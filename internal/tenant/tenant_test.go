package tenant

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	dir.PutOrganization(Organization{ID: "org-b", Username: "beta"})
	dir.PutOrganization(Organization{ID: "org-a", Username: "alpha"})
	dir.PutEmployee(Employee{ID: "emp-1", Username: "jo", OrganizationID: "org-a"})

	orgs, err := dir.ListOrganizations(ctx)
	if err != nil {
		t.Fatalf("ListOrganizations: %v", err)
	}
	if len(orgs) != 2 || orgs[0].ID != "org-a" {
		t.Fatalf("unexpected order: %+v", orgs)
	}

	emp, err := dir.Employee(ctx, "emp-1")
	if err != nil || emp.OrganizationID != "org-a" {
		t.Fatalf("Employee: %+v %v", emp, err)
	}
	if _, err := dir.Employee(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := dir.Organization(ctx, " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
