package auth

import (
	"context"
	"errors"
	"testing"
)

func newRolesFixture(t *testing.T) (*InMemory, *Roles, *Role, *Privilege) {
	t.Helper()
	store := NewInMemory()
	ctx := context.Background()

	role := &Role{Key: "editor", Name: "Editor"}
	if err := store.Roles().Create(ctx, role); err != nil {
		t.Fatal(err)
	}
	privilege := &Privilege{
		Resource: "articles",
		Actions:  map[string][]RouteSpec{"read": {{Method: "GET", URL: "/articles"}}},
	}
	if err := store.Privileges().Create(ctx, privilege); err != nil {
		t.Fatal(err)
	}
	svc, err := NewRoles(store.Roles(), store.Privileges())
	if err != nil {
		t.Fatal(err)
	}
	return store, svc, role, privilege
}

func TestAddPrivilegeUnionsActions(t *testing.T) {
	_, svc, role, privilege := newRolesFixture(t)
	ctx := context.Background()

	if _, err := svc.AddPrivilege(ctx, role.ID, privilege.ID, []string{"read"}); err != nil {
		t.Fatal(err)
	}
	updated, err := svc.AddPrivilege(ctx, role.ID, privilege.ID, []string{"read", "write"})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Grants) != 1 {
		t.Fatalf("expected one grant per resource, got %d", len(updated.Grants))
	}
	got := updated.Grants[0].Actions
	if len(got) != 2 || got[0] != "read" || got[1] != "write" {
		t.Fatalf("unexpected action union: %v", got)
	}
}

func TestRemovePrivilegeAtIndexZero(t *testing.T) {
	_, svc, role, privilege := newRolesFixture(t)
	ctx := context.Background()

	if _, err := svc.AddPrivilege(ctx, role.ID, privilege.ID, []string{"read"}); err != nil {
		t.Fatal(err)
	}
	updated, err := svc.RemovePrivilege(ctx, role.ID, privilege.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Grants) != 0 {
		t.Fatalf("grant at index zero was not removed: %v", updated.Grants)
	}
}

func TestRemovePrivilegeNotGranted(t *testing.T) {
	_, svc, role, privilege := newRolesFixture(t)
	_, err := svc.RemovePrivilege(context.Background(), role.ID, privilege.ID)
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestImportGrantsSkipsUnknownRecords(t *testing.T) {
	store, svc, role, _ := newRolesFixture(t)
	ctx := context.Background()

	imports := []GrantImport{
		{RoleKey: "nobody"},
		{RoleKey: role.Key, Resources: []struct {
			ResourceKey string   `json:"resourceKey"`
			Actions     []string `json:"actions"`
		}{
			{ResourceKey: "ghosts", Actions: []string{"read"}},
			{ResourceKey: "articles", Actions: []string{"read"}},
		}},
	}
	if err := svc.ImportGrants(ctx, imports); err != nil {
		t.Fatal(err)
	}
	reloaded, err := store.Roles().Find(ctx, role.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Grants) != 1 || reloaded.Grants[0].Resource != "articles" {
		t.Fatalf("expected only the valid grant applied, got %v", reloaded.Grants)
	}
}
