package auth

import (
	"context"
	"errors"
	"testing"
)

func newEngineFixture(t *testing.T) (*InMemory, *Engine) {
	t.Helper()
	store := NewInMemory()
	resolver, err := NewResolver(store.Privileges())
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(store.Accounts(), store.Roles(), resolver)
	if err != nil {
		t.Fatal(err)
	}
	return store, engine
}

func TestAuthorizeWildcardRoleAllowsEverything(t *testing.T) {
	store, engine := newEngineFixture(t)
	ctx := context.Background()

	admin := &Role{Key: "admin", Grants: []PrivilegeGrant{{Resource: WildcardResource}}}
	if err := store.Roles().Create(ctx, admin); err != nil {
		t.Fatal(err)
	}
	account := &Account{Username: "root", Enabled: true, LoginEnabled: true, RoleIDs: []string{admin.ID}}
	if err := store.Accounts().Create(ctx, account); err != nil {
		t.Fatal(err)
	}

	ok, err := engine.Authorize(ctx, account.ID, RequestedRoute{Method: "DELETE", URL: "/anything/at/all"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("wildcard role must allow every route")
	}
}

func TestAuthorizeDisabledAccount(t *testing.T) {
	store, engine := newEngineFixture(t)
	ctx := context.Background()

	account := &Account{Username: "off", Enabled: false}
	if err := store.Accounts().Create(ctx, account); err != nil {
		t.Fatal(err)
	}
	_, err := engine.Authorize(ctx, account.ID, RequestedRoute{Method: "GET", URL: "/articles"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthorizeUnknownAccount(t *testing.T) {
	_, engine := newEngineFixture(t)
	_, err := engine.Authorize(context.Background(), "missing", RequestedRoute{Method: "GET", URL: "/articles"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthorizeSkipsDanglingRoleIDs(t *testing.T) {
	store, engine := newEngineFixture(t)
	ctx := context.Background()

	if err := store.Privileges().Create(ctx, &Privilege{
		Resource: "articles",
		Actions:  map[string][]RouteSpec{"read": {{Method: "GET", URL: "/articles"}}},
	}); err != nil {
		t.Fatal(err)
	}
	reader := &Role{Key: "reader", Grants: []PrivilegeGrant{{Resource: "articles", Actions: []string{"read"}}}}
	if err := store.Roles().Create(ctx, reader); err != nil {
		t.Fatal(err)
	}
	account := &Account{Username: "mixed", Enabled: true, RoleIDs: []string{"deleted-role", reader.ID}}
	if err := store.Accounts().Create(ctx, account); err != nil {
		t.Fatal(err)
	}

	ok, err := engine.Authorize(ctx, account.ID, RequestedRoute{Method: "GET", URL: "/articles"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("dangling role id must be skipped, not break the fan-out")
	}
}

func TestAuthorizeDeniesWithoutMatchingGrant(t *testing.T) {
	store, engine := newEngineFixture(t)
	ctx := context.Background()

	role := &Role{Key: "empty"}
	if err := store.Roles().Create(ctx, role); err != nil {
		t.Fatal(err)
	}
	account := &Account{Username: "limited", Enabled: true, RoleIDs: []string{role.ID}}
	if err := store.Accounts().Create(ctx, account); err != nil {
		t.Fatal(err)
	}

	ok, err := engine.Authorize(ctx, account.ID, RequestedRoute{Method: "GET", URL: "/articles"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("account without grants must be denied")
	}
}
