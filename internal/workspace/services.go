// Package workspace owns the tenant lifecycle: one isolated store and one
// service registry per workspace key, provisioned idempotently and retried
// from scratch on failure.
package workspace

import (
	"errors"

	"aegis.org/internal/auth"
)

// Services is the per-tenant service registry: every instance in it is
// bound to this workspace's store connection and may not be shared with or
// reference another workspace's store.
type Services struct {
	Store      auth.Store
	Engine     *auth.Engine
	Tokens     *auth.Tokens
	Roles      *auth.Roles
	Privileges *auth.Privileges
	Guard      *auth.Guard
}

// NewServices wires the full service bundle over one store.
func NewServices(store auth.Store, secret string, tokenOpts ...auth.TokenOption) (*Services, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	resolver, err := auth.NewResolver(store.Privileges())
	if err != nil {
		return nil, err
	}
	engine, err := auth.NewEngine(store.Accounts(), store.Roles(), resolver)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokens(store.Accounts(), store.Roles(), secret, tokenOpts...)
	if err != nil {
		return nil, err
	}
	roles, err := auth.NewRoles(store.Roles(), store.Privileges())
	if err != nil {
		return nil, err
	}
	privileges, err := auth.NewPrivileges(store.Privileges())
	if err != nil {
		return nil, err
	}
	guard, err := auth.NewGuard(tokens, engine)
	if err != nil {
		return nil, err
	}
	return &Services{
		Store:      store,
		Engine:     engine,
		Tokens:     tokens,
		Roles:      roles,
		Privileges: privileges,
		Guard:      guard,
	}, nil
}
