package auth

import (
	"context"
	"errors"
	"fmt"

	"aegis.org/internal/obs"
)

// Engine answers "may this account perform method M on path P". It is a
// pure read-side fan-out over the account's roles; nothing is mutated
// during authorization, so calls are safely concurrent.
type Engine struct {
	accounts AccountStore
	roles    RoleStore
	resolver *Resolver
}

// NewEngine wires the engine to a workspace's stores.
func NewEngine(accounts AccountStore, roles RoleStore, resolver *Resolver) (*Engine, error) {
	if accounts == nil || roles == nil || resolver == nil {
		return nil, errors.New("accounts, roles and resolver are required")
	}
	return &Engine{accounts: accounts, roles: roles, resolver: resolver}, nil
}

// Authorize loads the account and fans out over its roles and grants.
// A grant for the wildcard resource short-circuits to allow. Unknown
// accounts fail with ErrNotFound, disabled accounts with ErrUnauthorized.
func (e *Engine) Authorize(ctx context.Context, accountID string, route RequestedRoute) (bool, error) {
	account, err := e.accounts.Find(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !account.Enabled {
		return false, fmt.Errorf("%w: account %s is disabled", ErrUnauthorized, accountID)
	}

	allowed, err := e.authorizeAccount(ctx, account, route)
	if err != nil {
		return false, err
	}
	obs.ObserveAuthzDecision(allowed)
	return allowed, nil
}

func (e *Engine) authorizeAccount(ctx context.Context, account *Account, route RequestedRoute) (bool, error) {
	for _, roleID := range account.RoleIDs {
		role, err := e.roles.Find(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Roles reference privileges by business key, not foreign
				// key integrity; a dangling role id denies rather than errors.
				continue
			}
			return false, err
		}
		for _, grant := range role.Grants {
			if grant.Resource == WildcardResource {
				return true, nil
			}
			ok, err := e.resolver.IsAllowed(ctx, grant, route)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
