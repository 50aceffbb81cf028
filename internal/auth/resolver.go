package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aegis.org/internal/routes"
)

// Resolver decides whether a single privilege grant covers a requested
// route, consulting the canonical privilege record for the grant's resource.
type Resolver struct {
	privileges PrivilegeStore
}

// NewResolver builds a resolver over the workspace's privilege store.
func NewResolver(privileges PrivilegeStore) (*Resolver, error) {
	if privileges == nil {
		return nil, errors.New("privilege store is required")
	}
	return &Resolver{privileges: privileges}, nil
}

// IsAllowed reports whether the grant covers the requested route. An
// unknown resource denies: nothing is ever implicitly allowed. The
// wildcard resource is not resolved here; the engine intercepts it one
// level up because a wildcard has no canonical route list.
func (r *Resolver) IsAllowed(ctx context.Context, grant PrivilegeGrant, route RequestedRoute) (bool, error) {
	if grant.Resource == WildcardResource {
		return false, fmt.Errorf("%w: wildcard grant cannot be resolved", ErrBadRequest)
	}
	privilege, err := r.privileges.FindByResource(ctx, grant.Resource)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// fail closed
			return false, nil
		}
		return false, err
	}

	path := routes.StripQuery(route.URL)
	for _, action := range grant.Actions {
		for _, spec := range privilege.Actions[action] {
			if !strings.EqualFold(spec.Method, route.Method) {
				continue
			}
			pattern, err := routes.Compile(spec.URL)
			if err != nil {
				// A stored template that no longer compiles is a data bug,
				// not a reason to fail the whole authorization.
				continue
			}
			if pattern.Match(path) {
				return true, nil
			}
		}
	}
	return false, nil
}
