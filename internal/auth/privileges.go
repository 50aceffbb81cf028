package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aegis.org/internal/routes"
)

// Privileges manages the canonical resource records. Resources are created
// lazily the first time a route registers against them and grow
// monotonically; nothing here ever shrinks a privilege.
type Privileges struct {
	store PrivilegeStore
}

// NewPrivileges builds the privilege operations over a workspace's store.
func NewPrivileges(store PrivilegeStore) (*Privileges, error) {
	if store == nil {
		return nil, errors.New("privilege store is required")
	}
	return &Privileges{store: store}, nil
}

// AddRoutes appends route specs to the resource's action, creating the
// privilege if the resource is unknown. Specs are deduplicated by method +
// normalized URL, and the regexp field is always recomputed from the URL
// template, never taken from the caller.
func (p *Privileges) AddRoutes(ctx context.Context, resource, action string, specs []RouteSpec) (*Privilege, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return nil, fmt.Errorf("%w: resource and action are required", ErrBadRequest)
	}

	privilege, err := p.store.FindByResource(ctx, resource)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		privilege = &Privilege{Resource: resource, Actions: make(map[string][]RouteSpec)}
		if err := p.store.Create(ctx, privilege); err != nil {
			return nil, err
		}
	}
	if privilege.Actions == nil {
		privilege.Actions = make(map[string][]RouteSpec)
	}

	existing := privilege.Actions[action]
	changed := false
	for _, spec := range specs {
		url := routes.StripQuery(strings.TrimSpace(spec.URL))
		pattern, err := routes.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		method := strings.ToUpper(strings.TrimSpace(spec.Method))
		if hasRoute(existing, method, pattern.Template()) {
			continue
		}
		existing = append(existing, RouteSpec{
			Method: method,
			URL:    pattern.Template(),
			Regexp: pattern.Source(),
		})
		changed = true
	}
	if !changed {
		return privilege, nil
	}
	privilege.Actions[action] = existing
	if err := p.store.Update(ctx, privilege); err != nil {
		return nil, err
	}
	return privilege, nil
}

func hasRoute(specs []RouteSpec, method, url string) bool {
	for _, spec := range specs {
		if strings.EqualFold(spec.Method, method) && spec.URL == url {
			return true
		}
	}
	return false
}
