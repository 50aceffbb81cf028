package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aegis.org/internal/obs"
)

// Roles manages role records and their embedded privilege grants. Grants
// grow incrementally through AddPrivilege and RemovePrivilege; a role is
// never silently overwritten.
type Roles struct {
	roles      RoleStore
	privileges PrivilegeStore
}

// GrantImport is one batch entry of default grants for a role, keyed by the
// stable business keys of the role and its resources.
type GrantImport struct {
	RoleKey   string `json:"roleKey"`
	Resources []struct {
		ResourceKey string   `json:"resourceKey"`
		Actions     []string `json:"actions"`
	} `json:"resources"`
}

// NewRoles builds the role operations over a workspace's stores.
func NewRoles(roles RoleStore, privileges PrivilegeStore) (*Roles, error) {
	if roles == nil || privileges == nil {
		return nil, errors.New("role and privilege stores are required")
	}
	return &Roles{roles: roles, privileges: privileges}, nil
}

// AddPrivilege grants actions on a privilege to the role. If the role
// already holds a grant for the privilege's resource the action sets are
// unioned; a second grant for the same resource is never appended.
func (r *Roles) AddPrivilege(ctx context.Context, roleID, privilegeID string, actions []string) (*Role, error) {
	role, err := r.roles.Find(ctx, roleID)
	if err != nil {
		return nil, err
	}
	privilege, err := r.privileges.Find(ctx, privilegeID)
	if err != nil {
		return nil, err
	}

	granted := false
	for i := range role.Grants {
		if role.Grants[i].Resource == privilege.Resource {
			role.Grants[i].Actions = unionActions(role.Grants[i].Actions, actions)
			granted = true
			break
		}
	}
	if !granted {
		role.Grants = append(role.Grants, PrivilegeGrant{
			Resource: privilege.Resource,
			Actions:  unionActions(nil, actions),
		})
	}
	if err := r.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// RemovePrivilege deletes the grant for the privilege's resource. The
// lookup uses an explicit found flag: a grant sitting at index zero is
// still a grant.
func (r *Roles) RemovePrivilege(ctx context.Context, roleID, privilegeID string) (*Role, error) {
	role, err := r.roles.Find(ctx, roleID)
	if err != nil {
		return nil, err
	}
	privilege, err := r.privileges.Find(ctx, privilegeID)
	if err != nil {
		return nil, err
	}

	index, found := -1, false
	for i, grant := range role.Grants {
		if grant.Resource == privilege.Resource {
			index, found = i, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: role does not have this privilege", ErrBadRequest)
	}
	role.Grants = append(role.Grants[:index], role.Grants[index+1:]...)
	if err := r.roles.Update(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// ImportGrants applies a batch of default grants. Unknown roles or
// resources are logged and skipped; the import never aborts on a single
// missing record.
func (r *Roles) ImportGrants(ctx context.Context, imports []GrantImport) error {
	for _, entry := range imports {
		role, err := r.roles.FindByKey(ctx, entry.RoleKey)
		if err != nil {
			obs.Warn("roles", "import skipped unknown role", map[string]any{"role_key": entry.RoleKey})
			continue
		}
		for _, resource := range entry.Resources {
			privilege, err := r.privileges.FindByResource(ctx, resource.ResourceKey)
			if err != nil {
				obs.Warn("roles", "import skipped unknown resource", map[string]any{
					"role_key": entry.RoleKey,
					"resource": resource.ResourceKey,
				})
				continue
			}
			if _, err := r.AddPrivilege(ctx, role.ID, privilege.ID, resource.Actions); err != nil {
				obs.Warn("roles", "import grant failed", map[string]any{
					"role_key": entry.RoleKey,
					"resource": resource.ResourceKey,
					"error":    err.Error(),
				})
			}
		}
	}
	return nil
}

func unionActions(existing, additional []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(additional))
	out := make([]string, 0, len(existing)+len(additional))
	for _, action := range existing {
		if _, ok := seen[action]; ok {
			continue
		}
		seen[action] = struct{}{}
		out = append(out, action)
	}
	for _, action := range additional {
		action = strings.TrimSpace(action)
		if action == "" {
			continue
		}
		if _, ok := seen[action]; ok {
			continue
		}
		seen[action] = struct{}{}
		out = append(out, action)
	}
	return out
}
