package auth

import "time"

// Account is an identity record: either a human user or a service ("bot")
// account. Bot accounts carry no password hash and never log in
// interactively, but may hold a valid service token.
type Account struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Enabled      bool       `json:"enabled"`
	LoginEnabled bool       `json:"login_enabled"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	RoleIDs      []string   `json:"roles"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers never mutate store-owned state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.RoleIDs = append([]string(nil), a.RoleIDs...)
	if a.LastLogin != nil {
		t := *a.LastLogin
		out.LastLogin = &t
	}
	return &out
}

// HasRole reports whether the account references the given role id.
func (a *Account) HasRole(roleID string) bool {
	for _, id := range a.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// AccountSnapshot is the cleaned view of an account embedded into tokens
// and handed to collaborating services. Password hash, role list and
// internal flags are stripped.
type AccountSnapshot struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Snapshot strips the account down to the token-safe view.
func (a *Account) Snapshot() AccountSnapshot {
	return AccountSnapshot{ID: a.ID, Username: a.Username, Email: a.Email}
}

// WildcardResource on a grant bypasses privilege resolution entirely: the
// holding role is allowed every route.
const WildcardResource = "*"

// PrivilegeGrant is a role's embedded reference to a resource plus the
// subset of its actions the role permits. Grants for the same resource are
// unique within a role; adding actions unions them.
type PrivilegeGrant struct {
	Resource string   `json:"resource"`
	Actions  []string `json:"actions"`
}

// Role is a named, reusable bundle of privilege grants. Key is the stable
// business key ("admin", "bot") used for cross-service lookups; it never
// changes across environments even when the display name does.
type Role struct {
	ID        string           `json:"id"`
	Key       string           `json:"key"`
	Name      string           `json:"name"`
	Grants    []PrivilegeGrant `json:"privileges"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Clone returns a deep copy of the role.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	out := *r
	out.Grants = make([]PrivilegeGrant, len(r.Grants))
	for i, g := range r.Grants {
		out.Grants[i] = PrivilegeGrant{
			Resource: g.Resource,
			Actions:  append([]string(nil), g.Actions...),
		}
	}
	return &out
}

// RouteSpec describes one HTTP route implementing an action: method, URL
// template and the regexp source derived from the template. The regexp is a
// cache, never ground truth: consumers recompile it from the URL template
// after any transport.
type RouteSpec struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Regexp string `json:"regexp"`
}

// Privilege is the canonical record of a protected resource: its globally
// unique name and the routes implementing each action. It is created lazily
// when the first route registers against the resource and only ever grows.
type Privilege struct {
	ID        string                 `json:"id"`
	Resource  string                 `json:"resource"`
	Actions   map[string][]RouteSpec `json:"actions_available"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Clone returns a deep copy of the privilege.
func (p *Privilege) Clone() *Privilege {
	if p == nil {
		return nil
	}
	out := *p
	out.Actions = make(map[string][]RouteSpec, len(p.Actions))
	for action, specs := range p.Actions {
		out.Actions[action] = append([]RouteSpec(nil), specs...)
	}
	return &out
}

// Credentials is a login request. Exactly one of Email or Username must be
// supplied.
type Credentials struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

// RequestedRoute is the (method, path) pair being authorized.
type RequestedRoute struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}
