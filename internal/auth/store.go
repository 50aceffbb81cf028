package auth

import "context"

// Store bundles the persistence operations required by the authorization
// core. Each workspace owns exactly one Store bound to its isolated
// connection; instances are never shared across tenants.
type Store interface {
	Accounts() AccountStore
	Roles() RoleStore
	Privileges() PrivilegeStore
	Close() error
}

// AccountStore persists identity records. Accounts are soft-disabled, never
// hard-deleted, so every mutation goes through Update.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	ListByRole(ctx context.Context, roleID string, enabledOnly bool) ([]*Account, error)
	Update(ctx context.Context, account *Account) error
	Count(ctx context.Context) (int64, error)
}

// RoleStore persists roles keyed both by id and by stable business key.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByKey(ctx context.Context, key string) (*Role, error)
	Update(ctx context.Context, role *Role) error
	Count(ctx context.Context) (int64, error)
}

// PrivilegeStore persists the canonical resource records.
type PrivilegeStore interface {
	Create(ctx context.Context, privilege *Privilege) error
	Find(ctx context.Context, id string) (*Privilege, error)
	FindByResource(ctx context.Context, resource string) (*Privilege, error)
	Update(ctx context.Context, privilege *Privilege) error
	Count(ctx context.Context) (int64, error)
}
