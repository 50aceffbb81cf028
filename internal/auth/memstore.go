package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"aegis.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and local development; production workspaces open a Postgres store.
type InMemory struct {
	mu         sync.RWMutex
	accounts   map[string]*Account
	roles      map[string]*Role
	privileges map[string]*Privilege
}

// NewInMemory creates an empty in-memory credential store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts:   make(map[string]*Account),
		roles:      make(map[string]*Role),
		privileges: make(map[string]*Privilege),
	}
}

func (s *InMemory) Accounts() AccountStore     { return (*memAccounts)(s) }
func (s *InMemory) Roles() RoleStore           { return (*memRoles)(s) }
func (s *InMemory) Privileges() PrivilegeStore { return (*memPrivileges)(s) }
func (s *InMemory) Close() error               { return nil }

type memAccounts InMemory

func (s *memAccounts) Create(ctx context.Context, account *Account) error {
	if account == nil {
		return fmt.Errorf("%w: account is required", ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email != "" && strings.EqualFold(existing.Email, account.Email) {
			return fmt.Errorf("%w: email already taken", ErrConflict)
		}
		if existing.Username != "" && existing.Username == account.Username {
			return fmt.Errorf("%w: username already taken", ErrConflict)
		}
	}
	if account.ID == "" {
		account.ID = ids.New()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *memAccounts) Find(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	return account.Clone(), nil
}

func (s *memAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.accounts {
		if account.Email != "" && strings.EqualFold(account.Email, email) {
			return account.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: account by email", ErrNotFound)
}

func (s *memAccounts) FindByUsername(ctx context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.accounts {
		if account.Username == username {
			return account.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: account by username", ErrNotFound)
}

func (s *memAccounts) ListByRole(ctx context.Context, roleID string, enabledOnly bool) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Account
	for _, account := range s.accounts {
		if enabledOnly && !account.Enabled {
			continue
		}
		if account.HasRole(roleID) {
			out = append(out, account.Clone())
		}
	}
	return out, nil
}

func (s *memAccounts) Update(ctx context.Context, account *Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, account.ID)
	}
	account.UpdatedAt = time.Now().UTC()
	s.accounts[account.ID] = account.Clone()
	return nil
}

func (s *memAccounts) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.accounts)), nil
}

type memRoles InMemory

func (s *memRoles) Create(ctx context.Context, role *Role) error {
	if role == nil || role.Key == "" {
		return fmt.Errorf("%w: role key is required", ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Key == role.Key {
			return fmt.Errorf("%w: role key %s", ErrConflict, role.Key)
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	s.roles[role.ID] = role.Clone()
	return nil
}

func (s *memRoles) Find(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return role.Clone(), nil
}

func (s *memRoles) FindByKey(ctx context.Context, key string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, role := range s.roles {
		if role.Key == key {
			return role.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: role key %s", ErrNotFound, key)
}

func (s *memRoles) Update(ctx context.Context, role *Role) error {
	if role == nil || role.ID == "" {
		return fmt.Errorf("%w: role id is required", ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, role.ID)
	}
	role.UpdatedAt = time.Now().UTC()
	s.roles[role.ID] = role.Clone()
	return nil
}

func (s *memRoles) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.roles)), nil
}

type memPrivileges InMemory

func (s *memPrivileges) Create(ctx context.Context, privilege *Privilege) error {
	if privilege == nil || privilege.Resource == "" {
		return fmt.Errorf("%w: privilege resource is required", ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.privileges {
		if existing.Resource == privilege.Resource {
			return fmt.Errorf("%w: privilege %s", ErrConflict, privilege.Resource)
		}
	}
	if privilege.ID == "" {
		privilege.ID = ids.New()
	}
	if privilege.Actions == nil {
		privilege.Actions = make(map[string][]RouteSpec)
	}
	now := time.Now().UTC()
	if privilege.CreatedAt.IsZero() {
		privilege.CreatedAt = now
	}
	privilege.UpdatedAt = now
	s.privileges[privilege.ID] = privilege.Clone()
	return nil
}

func (s *memPrivileges) Find(ctx context.Context, id string) (*Privilege, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	privilege, ok := s.privileges[id]
	if !ok {
		return nil, fmt.Errorf("%w: privilege %s", ErrNotFound, id)
	}
	return privilege.Clone(), nil
}

func (s *memPrivileges) FindByResource(ctx context.Context, resource string) (*Privilege, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, privilege := range s.privileges {
		if privilege.Resource == resource {
			return privilege.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: privilege resource %s", ErrNotFound, resource)
}

func (s *memPrivileges) Update(ctx context.Context, privilege *Privilege) error {
	if privilege == nil || privilege.ID == "" {
		return fmt.Errorf("%w: privilege id is required", ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.privileges[privilege.ID]; !ok {
		return fmt.Errorf("%w: privilege %s", ErrNotFound, privilege.ID)
	}
	privilege.UpdatedAt = time.Now().UTC()
	s.privileges[privilege.ID] = privilege.Clone()
	return nil
}

func (s *memPrivileges) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.privileges)), nil
}
