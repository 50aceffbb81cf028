package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"aegis.org/internal/auth"
	"aegis.org/internal/ids"
)

type accountStore Store

func (s *accountStore) Create(ctx context.Context, account *auth.Account) error {
	if account == nil {
		return fmt.Errorf("%w: account is required", auth.ErrBadRequest)
	}
	if account.ID == "" {
		account.ID = ids.New()
	}
	roles, err := json.Marshal(append([]string{}, account.RoleIDs...))
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	query := fmt.Sprintf(`
		insert into %s (id, username, email, password_hash, enabled, login_enabled, last_login, roles)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, (*Store)(s).table("accounts"))
	row := s.db.QueryRowContext(ctx, query,
		account.ID, account.Username, account.Email, account.PasswordHash,
		account.Enabled, account.LoginEnabled, account.LastLogin, roles)
	if err := row.Scan(&account.CreatedAt, &account.UpdatedAt); err != nil {
		return mapStoreError(err, "account "+account.ID)
	}
	return nil
}

func (s *accountStore) Find(ctx context.Context, id string) (*auth.Account, error) {
	return s.findWhere(ctx, "id = $1", id)
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return s.findWhere(ctx, "lower(email) = lower($1) and email <> ''", email)
}

func (s *accountStore) FindByUsername(ctx context.Context, username string) (*auth.Account, error) {
	return s.findWhere(ctx, "username = $1 and username <> ''", username)
}

func (s *accountStore) findWhere(ctx context.Context, where string, arg any) (*auth.Account, error) {
	query := fmt.Sprintf(`
		select id, username, email, password_hash, enabled, login_enabled, last_login, roles, created_at, updated_at
		from %s where %s
	`, (*Store)(s).table("accounts"), where)
	return scanAccount(s.db.QueryRowContext(ctx, query, arg))
}

func (s *accountStore) ListByRole(ctx context.Context, roleID string, enabledOnly bool) ([]*auth.Account, error) {
	query := fmt.Sprintf(`
		select id, username, email, password_hash, enabled, login_enabled, last_login, roles, created_at, updated_at
		from %s where roles ? $1
	`, (*Store)(s).table("accounts"))
	if enabledOnly {
		query += " and enabled"
	}
	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

func (s *accountStore) Update(ctx context.Context, account *auth.Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("%w: account id is required", auth.ErrBadRequest)
	}
	roles, err := json.Marshal(append([]string{}, account.RoleIDs...))
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	query := fmt.Sprintf(`
		update %s
		set username = $2, email = $3, password_hash = $4, enabled = $5,
		    login_enabled = $6, last_login = $7, roles = $8, updated_at = now()
		where id = $1
		returning updated_at
	`, (*Store)(s).table("accounts"))
	row := s.db.QueryRowContext(ctx, query,
		account.ID, account.Username, account.Email, account.PasswordHash,
		account.Enabled, account.LoginEnabled, account.LastLogin, roles)
	if err := row.Scan(&account.UpdatedAt); err != nil {
		return mapStoreError(err, "account "+account.ID)
	}
	return nil
}

func (s *accountStore) Count(ctx context.Context) (int64, error) {
	return count(ctx, s.db, (*Store)(s).table("accounts"))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		account   auth.Account
		lastLogin sql.NullTime
		rawRoles  []byte
	)
	err := row.Scan(&account.ID, &account.Username, &account.Email, &account.PasswordHash,
		&account.Enabled, &account.LoginEnabled, &lastLogin, &rawRoles,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, mapStoreError(err, "account")
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		account.LastLogin = &t
	}
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &account.RoleIDs); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	return &account, nil
}

type roleStore Store

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	if role == nil || role.Key == "" {
		return fmt.Errorf("%w: role key is required", auth.ErrBadRequest)
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	grants, err := json.Marshal(role.Grants)
	if err != nil {
		return fmt.Errorf("marshal grants: %w", err)
	}
	query := fmt.Sprintf(`
		insert into %s (id, key, name, grants)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, (*Store)(s).table("roles"))
	row := s.db.QueryRowContext(ctx, query, role.ID, role.Key, role.Name, grants)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		return mapStoreError(err, "role "+role.Key)
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return s.findWhere(ctx, "id = $1", id)
}

func (s *roleStore) FindByKey(ctx context.Context, key string) (*auth.Role, error) {
	return s.findWhere(ctx, "key = $1", key)
}

func (s *roleStore) findWhere(ctx context.Context, where string, arg any) (*auth.Role, error) {
	query := fmt.Sprintf(`
		select id, key, name, grants, created_at, updated_at
		from %s where %s
	`, (*Store)(s).table("roles"), where)

	var (
		role      auth.Role
		rawGrants []byte
	)
	row := s.db.QueryRowContext(ctx, query, arg)
	if err := row.Scan(&role.ID, &role.Key, &role.Name, &rawGrants, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, mapStoreError(err, "role")
	}
	if len(rawGrants) > 0 {
		if err := json.Unmarshal(rawGrants, &role.Grants); err != nil {
			return nil, fmt.Errorf("decode grants: %w", err)
		}
	}
	return &role, nil
}

func (s *roleStore) Update(ctx context.Context, role *auth.Role) error {
	if role == nil || role.ID == "" {
		return fmt.Errorf("%w: role id is required", auth.ErrBadRequest)
	}
	grants, err := json.Marshal(role.Grants)
	if err != nil {
		return fmt.Errorf("marshal grants: %w", err)
	}
	query := fmt.Sprintf(`
		update %s set key = $2, name = $3, grants = $4, updated_at = now()
		where id = $1
		returning updated_at
	`, (*Store)(s).table("roles"))
	row := s.db.QueryRowContext(ctx, query, role.ID, role.Key, role.Name, grants)
	if err := row.Scan(&role.UpdatedAt); err != nil {
		return mapStoreError(err, "role "+role.ID)
	}
	return nil
}

func (s *roleStore) Count(ctx context.Context) (int64, error) {
	return count(ctx, s.db, (*Store)(s).table("roles"))
}

type privilegeStore Store

func (s *privilegeStore) Create(ctx context.Context, privilege *auth.Privilege) error {
	if privilege == nil || privilege.Resource == "" {
		return fmt.Errorf("%w: privilege resource is required", auth.ErrBadRequest)
	}
	if privilege.ID == "" {
		privilege.ID = ids.New()
	}
	if privilege.Actions == nil {
		privilege.Actions = make(map[string][]auth.RouteSpec)
	}
	actions, err := json.Marshal(privilege.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	query := fmt.Sprintf(`
		insert into %s (id, resource, actions)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, (*Store)(s).table("privileges"))
	row := s.db.QueryRowContext(ctx, query, privilege.ID, privilege.Resource, actions)
	if err := row.Scan(&privilege.CreatedAt, &privilege.UpdatedAt); err != nil {
		return mapStoreError(err, "privilege "+privilege.Resource)
	}
	return nil
}

func (s *privilegeStore) Find(ctx context.Context, id string) (*auth.Privilege, error) {
	return s.findWhere(ctx, "id = $1", id)
}

func (s *privilegeStore) FindByResource(ctx context.Context, resource string) (*auth.Privilege, error) {
	return s.findWhere(ctx, "resource = $1", resource)
}

func (s *privilegeStore) findWhere(ctx context.Context, where string, arg any) (*auth.Privilege, error) {
	query := fmt.Sprintf(`
		select id, resource, actions, created_at, updated_at
		from %s where %s
	`, (*Store)(s).table("privileges"), where)

	var (
		privilege  auth.Privilege
		rawActions []byte
	)
	row := s.db.QueryRowContext(ctx, query, arg)
	if err := row.Scan(&privilege.ID, &privilege.Resource, &rawActions, &privilege.CreatedAt, &privilege.UpdatedAt); err != nil {
		return nil, mapStoreError(err, "privilege")
	}
	privilege.Actions = make(map[string][]auth.RouteSpec)
	if len(rawActions) > 0 {
		if err := json.Unmarshal(rawActions, &privilege.Actions); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
	}
	return &privilege, nil
}

func (s *privilegeStore) Update(ctx context.Context, privilege *auth.Privilege) error {
	if privilege == nil || privilege.ID == "" {
		return fmt.Errorf("%w: privilege id is required", auth.ErrBadRequest)
	}
	actions, err := json.Marshal(privilege.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	query := fmt.Sprintf(`
		update %s set resource = $2, actions = $3, updated_at = now()
		where id = $1
		returning updated_at
	`, (*Store)(s).table("privileges"))
	row := s.db.QueryRowContext(ctx, query, privilege.ID, privilege.Resource, actions)
	if err := row.Scan(&privilege.UpdatedAt); err != nil {
		return mapStoreError(err, "privilege "+privilege.ID)
	}
	return nil
}

func (s *privilegeStore) Count(ctx context.Context) (int64, error) {
	return count(ctx, s.db, (*Store)(s).table("privileges"))
}

func count(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var n int64
	query := fmt.Sprintf(`select count(*) from %s`, table)
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
