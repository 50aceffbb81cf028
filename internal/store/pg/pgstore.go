// Package pg implements the credential store on Postgres. Each workspace
// gets its own schema, so tenant isolation holds even when every tenant
// shares one database server.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"aegis.org/internal/auth"
)

const pgErrUniqueViolation = "23505"

// Store implements auth.Store over one workspace's schema.
type Store struct {
	db     *sql.DB
	schema string
}

var _ auth.Store = (*Store)(nil)

// Open connects to Postgres and provisions the workspace's schema. The
// returned store owns its pool; closing the workspace closes the pool.
func Open(ctx context.Context, dsn, workspaceKey string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := NewWithDB(db, workspaceKey)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing connection pool, mainly for tests.
func NewWithDB(db *sql.DB, workspaceKey string) *Store {
	return &Store{db: db, schema: schemaName(workspaceKey)}
}

func (s *Store) Accounts() auth.AccountStore     { return (*accountStore)(s) }
func (s *Store) Roles() auth.RoleStore           { return (*roleStore)(s) }
func (s *Store) Privileges() auth.PrivilegeStore { return (*privilegeStore)(s) }

// Close releases the workspace's connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Schema returns the schema this store is scoped to.
func (s *Store) Schema() string { return s.schema }

func (s *Store) table(name string) string {
	return fmt.Sprintf("%s.%s", s.schema, name)
}

// schemaName derives a safe schema identifier from the workspace key.
func schemaName(workspaceKey string) string {
	var b strings.Builder
	b.WriteString("ws_")
	for _, r := range strings.ToLower(strings.TrimSpace(workspaceKey)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func mapStoreError(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", auth.ErrNotFound, what)
	}
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: %s", auth.ErrConflict, what)
	}
	return err
}
