package pg

import (
	"context"
	"fmt"
)

// EnsureSchema provisions the workspace schema and its tables. Every
// statement is idempotent, so re-running a bootstrap is harmless.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`create schema if not exists %s`, s.schema),
		fmt.Sprintf(`create table if not exists %s (
			id text primary key,
			username text,
			email text,
			password_hash text not null default '',
			enabled boolean not null default true,
			login_enabled boolean not null default true,
			last_login timestamptz,
			roles jsonb not null default '[]',
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`, s.table("accounts")),
		fmt.Sprintf(`create unique index if not exists accounts_username_uq on %s (username) where username <> ''`, s.table("accounts")),
		fmt.Sprintf(`create unique index if not exists accounts_email_uq on %s (lower(email)) where email <> ''`, s.table("accounts")),
		fmt.Sprintf(`create table if not exists %s (
			id text primary key,
			key text not null unique,
			name text not null default '',
			grants jsonb not null default '[]',
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`, s.table("roles")),
		fmt.Sprintf(`create table if not exists %s (
			id text primary key,
			resource text not null unique,
			actions jsonb not null default '{}',
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`, s.table("privileges")),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema %s: %w", s.schema, err)
		}
	}
	return nil
}
