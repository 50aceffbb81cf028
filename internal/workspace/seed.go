package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aegis.org/internal/auth"
	"aegis.org/internal/obs"
)

// Defaults describes the records seeded into a freshly provisioned
// workspace. Seeding is count-then-insert per collection: a tenant that has
// modified its defaults never has them clobbered by a re-bootstrap.
type Defaults struct {
	AdminRoleKey  string
	BotRoleKey    string
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// SeedFile is one import document: a model name plus the records to insert
// when the model's collection is empty.
type SeedFile struct {
	Model string            `json:"model"`
	Data  []json.RawMessage `json:"data"`
}

// SeedDefaults populates empty collections with the baseline role and
// account set. The admin role carries the wildcard grant; the bot role
// starts without grants and grows through privilege imports.
func SeedDefaults(ctx context.Context, services *Services, defaults Defaults) error {
	roleCount, err := services.Store.Roles().Count(ctx)
	if err != nil {
		return fmt.Errorf("count roles: %w", err)
	}
	if roleCount == 0 {
		adminRole := &auth.Role{
			Key:    valueOr(defaults.AdminRoleKey, "admin"),
			Name:   "Administrator",
			Grants: []auth.PrivilegeGrant{{Resource: auth.WildcardResource}},
		}
		if err := services.Store.Roles().Create(ctx, adminRole); err != nil {
			return fmt.Errorf("seed admin role: %w", err)
		}
		botRole := &auth.Role{
			Key:  valueOr(defaults.BotRoleKey, "bot"),
			Name: "Service account",
		}
		if err := services.Store.Roles().Create(ctx, botRole); err != nil {
			return fmt.Errorf("seed bot role: %w", err)
		}
	}

	accountCount, err := services.Store.Accounts().Count(ctx)
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if accountCount == 0 && defaults.AdminEmail != "" {
		adminRole, err := services.Store.Roles().FindByKey(ctx, valueOr(defaults.AdminRoleKey, "admin"))
		if err != nil {
			return fmt.Errorf("seed admin account: %w", err)
		}
		hash, err := auth.HashPassword(defaults.AdminPassword)
		if err != nil {
			return fmt.Errorf("seed admin account: %w", err)
		}
		admin := &auth.Account{
			Username:     valueOr(defaults.AdminUsername, "admin"),
			Email:        defaults.AdminEmail,
			PasswordHash: hash,
			Enabled:      true,
			LoginEnabled: true,
			RoleIDs:      []string{adminRole.ID},
		}
		if err := services.Store.Accounts().Create(ctx, admin); err != nil {
			return fmt.Errorf("seed admin account: %w", err)
		}
	}
	return nil
}

// SeedFromDir imports every *.json seed document found in dir. A malformed
// file is logged and skipped; a missing dir means there is simply nothing
// to seed.
func SeedFromDir(ctx context.Context, services *Services, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			obs.Warn("seed", "seed file unreadable", map[string]any{"file": path, "error": err.Error()})
			continue
		}
		var file SeedFile
		if err := json.Unmarshal(raw, &file); err != nil || file.Model == "" {
			obs.Warn("seed", "seed file is not correctly formatted, skipping", map[string]any{"file": path})
			continue
		}
		if err := seedModel(ctx, services, file); err != nil {
			obs.Warn("seed", "seed import failed", map[string]any{"file": path, "error": err.Error()})
		}
	}
	return nil
}

func seedModel(ctx context.Context, services *Services, file SeedFile) error {
	switch file.Model {
	case "account":
		count, err := services.Store.Accounts().Count(ctx)
		if err != nil || count > 0 {
			return err
		}
		for _, raw := range file.Data {
			var account auth.Account
			if err := json.Unmarshal(raw, &account); err != nil {
				return err
			}
			if err := services.Store.Accounts().Create(ctx, &account); err != nil {
				return err
			}
		}
	case "role":
		count, err := services.Store.Roles().Count(ctx)
		if err != nil || count > 0 {
			return err
		}
		for _, raw := range file.Data {
			var role auth.Role
			if err := json.Unmarshal(raw, &role); err != nil {
				return err
			}
			if err := services.Store.Roles().Create(ctx, &role); err != nil {
				return err
			}
		}
	case "privilege":
		count, err := services.Store.Privileges().Count(ctx)
		if err != nil || count > 0 {
			return err
		}
		for _, raw := range file.Data {
			var privilege auth.Privilege
			if err := json.Unmarshal(raw, &privilege); err != nil {
				return err
			}
			if err := services.Store.Privileges().Create(ctx, &privilege); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown seed model %q", file.Model)
	}
	return nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
