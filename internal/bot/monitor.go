// Package bot watches registered bot accounts and disables the ones that
// stopped renewing their tokens.
package bot

import (
	"context"
	"errors"
	"time"

	"aegis.org/internal/audit"
	"aegis.org/internal/auth"
	"aegis.org/internal/obs"
	"aegis.org/internal/workspace"
)

const (
	defaultInterval  = time.Hour
	defaultStaleness = 24 * time.Hour
	defaultBotRole   = "bot"
)

// WorkspaceSource is the part of the workspace manager the monitor reads.
type WorkspaceSource interface {
	Keys() []string
	Workspace(key string) (*workspace.Workspace, bool)
}

// Monitor periodically sweeps every live workspace and disables enabled
// bot accounts whose last login is missing or older than the staleness
// window. A healthy bot renews its token well inside the window, so a
// stale lastLogin means the bot is gone and its credential should not
// stay usable.
type Monitor struct {
	source     WorkspaceSource
	botRoleKey string
	staleness  time.Duration
	interval   time.Duration
	now        func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the sweep period.
func WithInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithStaleness sets how old a bot's last login may be before it is
// disabled.
func WithStaleness(staleness time.Duration) MonitorOption {
	return func(m *Monitor) {
		if staleness > 0 {
			m.staleness = staleness
		}
	}
}

// WithBotRoleKey overrides the role key that marks bot accounts.
func WithBotRoleKey(key string) MonitorOption {
	return func(m *Monitor) {
		if key != "" {
			m.botRoleKey = key
		}
	}
}

// WithClock injects the time source, mainly for tests.
func WithClock(fn func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMonitor builds a monitor over the given workspace source.
func NewMonitor(source WorkspaceSource, opts ...MonitorOption) (*Monitor, error) {
	if source == nil {
		return nil, errors.New("workspace source is required")
	}
	m := &Monitor{
		source:     source,
		botRoleKey: defaultBotRole,
		staleness:  defaultStaleness,
		interval:   defaultInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep checks every live workspace once. Per-account failures are logged
// and the sweep continues; one broken tenant must not stall the rest.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, key := range m.source.Keys() {
		ws, ok := m.source.Workspace(key)
		if !ok {
			continue
		}
		if err := m.sweepWorkspace(ctx, ws); err != nil {
			obs.Warn("bot", "workspace sweep failed", map[string]any{
				"workspace": key,
				"err":       err.Error(),
			})
		}
	}
}

func (m *Monitor) sweepWorkspace(ctx context.Context, ws *workspace.Workspace) error {
	store := ws.Services.Store
	role, err := store.Roles().FindByKey(ctx, m.botRoleKey)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil
		}
		return err
	}
	bots, err := store.Accounts().ListByRole(ctx, role.ID, true)
	if err != nil {
		return err
	}
	cutoff := m.now().Add(-m.staleness)
	for _, account := range bots {
		if account.LastLogin != nil && account.LastLogin.After(cutoff) {
			continue
		}
		account.Enabled = false
		if err := store.Accounts().Update(ctx, account); err != nil {
			obs.Warn("bot", "failed to disable stale bot", map[string]any{
				"workspace": ws.Key,
				"account":   account.ID,
				"err":       err.Error(),
			})
			continue
		}
		obs.ObserveBotDisabled()
		_ = audit.Event(ctx, "bot.disabled", map[string]any{
			"workspace": ws.Key,
			"account":   account.ID,
			"username":  account.Username,
		})
	}
	return nil
}
