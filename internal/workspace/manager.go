package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aegis.org/internal/auth"
	"aegis.org/internal/obs"
	"aegis.org/internal/routes"
)

// State tracks a workspace through bootstrap. Any step's failure drops the
// workspace back to Unprovisioned; the whole bootstrap is cheap to redo
// because every sub-step is idempotent.
type State int

const (
	Unprovisioned State = iota
	Connecting
	Seeding
	SyncingRoutes
	SyncingPrivileges
	Ready
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Seeding:
		return "seeding"
	case SyncingRoutes:
		return "syncing-routes"
	case SyncingPrivileges:
		return "syncing-privileges"
	case Ready:
		return "ready"
	default:
		return "unprovisioned"
	}
}

// StoreOpener opens the isolated credential store for one workspace key.
type StoreOpener func(ctx context.Context, key string) (auth.Store, error)

// Workspace is one live tenant: its key and its scoped service registry.
type Workspace struct {
	Key      string
	Services *Services
}

// Manager provisions and tracks workspaces. At most one live instance
// exists per key in-process; concurrent EnsureInitialized calls for the
// same key are mutually exclusive while different keys proceed
// independently.
type Manager struct {
	opener       StoreOpener
	registry     *routes.Registry
	secret       string
	tokenOpts    []auth.TokenOption
	defaults     Defaults
	seedDir      string
	grantImports []auth.GrantImport
	retryBackoff time.Duration

	mu         sync.Mutex
	live       map[string]*Workspace
	states     map[string]State
	locks      map[string]*sync.Mutex
	retrying   map[string]bool
	retryTimer func(d time.Duration, fn func()) // overridable in tests
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithTokenOptions forwards options to every workspace's token service.
func WithTokenOptions(opts ...auth.TokenOption) ManagerOption {
	return func(m *Manager) { m.tokenOpts = append(m.tokenOpts, opts...) }
}

// WithDefaults sets the seed defaults for new workspaces.
func WithDefaults(defaults Defaults) ManagerOption {
	return func(m *Manager) { m.defaults = defaults }
}

// WithSeedDir points at a directory of JSON seed documents imported after
// the built-in defaults.
func WithSeedDir(dir string) ManagerOption {
	return func(m *Manager) { m.seedDir = dir }
}

// WithGrantImports sets the default role-privilege grants synced during
// bootstrap.
func WithGrantImports(imports []auth.GrantImport) ManagerOption {
	return func(m *Manager) { m.grantImports = imports }
}

// WithRetryBackoff sets the delay before a failed bootstrap is retried.
func WithRetryBackoff(backoff time.Duration) ManagerOption {
	return func(m *Manager) {
		if backoff > 0 {
			m.retryBackoff = backoff
		}
	}
}

// NewManager builds a workspace manager over a store opener and the
// process-wide route registry.
func NewManager(opener StoreOpener, registry *routes.Registry, secret string, opts ...ManagerOption) (*Manager, error) {
	if opener == nil {
		return nil, errors.New("store opener is required")
	}
	if registry == nil {
		return nil, errors.New("route registry is required")
	}
	m := &Manager{
		opener:       opener,
		registry:     registry,
		secret:       secret,
		retryBackoff: 10 * time.Second,
		live:         make(map[string]*Workspace),
		states:       make(map[string]State),
		locks:        make(map[string]*sync.Mutex),
		retrying:     make(map[string]bool),
		retryTimer:   func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Workspace returns the live workspace for the key, if provisioned.
func (m *Manager) Workspace(key string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.live[key]
	return ws, ok
}

// State reports where the key currently is in its lifecycle.
func (m *Manager) State(key string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key]
}

// Keys lists the live workspace keys.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.live))
	for key := range m.live {
		out = append(out, key)
	}
	return out
}

// EnsureInitialized provisions the workspace if it is not already live.
// Re-initializing a live workspace is a no-op, not an error: the first
// writer wins and later callers see its instance. On failure the bootstrap
// is torn down and retried from scratch after a fixed backoff.
func (m *Manager) EnsureInitialized(ctx context.Context, key string) (*Workspace, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: workspace key is required", auth.ErrBadRequest)
	}
	if ws, ok := m.Workspace(key); ok {
		return ws, nil
	}

	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent caller may have finished while we waited for the lock.
	if ws, ok := m.Workspace(key); ok {
		return ws, nil
	}

	start := time.Now()
	ws, err := m.bootstrap(ctx, key)
	if err != nil {
		m.setState(key, Unprovisioned)
		obs.ObserveBootstrap("failure", time.Since(start).Seconds())
		obs.Error("workspace", "bootstrap failed, scheduling retry", map[string]any{
			"workspace": key,
			"error":     err.Error(),
			"backoff":   m.retryBackoff.String(),
		})
		m.scheduleRetry(key)
		return nil, err
	}

	m.mu.Lock()
	m.live[key] = ws
	m.states[key] = Ready
	m.mu.Unlock()
	obs.ObserveBootstrap("success", time.Since(start).Seconds())
	obs.Info("workspace", "workspace initialized", map[string]any{"workspace": key})
	return ws, nil
}

func (m *Manager) bootstrap(ctx context.Context, key string) (*Workspace, error) {
	m.setState(key, Connecting)
	obs.Info("workspace", "initializing workspace", map[string]any{"workspace": key})
	store, err := m.opener(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("connect workspace %s: %w", key, err)
	}

	services, err := NewServices(store, m.secret, m.tokenOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build services for %s: %w", key, err)
	}

	m.setState(key, Seeding)
	if err := SeedDefaults(ctx, services, m.defaults); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed workspace %s: %w", key, err)
	}
	if m.seedDir != "" {
		if err := SeedFromDir(ctx, services, m.seedDir); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed workspace %s from %s: %w", key, m.seedDir, err)
		}
	}

	m.setState(key, SyncingRoutes)
	if err := m.exportRoutes(ctx, services); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("export routes for %s: %w", key, err)
	}

	m.setState(key, SyncingPrivileges)
	if err := services.Roles.ImportGrants(ctx, m.grantImports); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("sync privileges for %s: %w", key, err)
	}

	return &Workspace{Key: key, Services: services}, nil
}

// exportRoutes pushes every registered route into the tenant's privilege
// records so they stay in sync with what the API actually exposes.
func (m *Manager) exportRoutes(ctx context.Context, services *Services) error {
	for _, route := range m.registry.Routes() {
		_, err := services.Privileges.AddRoutes(ctx, route.Resource, route.Action, []auth.RouteSpec{{
			Method: route.Method,
			URL:    route.URL,
			Regexp: route.Pattern.Source(),
		}})
		if err != nil {
			return fmt.Errorf("add route %s %s: %w", route.Method, route.URL, err)
		}
	}
	return nil
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

func (m *Manager) setState(key string, state State) {
	m.mu.Lock()
	m.states[key] = state
	m.mu.Unlock()
}

func (m *Manager) scheduleRetry(key string) {
	m.mu.Lock()
	if m.retrying[key] {
		m.mu.Unlock()
		return
	}
	m.retrying[key] = true
	timer := m.retryTimer
	m.mu.Unlock()

	timer(m.retryBackoff, func() {
		m.mu.Lock()
		delete(m.retrying, key)
		m.mu.Unlock()
		// Errors schedule the next retry themselves.
		_, _ = m.EnsureInitialized(context.Background(), key)
	})
}
