package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aegis.org/internal/auth"
	"aegis.org/internal/routes"
)

func testRegistry(t *testing.T) *routes.Registry {
	t.Helper()
	r := routes.NewRegistry()
	if err := r.Register("GET", "/articles/:id", "articles", "read"); err != nil {
		t.Fatal(err)
	}
	return r
}

func countingOpener(opens *atomic.Int32) StoreOpener {
	return func(ctx context.Context, key string) (auth.Store, error) {
		opens.Add(1)
		return auth.NewInMemory(), nil
	}
}

func TestEnsureInitializedIsIdempotent(t *testing.T) {
	var opens atomic.Int32
	m, err := NewManager(countingOpener(&opens), testRegistry(t), "secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := m.EnsureInitialized(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.EnsureInitialized(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("re-initialization must return the live instance")
	}
	if opens.Load() != 1 {
		t.Fatalf("expected one store open, got %d", opens.Load())
	}
	if m.State("acme") != Ready {
		t.Fatalf("unexpected state: %v", m.State("acme"))
	}
}

func TestConcurrentEnsureInitializedBootstrapsOnce(t *testing.T) {
	var opens atomic.Int32
	m, err := NewManager(countingOpener(&opens), testRegistry(t), "secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Workspace, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := m.EnsureInitialized(ctx, "acme")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = ws
		}(i)
	}
	wg.Wait()

	if opens.Load() != 1 {
		t.Fatalf("expected one bootstrap, got %d opens", opens.Load())
	}
	for _, ws := range results {
		if ws != results[0] {
			t.Fatal("concurrent callers saw different instances")
		}
	}
	// Defaults were seeded exactly once.
	n, err := results[0].Services.Store.Roles().Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected admin and bot roles, got %d roles", n)
	}
}

func TestDistinctKeysDoNotShareStores(t *testing.T) {
	var opens atomic.Int32
	m, err := NewManager(countingOpener(&opens), testRegistry(t), "secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a, err := m.EnsureInitialized(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.EnsureInitialized(ctx, "globex")
	if err != nil {
		t.Fatal(err)
	}
	if a.Services.Store == b.Services.Store {
		t.Fatal("workspaces must not share a store")
	}
	if opens.Load() != 2 {
		t.Fatalf("expected two opens, got %d", opens.Load())
	}
}

func TestBootstrapFailureRetriesFromScratch(t *testing.T) {
	var attempts atomic.Int32
	opener := func(ctx context.Context, key string) (auth.Store, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("database down")
		}
		return auth.NewInMemory(), nil
	}
	m, err := NewManager(opener, testRegistry(t), "secret", WithRetryBackoff(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	retries := make(chan func(), 1)
	m.retryTimer = func(d time.Duration, fn func()) { retries <- fn }

	if _, err := m.EnsureInitialized(context.Background(), "acme"); err == nil {
		t.Fatal("expected first bootstrap to fail")
	}
	if m.State("acme") != Unprovisioned {
		t.Fatalf("failed bootstrap must reset to Unprovisioned, got %v", m.State("acme"))
	}

	retry := <-retries
	retry()

	ws, ok := m.Workspace("acme")
	if !ok || ws == nil {
		t.Fatal("retry did not provision the workspace")
	}
	if m.State("acme") != Ready {
		t.Fatalf("unexpected state after retry: %v", m.State("acme"))
	}
}

func TestBootstrapExportsRegistryRoutes(t *testing.T) {
	var opens atomic.Int32
	m, err := NewManager(countingOpener(&opens), testRegistry(t), "secret")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ws, err := m.EnsureInitialized(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	privilege, err := ws.Services.Store.Privileges().FindByResource(ctx, "articles")
	if err != nil {
		t.Fatal(err)
	}
	specs := privilege.Actions["read"]
	if len(specs) != 1 || specs[0].Method != "GET" || specs[0].URL != "/articles/:id" {
		t.Fatalf("registry routes not exported: %v", specs)
	}
	if specs[0].Regexp == "" {
		t.Fatal("exported route carries no regexp")
	}
}

func TestBootstrapAppliesGrantImports(t *testing.T) {
	var opens atomic.Int32
	imports := []auth.GrantImport{{
		RoleKey: "bot",
		Resources: []struct {
			ResourceKey string   `json:"resourceKey"`
			Actions     []string `json:"actions"`
		}{{ResourceKey: "articles", Actions: []string{"read"}}},
	}}
	m, err := NewManager(countingOpener(&opens), testRegistry(t), "secret", WithGrantImports(imports))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ws, err := m.EnsureInitialized(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	bot, err := ws.Services.Store.Roles().FindByKey(ctx, "bot")
	if err != nil {
		t.Fatal(err)
	}
	if len(bot.Grants) != 1 || bot.Grants[0].Resource != "articles" {
		t.Fatalf("grant import not applied: %v", bot.Grants)
	}
}

func TestEnsureInitializedRequiresKey(t *testing.T) {
	var opens atomic.Int32
	m, _ := NewManager(countingOpener(&opens), testRegistry(t), "secret")
	if _, err := m.EnsureInitialized(context.Background(), ""); !errors.Is(err, auth.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

type fakeLister struct {
	keys []string
	err  error
}

func (f *fakeLister) ListWorkspaces(ctx context.Context) ([]string, error) {
	return f.keys, f.err
}

func TestPollerProvisionsDiscoveredTenants(t *testing.T) {
	var opens atomic.Int32
	m, err := NewManager(countingOpener(&opens), testRegistry(t), "secret")
	if err != nil {
		t.Fatal(err)
	}
	p := NewPoller(m, &fakeLister{keys: []string{"acme", "globex"}}, time.Minute)
	p.poll(context.Background())

	for _, key := range []string{"acme", "globex"} {
		if _, ok := m.Workspace(key); !ok {
			t.Fatalf("poller did not provision %q", key)
		}
	}
	// A second poll sees both live and opens nothing new.
	p.poll(context.Background())
	if opens.Load() != 2 {
		t.Fatalf("expected two opens, got %d", opens.Load())
	}
}

func TestPollerSurvivesListerErrors(t *testing.T) {
	var opens atomic.Int32
	m, _ := NewManager(countingOpener(&opens), testRegistry(t), "secret")
	p := NewPoller(m, &fakeLister{err: fmt.Errorf("authority down")}, time.Minute)
	p.poll(context.Background())
	if opens.Load() != 0 {
		t.Fatalf("expected no opens on lister failure, got %d", opens.Load())
	}
}
