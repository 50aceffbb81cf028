package workspace

import (
	"context"
	"time"

	"aegis.org/internal/obs"
)

// TenantLister enumerates the tenant keys known to the platform. The
// authority client implements it; tests use a fake.
type TenantLister interface {
	ListWorkspaces(ctx context.Context) ([]string, error)
}

// Poller periodically discovers tenants and ensures each is provisioned.
// It complements the event-driven path: a notification that was missed is
// picked up on the next poll.
type Poller struct {
	manager  *Manager
	lister   TenantLister
	interval time.Duration
}

// NewPoller builds a tenant poller.
func NewPoller(manager *Manager, lister TenantLister, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{manager: manager, lister: lister, interval: interval}
}

// Run polls until the context is cancelled. Errors are logged and the next
// tick proceeds; a single bad cycle never stops discovery.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	keys, err := p.lister.ListWorkspaces(ctx)
	if err != nil {
		obs.Warn("workspace-poller", "tenant discovery failed", map[string]any{"error": err.Error()})
		return
	}
	for _, key := range keys {
		if _, ok := p.manager.Workspace(key); ok {
			continue
		}
		if _, err := p.manager.EnsureInitialized(ctx, key); err != nil {
			// Already logged and scheduled for retry by the manager.
			continue
		}
	}
}
