package authority

import (
	"context"
	"os"
	"sync"
	"time"

	"aegis.org/internal/obs"
)

const (
	registerRetryInterval = 10 * time.Second
	renewRetryInterval    = 30 * time.Second
	// renewLead is how far ahead of the advertised deadline renewal runs,
	// so one failed attempt still leaves room for a retry.
	renewLead = time.Minute
)

// Registrar keeps this service registered with the authority. It registers
// once at startup and then renews the bot token ahead of the deadline the
// authority advertises. Failures reschedule; they never stop the loop.
type Registrar struct {
	client   *Client
	hostname string

	mu    sync.RWMutex
	token string
}

// NewRegistrar builds a registrar for the given client. The hostname sent
// on registration defaults to the OS hostname.
func NewRegistrar(client *Client, hostname string) *Registrar {
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return &Registrar{client: client, hostname: hostname}
}

// Token returns the most recent bot token, or "" before the first
// successful registration.
func (r *Registrar) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

func (r *Registrar) setToken(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

// Run blocks until ctx is cancelled. It first registers, retrying on a
// fixed interval, then enters the renewal loop.
func (r *Registrar) Run(ctx context.Context) {
	issued, ok := r.register(ctx)
	if !ok {
		return
	}
	r.renewLoop(ctx, issued)
}

func (r *Registrar) register(ctx context.Context) (RegisteredToken, bool) {
	for {
		issued, err := r.client.RegisterApp(ctx, r.hostname)
		if err == nil {
			r.setToken(issued.Token)
			obs.Info("authority", "registered with authority", map[string]any{
				"hostname":     r.hostname,
				"renewTimeout": issued.RenewTimeout,
			})
			return issued, true
		}
		obs.Warn("authority", "registration failed, will retry", map[string]any{
			"err":        err.Error(),
			"retryAfter": registerRetryInterval.String(),
		})
		select {
		case <-ctx.Done():
			return RegisteredToken{}, false
		case <-time.After(registerRetryInterval):
		}
	}
}

func (r *Registrar) renewLoop(ctx context.Context, issued RegisteredToken) {
	wait := renewWait(issued)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, err := r.client.RenewToken(ctx, r.Token())
		if err != nil {
			obs.Warn("authority", "token renewal failed, will retry", map[string]any{
				"err":        err.Error(),
				"retryAfter": renewRetryInterval.String(),
			})
			timer.Reset(renewRetryInterval)
			continue
		}
		r.setToken(next.Token)
		timer.Reset(renewWait(next))
	}
}

// renewWait derives the sleep before the next renewal from the advertised
// timeout, never below the retry interval's floor.
func renewWait(issued RegisteredToken) time.Duration {
	wait := issued.RenewAfter() - renewLead
	if wait < renewRetryInterval {
		wait = renewRetryInterval
	}
	return wait
}
