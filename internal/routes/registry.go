package routes

import (
	"fmt"
	"strings"
	"sync"
)

// Route is one registered endpoint: the HTTP method and URL template the
// API layer exposes, plus the resource/action pair it is protected by.
type Route struct {
	Method   string
	URL      string
	Resource string
	Action   string
	Pattern  Pattern
}

// Registry collects every route the surrounding API exposes. Routes
// self-register once at process start; the registry is then read by the
// workspace manager's route-export step. Request-time authorization never
// consults it directly.
type Registry struct {
	mu     sync.RWMutex
	routes []Route
	seen   map[string]struct{}
}

// NewRegistry creates an empty route registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]struct{})}
}

// Register compiles the template and appends the route. A duplicate
// (method + normalized path) registration is rejected: two handlers behind
// one route spec would make the exported privilege list ambiguous.
func (r *Registry) Register(method, urlTemplate, resource, action string) error {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return fmt.Errorf("method is required")
	}
	if strings.TrimSpace(resource) == "" || strings.TrimSpace(action) == "" {
		return fmt.Errorf("resource and action are required for %s %s", method, urlTemplate)
	}
	pattern, err := Compile(urlTemplate)
	if err != nil {
		return err
	}

	key := method + " " + pattern.Template()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[key]; dup {
		return fmt.Errorf("route %s already registered", key)
	}
	r.seen[key] = struct{}{}
	r.routes = append(r.routes, Route{
		Method:   method,
		URL:      pattern.Template(),
		Resource: resource,
		Action:   action,
		Pattern:  pattern,
	})
	return nil
}

// Routes returns a snapshot of the registered routes.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
