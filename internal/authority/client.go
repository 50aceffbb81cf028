// Package authority talks to the central authorization authority. This
// service is itself a client of the authority: it registers as a bot app,
// keeps its token renewed, exports its own route specs, and asks which
// workspaces exist.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"aegis.org/internal/obs"
	"aegis.org/internal/routes"
)

const (
	headerInternalRequest = "internal-request"
	headerWorkspace       = "workspace"
)

// ErrUnavailable wraps any transport or non-2xx failure from the authority.
var ErrUnavailable = errors.New("authority: unavailable")

// Client is a thin HTTP client for the authority's internal API. Every
// request carries the caller's app uuid in the internal-request header;
// workspace-scoped calls add the workspace header.
type Client struct {
	baseURL    string
	appUUID    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound calls per second. Route exports happen once
// per workspace bootstrap but tenant polls can fan out, so a modest limit
// keeps this service from hammering the authority after a restart.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient builds a client for the authority at baseURL, identifying
// itself as appUUID.
func NewClient(baseURL, appUUID string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("authority: base url is required")
	}
	if strings.TrimSpace(appUUID) == "" {
		return nil, errors.New("authority: app uuid is required")
	}
	c := &Client{
		baseURL:    baseURL,
		appUUID:    appUUID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RegisteredToken is the authority's answer to a registration or renewal.
type RegisteredToken struct {
	Token        string `json:"token"`
	RenewTimeout int64  `json:"renewTimeout"`
}

// RenewAfter converts the advertised renew timeout (milliseconds) into a
// duration the registrar can sleep on.
func (t RegisteredToken) RenewAfter() time.Duration {
	return time.Duration(t.RenewTimeout) * time.Millisecond
}

// RegisterApp registers this service as a bot app and returns its first
// token together with the renewal deadline the authority advertises.
func (c *Client) RegisterApp(ctx context.Context, hostname string) (RegisteredToken, error) {
	var out RegisteredToken
	payload := map[string]string{"uuid": c.appUUID, "hostname": hostname}
	if err := c.do(ctx, http.MethodPost, "/apps/register", "", payload, &out); err != nil {
		obs.ObserveAuthorityFailure("register")
		return RegisteredToken{}, err
	}
	return out, nil
}

// RenewToken exchanges a still-valid bot token for a fresh one.
func (c *Client) RenewToken(ctx context.Context, token string) (RegisteredToken, error) {
	var out RegisteredToken
	payload := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodPost, "/apps/renew", "", payload, &out); err != nil {
		obs.ObserveAuthorityFailure("renew")
		return RegisteredToken{}, err
	}
	return out, nil
}

type routePayload struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Regexp string `json:"regexp"`
}

// ExportRoutes publishes one action's route specs for a resource into the
// given workspace. The regexp sent is always recompiled from the URL
// template, never read back from a previous export.
func (c *Client) ExportRoutes(ctx context.Context, workspaceKey, resource, action string, rts []routes.Route) error {
	payload := struct {
		Action string         `json:"action"`
		Routes []routePayload `json:"routes"`
	}{Action: action}
	for _, rt := range rts {
		payload.Routes = append(payload.Routes, routePayload{
			Method: rt.Method,
			URL:    rt.Pattern.Template(),
			Regexp: rt.Pattern.Source(),
		})
	}
	path := "/privileges/" + resource + "/routes"
	if err := c.do(ctx, http.MethodPost, path, workspaceKey, payload, nil); err != nil {
		obs.ObserveAuthorityFailure("export_routes")
		return err
	}
	return nil
}

// ListWorkspaces returns the keys of every workspace the authority knows.
func (c *Client) ListWorkspaces(ctx context.Context) ([]string, error) {
	var out struct {
		Workspaces []string `json:"workspaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/workspaces", "", nil, &out); err != nil {
		obs.ObserveAuthorityFailure("list_workspaces")
		return nil, err
	}
	return out.Workspaces, nil
}

// WorkspaceExists reports whether the authority knows the workspace key.
func (c *Client) WorkspaceExists(ctx context.Context, key string) (bool, error) {
	keys, err := c.ListWorkspaces(ctx)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) do(ctx context.Context, method, path, workspaceKey string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(headerInternalRequest, c.appUUID)
	if workspaceKey != "" {
		req.Header.Set(headerWorkspace, workspaceKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s: %s", ErrUnavailable, method, path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
