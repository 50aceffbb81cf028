package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const bearerPrefix = "Bearer "

// Guard bundles the token service and the authorization engine behind the
// two contracts the surrounding HTTP layer consumes: authenticate a raw
// Authorization header, then authorize the resolved account for a route.
type Guard struct {
	tokens *Tokens
	engine *Engine
}

// NewGuard wires the collaborator-facing contracts.
func NewGuard(tokens *Tokens, engine *Engine) (*Guard, error) {
	if tokens == nil || engine == nil {
		return nil, errors.New("token service and engine are required")
	}
	return &Guard{tokens: tokens, engine: engine}, nil
}

// AuthenticateRequest resolves the account behind a raw Authorization
// header. Interactive and bot tokens are both accepted; the account is
// reloaded fresh, never taken from the token payload.
func (g *Guard) AuthenticateRequest(ctx context.Context, rawAuthorization string) (AccountSnapshot, error) {
	token, err := ExtractBearerToken(rawAuthorization)
	if err != nil {
		return AccountSnapshot{}, err
	}
	account, err := g.tokens.CurrentAccount(ctx, token)
	if err != nil {
		return AccountSnapshot{}, err
	}
	return account.Snapshot(), nil
}

// AuthorizeRequest answers allow/deny for the authenticated account on
// (method, path).
func (g *Guard) AuthorizeRequest(ctx context.Context, snapshot AccountSnapshot, method, path string) (bool, error) {
	if snapshot.ID == "" {
		return false, fmt.Errorf("%w: request is not authenticated", ErrUnauthorized)
	}
	return g.engine.Authorize(ctx, snapshot.ID, RequestedRoute{Method: method, URL: path})
}

// ExtractBearerToken pulls the token out of an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return "", fmt.Errorf("%w: invalid authorization scheme", ErrUnauthorized)
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return token, nil
}

type accountContextKey struct{}

// ContextWithAccount attaches the authenticated account snapshot to the
// context for downstream handlers.
func ContextWithAccount(ctx context.Context, snapshot AccountSnapshot) context.Context {
	return context.WithValue(ctx, accountContextKey{}, snapshot)
}

// AccountFromContext extracts the authenticated account snapshot.
func AccountFromContext(ctx context.Context) (AccountSnapshot, bool) {
	if ctx == nil {
		return AccountSnapshot{}, false
	}
	snapshot, ok := ctx.Value(accountContextKey{}).(AccountSnapshot)
	if !ok || snapshot.ID == "" {
		return AccountSnapshot{}, false
	}
	return snapshot, true
}
