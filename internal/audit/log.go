// Package audit emits structured audit entries for security-relevant
// actions: logins, bot registration and renewal, role grant changes, and
// sweep disables.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"aegis.org/internal/auth"
	"aegis.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Event writes an audit entry enriched with request and account context.
func Event(ctx context.Context, action string, fields map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("action name is required")
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"action": action,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if snapshot, ok := auth.AccountFromContext(ctx); ok {
		entry["account_id"] = snapshot.ID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
