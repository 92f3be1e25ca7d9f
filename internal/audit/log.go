// Package audit writes security-relevant events as JSON lines through the
// shared obs logger.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"actorgate.org/internal/auth"
	"actorgate.org/internal/obs"
)

type requestIDKey struct{}

// WithRequestID attaches the request identifier for later audit entries.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// LogEvent records a successful operation.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	return write(ctx, event, auth.Outcome(nil), fields)
}

// LogFailure records a rejected operation. The outcome is derived from err;
// the error text itself is never written so credentials cannot leak.
func LogFailure(ctx context.Context, event string, err error, fields map[string]any) error {
	return write(ctx, event, auth.Outcome(err), fields)
}

func write(ctx context.Context, event, outcome string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	level := "info"
	if outcome != auth.Outcome(nil) {
		level = "warn"
	}
	entry := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   level,
		"type":    "audit",
		"event":   event,
		"outcome": outcome,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := auth.PayloadFromContext(ctx); ok {
		entry["actor_id"] = p.ActorID
		entry["role"] = string(p.Role)
		if p.TenantID != "" {
			entry["tenant_id"] = p.TenantID
		}
		if p.TokenID != "" {
			entry["token_id"] = p.TokenID
		}
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	entry["fields"] = copied

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
