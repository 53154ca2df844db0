package log

import (
	"context"

	"github.com/rowguard/rowguard"
)

// Hook derives extra fields from the context for every log entry.
type Hook interface {
	Apply(ctx context.Context, message string) []Field
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, message string) []Field

func (f HookFunc) Apply(ctx context.Context, message string) []Field {
	return f(ctx, message)
}

// rlsFields pulls caller identity and request metadata from the bound RLS
// context so every entry made during a unit of work is attributable.
func rlsFields(ctx context.Context, _ string) []Field {
	if ctx == nil {
		return nil
	}

	rc, ok := rowguard.FromContext(ctx)
	if !ok {
		return nil
	}

	fields := make([]Field, 0, 3)

	if rc.Request != nil && rc.Request.RequestID != "" {
		fields = append(fields, String("request_id", rc.Request.RequestID))
	}

	if rc.Auth != nil {
		fields = append(fields, String("principal", rc.Auth.String()))

		if rc.Auth.TenantID != nil {
			fields = append(fields, String("tenant_id", *rc.Auth.TenantID))
		}
	}

	return fields
}

var defaultHooks = []Hook{HookFunc(rlsFields)}
