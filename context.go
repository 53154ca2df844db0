package rowguard

import (
	"context"
	"time"
)

// rlsKey is an unexported key type to prevent external forgery.
type rlsKey struct{}

// WithRLSContext binds rc as the current RLS context. Because the binding is
// carried by context.Context values, two units of work that do not nest can
// never observe each other's binding, and a nested binding leaves the parent
// untouched once the nested context goes out of scope, even on failure.
func WithRLSContext(ctx context.Context, rc *RLSContext) context.Context {
	return context.WithValue(ctx, rlsKey{}, rc)
}

// FromContext reads the bound RLS context. It never fails; callers choose
// their own fallback when the second return is false (reject the operation
// vs. bypass enforcement).
func FromContext(ctx context.Context) (*RLSContext, bool) {
	rc, ok := ctx.Value(rlsKey{}).(*RLSContext)
	return rc, ok && rc != nil
}

// MustFromContext reads the bound RLS context, panicking when absent. Only
// for call chains where a binding is already confirmed.
func MustFromContext(ctx context.Context) *RLSContext {
	rc, ok := FromContext(ctx)
	if !ok {
		panic("rowguard: no rls context bound")
	}

	return rc
}

// AuthFromContext reads the bound auth context, if any.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	rc, ok := FromContext(ctx)
	if !ok || rc.Auth == nil {
		return nil, false
	}

	return rc.Auth, true
}

// Run executes fn with rc bound as current for its entire dynamic extent,
// including goroutines the body derives from the passed context. The previous
// binding, possibly none, is naturally restored on exit because the binding
// only lives on the derived context value.
func Run(ctx context.Context, rc *RLSContext, fn func(ctx context.Context) error) error {
	if err := rc.Auth.Validate(); err != nil {
		return err
	}

	return fn(WithRLSContext(ctx, rc))
}

// NewUserContext binds a fresh RLS context for the given caller identity.
func NewUserContext(ctx context.Context, auth *AuthContext) (context.Context, error) {
	rc, err := NewRLSContext(auth)
	if err != nil {
		return ctx, err
	}

	return WithRLSContext(ctx, rc), nil
}

// NewSystemContext binds a system context that bypasses all enforcement.
// reason must be a stable string for audit aggregation (e.g. "gc-sweep",
// "migration-backfill"); every bypass is reported to the bypass observer.
func NewSystemContext(ctx context.Context, reason string) context.Context {
	rc := &RLSContext{
		Auth:      &AuthContext{IsSystem: true},
		CreatedAt: time.Now(),
	}
	rc = rc.WithMeta("bypass_reason", reason)

	notifyBypass(ctx, BypassRecord{
		Reason:    reason,
		Timestamp: rc.CreatedAt,
	})

	return WithRLSContext(ctx, rc)
}

// RunAsSystem executes fn under a system binding within a closure, limiting
// the bypass scope. Prefer this over NewSystemContext so the bypass context
// cannot spread along the call chain.
func RunAsSystem[T any](ctx context.Context, reason string, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(NewSystemContext(ctx, reason))
}

// BypassRecord describes one enforcement bypass, for audit.
type BypassRecord struct {
	Reason    string
	Timestamp time.Time
}

// bypassObserver receives every system bypass. Settable via SetBypassObserver.
var bypassObserver func(ctx context.Context, record BypassRecord)

// SetBypassObserver installs a custom bypass sink. The audit package installs
// one when wired; without it, bypasses are silent.
func SetBypassObserver(fn func(ctx context.Context, record BypassRecord)) {
	bypassObserver = fn
}

func notifyBypass(ctx context.Context, record BypassRecord) {
	if bypassObserver != nil {
		bypassObserver(ctx, record)
	}
}
