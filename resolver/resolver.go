// Package resolver pre-computes derived, asynchronously-obtained context
// data (organization membership, subscription tier, ...) before synchronous
// policy evaluation, with caching and dependency ordering.
package resolver

import (
	"context"
	"time"

	"github.com/rowguard/rowguard"
)

// Resolver computes one piece of derived context data.
type Resolver interface {
	// Name keys the output under auth.Resolved. Unique per manager.
	Name() string
	// DependsOn lists resolver names whose outputs this one consumes.
	DependsOn() []string
	// CacheKey derives the cache key for this caller; "" disables caching
	// for the call.
	CacheKey(rc *rowguard.RLSContext) string
	// TTL is the cache lifetime; 0 uses the manager default.
	TTL() time.Duration
	// Timeout bounds one Resolve call; 0 uses the manager default.
	Timeout() time.Duration
	// Required aborts the whole resolution when this resolver fails.
	// Non-required failures are swallowed and the field is simply absent.
	Required() bool
	// Resolve computes the output. deps carries the outputs of every
	// declared dependency, keyed by resolver name.
	Resolve(ctx context.Context, rc *rowguard.RLSContext, deps map[string]any) (any, error)
}

// FuncResolver is a struct-literal Resolver for the common case.
type FuncResolver struct {
	ResolverName   string
	Dependencies   []string
	Key            func(rc *rowguard.RLSContext) string
	CacheTTL       time.Duration
	ResolveTimeout time.Duration
	IsRequired     bool
	Fn             func(ctx context.Context, rc *rowguard.RLSContext, deps map[string]any) (any, error)
}

func (r *FuncResolver) Name() string {
	return r.ResolverName
}

func (r *FuncResolver) DependsOn() []string {
	return r.Dependencies
}

func (r *FuncResolver) CacheKey(rc *rowguard.RLSContext) string {
	if r.Key == nil {
		return ""
	}

	return r.Key(rc)
}

func (r *FuncResolver) TTL() time.Duration {
	return r.CacheTTL
}

func (r *FuncResolver) Timeout() time.Duration {
	return r.ResolveTimeout
}

func (r *FuncResolver) Required() bool {
	return r.IsRequired
}

func (r *FuncResolver) Resolve(ctx context.Context, rc *rowguard.RLSContext, deps map[string]any) (any, error) {
	return r.Fn(ctx, rc, deps)
}

// UserCacheKey keys resolver output by caller user id, the common choice for
// per-user lookups.
func UserCacheKey(rc *rowguard.RLSContext) string {
	if rc == nil || rc.Auth == nil {
		return ""
	}

	return rc.Auth.UserID
}
