// Package policy defines declarative per-table row-level security policies
// and compiles them into a read-only Registry the decision points query.
package policy

import (
	"context"

	"github.com/rowguard/rowguard"
)

// Type classifies what a policy contributes to a decision.
type Type string

const (
	// TypeFilter produces implicit read-time conditions restricting
	// visible rows. Filter policies only target reads.
	TypeFilter Type = "filter"
	// TypeAllow grants an operation when its condition holds.
	TypeAllow Type = "allow"
	// TypeDeny rejects an operation when its condition holds. Denies
	// always win over allows.
	TypeDeny Type = "deny"
	// TypeValidate rejects a create/update whose payload fails the
	// condition. Validate policies only target create and update.
	TypeValidate Type = "validate"
)

// ConditionFunc is a boolean policy condition. It may block on I/O; the
// passed context carries cancellation.
type ConditionFunc func(ctx context.Context, ec *rowguard.EvalContext) (bool, error)

// FilterFunc produces read-time conditions. It is synchronous by
// construction: query-plan rewriting must complete without suspension, so no
// context is passed and no I/O is possible through the signature.
type FilterFunc func(ec *rowguard.EvalContext) (Conditions, error)

// Conditions maps column name to required value. Value semantics:
//
//	nil          -> column IS NULL
//	Skip         -> entry ignored
//	empty slice  -> unconditionally-false predicate for the whole query
//	slice        -> column IN (values)
//	anything else-> column = value
type Conditions map[string]any

type skipValue struct{}

// Skip marks a condition entry as absent, distinguishing "no constraint" from
// "must be NULL".
var Skip = skipValue{}

// IsSkip reports whether v is the Skip marker.
func IsSkip(v any) bool {
	_, ok := v.(skipValue)
	return ok
}

// Definition is one declarative policy. Exactly one of Condition, Filter,
// Expr or FilterExpr must be set, matching the policy type; Compile rejects
// every other combination.
type Definition struct {
	// Name is unique within its table+type+operation bucket.
	Name string `json:"name"`
	// Type is filter, allow, deny or validate.
	Type Type `json:"type"`
	// Operations the policy targets. OpAll expands to every concrete
	// operation the type permits.
	Operations []rowguard.Operation `json:"operations"`
	// Condition backs allow/deny/validate policies.
	Condition ConditionFunc `json:"-"`
	// Filter backs filter policies.
	Filter FilterFunc `json:"-"`
	// Expr is an expr-lang source alternative to Condition, compiled at
	// registry build.
	Expr string `json:"expr,omitempty"`
	// FilterExpr is an expr-lang source alternative to Filter; the program
	// must produce a map of column to value.
	FilterExpr string `json:"filter_expr,omitempty"`
	// Priority orders evaluation; lower runs earlier, ties keep
	// declaration order.
	Priority int `json:"priority"`
	// Hints carries adapter-specific annotations; the engine ignores them.
	Hints map[string]string `json:"hints,omitempty"`
}

// Allow builds an allow policy.
func Allow(name string, ops []rowguard.Operation, cond ConditionFunc) Definition {
	return Definition{Name: name, Type: TypeAllow, Operations: ops, Condition: cond}
}

// Deny builds a deny policy.
func Deny(name string, ops []rowguard.Operation, cond ConditionFunc) Definition {
	return Definition{Name: name, Type: TypeDeny, Operations: ops, Condition: cond}
}

// Validate builds a validate policy for create/update payloads.
func Validate(name string, ops []rowguard.Operation, cond ConditionFunc) Definition {
	return Definition{Name: name, Type: TypeValidate, Operations: ops, Condition: cond}
}

// Filter builds a read filter policy.
func Filter(name string, fn FilterFunc) Definition {
	return Definition{Name: name, Type: TypeFilter, Operations: []rowguard.Operation{rowguard.OpRead}, Filter: fn}
}

// WithPriority returns a copy with the given priority.
func (d Definition) WithPriority(p int) Definition {
	d.Priority = p
	return d
}
