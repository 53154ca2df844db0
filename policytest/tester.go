// Package policytest replays admission and filter decisions against a
// compiled registry with no database behind them, for verifying policy
// definitions offline. Every policy touched is recorded in an ordered trace.
//
// Unlike guard.Guard, which propagates a failed condition as a
// *rowguard.PolicyEvaluationError, the tester is fail-closed: an errored
// condition is recorded in the trace and resolved in the denying direction.
// The asymmetry is intentional; a test harness should surface every policy's
// behavior in one pass rather than abort on the first faulty condition.
package policytest

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/guard"
	"github.com/rowguard/rowguard/policy"
	"github.com/rowguard/rowguard/query"
)

// PolicyEval is one trace entry: a single policy evaluated against the
// supplied context.
type PolicyEval struct {
	Policy   string      `json:"policy"`
	Type     policy.Type `json:"type"`
	Priority int         `json:"priority"`
	// Result is the condition's boolean outcome; false when Err is set.
	Result bool  `json:"result"`
	Err    error `json:"-"`
	// Effect names what the evaluation contributed to the verdict:
	// "deny", "validation failed", "allow", "filter", "no match" or
	// "error".
	Effect string `json:"effect"`
}

// Result is a replayed admission decision plus its trace.
type Result struct {
	Decision guard.Decision `json:"decision"`
	Trace    []PolicyEval   `json:"trace"`
}

// FilterResult is a replayed read-filter pass.
type FilterResult struct {
	// Conditions is the column-wise intersection of every filter
	// policy's output. Two policies constraining the same column AND
	// together; an empty intersection collapses to MatchesNone.
	Conditions policy.Conditions `json:"conditions"`
	// Predicates lists every predicate in the order a transformer would
	// append it, one entry per policy condition before merging.
	Predicates []query.Predicate `json:"predicates"`
	Trace      []PolicyEval      `json:"trace"`
	// MatchesNone reports that the transformed read can return no rows.
	MatchesNone bool `json:"matches_none"`
}

// Tester replays decisions over a compiled registry.
type Tester struct {
	registry *policy.Registry
}

// New builds a tester over a compiled registry.
func New(registry *policy.Registry) *Tester {
	return &Tester{registry: registry}
}

// TestDecision replays the admission procedure for one operation and returns
// the verdict with an ordered trace of every policy evaluated. Bypasses
// (system caller, skip-for role, unregistered table) produce an empty trace.
func (t *Tester) TestDecision(ctx context.Context, table string, op rowguard.Operation, ec *rowguard.EvalContext) Result {
	if !t.registry.HasTable(table) {
		return Result{Decision: guard.Decision{Allowed: true, Reason: "no policies registered"}}
	}

	if ec.Auth != nil && ec.Auth.IsSystem {
		return Result{Decision: guard.Decision{Allowed: true, Reason: "system bypass", Bypass: true}}
	}

	if ec.Auth != nil && ec.Auth.HasAnyRole(t.registry.SkipFor(table)...) {
		return Result{Decision: guard.Decision{Allowed: true, Reason: "role exempt", Bypass: true}}
	}

	var trace []PolicyEval

	for _, def := range t.registry.Denies(table, op) {
		matched, err := def.Condition(ctx, ec)

		eval := PolicyEval{Policy: def.Name, Type: def.Type, Priority: def.Priority, Result: matched && err == nil, Err: err}

		switch {
		case err != nil:
			eval.Effect = "error"
			trace = append(trace, eval)

			return Result{
				Decision: guard.Decision{PolicyName: def.Name, Reason: "evaluation failed"},
				Trace:    trace,
			}
		case matched:
			eval.Effect = "deny"
			trace = append(trace, eval)

			return Result{
				Decision: guard.Decision{PolicyName: def.Name, Reason: "denied by policy"},
				Trace:    trace,
			}
		default:
			eval.Effect = "no match"
			trace = append(trace, eval)
		}
	}

	if (op == rowguard.OpCreate || op == rowguard.OpUpdate) && ec.Data != nil {
		for _, def := range t.registry.Validates(table, op) {
			passed, err := def.Condition(ctx, ec)

			eval := PolicyEval{Policy: def.Name, Type: def.Type, Priority: def.Priority, Result: passed && err == nil, Err: err}

			if err != nil || !passed {
				eval.Effect = "validation failed"
				if err != nil {
					eval.Effect = "error"
				}

				trace = append(trace, eval)

				reason := "validation failed"
				if err != nil {
					reason = "evaluation failed"
				}

				return Result{
					Decision: guard.Decision{PolicyName: def.Name, Reason: reason},
					Trace:    trace,
				}
			}

			eval.Effect = "no match"
			trace = append(trace, eval)
		}
	}

	for _, def := range t.registry.Allows(table, op) {
		matched, err := def.Condition(ctx, ec)

		eval := PolicyEval{Policy: def.Name, Type: def.Type, Priority: def.Priority, Result: matched && err == nil, Err: err}

		switch {
		case err != nil:
			// Fail closed: an errored allow grants nothing.
			eval.Effect = "error"
			trace = append(trace, eval)
		case matched:
			eval.Effect = "allow"
			trace = append(trace, eval)

			return Result{
				Decision: guard.Decision{Allowed: true, PolicyName: def.Name, Reason: "allowed by policy"},
				Trace:    trace,
			}
		default:
			eval.Effect = "no match"
			trace = append(trace, eval)
		}
	}

	if t.registry.DefaultDeny(table) {
		return Result{Decision: guard.Decision{Reason: "default deny"}, Trace: trace}
	}

	return Result{Decision: guard.Decision{Allowed: true, Reason: "default allow"}, Trace: trace}
}

// TestFilters replays every read filter policy for the table and returns the
// merged conditions a transformer would apply. A filter that errors, or that
// references a column outside the table's declared set, collapses the result
// to matches-none with the fault recorded in its trace entry.
func (t *Tester) TestFilters(table string, ec *rowguard.EvalContext) FilterResult {
	var out FilterResult

	if ec.Auth != nil && ec.Auth.IsSystem {
		return out
	}

	if ec.Auth != nil && ec.Auth.HasAnyRole(t.registry.SkipFor(table)...) {
		return out
	}

	merged := policy.Conditions{}
	sink := query.NewMemorySink()

	for _, def := range t.registry.Filters(table) {
		eval := PolicyEval{Policy: def.Name, Type: def.Type, Priority: def.Priority, Effect: "filter"}

		conds, err := def.Filter(ec)
		if err != nil {
			eval.Err = err
			eval.Effect = "error"
			out.Trace = append(out.Trace, eval)
			out.MatchesNone = true

			return out
		}

		columns := make([]string, 0, len(conds))
		for col := range conds {
			columns = append(columns, col)
		}

		sort.Strings(columns)

		for _, col := range columns {
			value := conds[col]
			if policy.IsSkip(value) {
				continue
			}

			if !t.registry.AllowsColumn(table, col) {
				eval.Err = &rowguard.SchemaInvalidError{
					Table:      table,
					PolicyName: def.Name,
					Detail:     fmt.Sprintf("filter references unknown column %q", col),
				}
				eval.Effect = "error"
				out.Trace = append(out.Trace, eval)
				out.MatchesNone = true

				return out
			}

			recordPredicate(sink, col, value)
			mergeCondition(merged, col, value)
		}

		eval.Result = true
		out.Trace = append(out.Trace, eval)
	}

	out.Conditions = merged
	out.Predicates = sink.Predicates()

	for _, value := range merged {
		if vs, ok := value.([]any); ok && len(vs) == 0 {
			out.MatchesNone = true
		}
	}

	if sink.MatchesNone() {
		out.MatchesNone = true
	}

	return out
}

func recordPredicate(sink *query.MemorySink, column string, value any) {
	switch {
	case value == nil:
		sink.WhereNull(column)
	default:
		if values, ok := asSlice(value); ok {
			if len(values) == 0 {
				sink.WhereNone()
				return
			}

			sink.WhereIn(column, values)

			return
		}

		sink.WhereEq(column, value)
	}
}

// mergeCondition intersects a new condition into the merged map. Two
// constraints on one column AND together; a contradictory pair (two unequal
// scalars, a scalar outside a list, NULL against a value) leaves an empty
// slice, the always-false condition.
func mergeCondition(merged policy.Conditions, column string, value any) {
	existing, seen := merged[column]
	if !seen {
		if values, ok := asSlice(value); ok {
			merged[column] = values
		} else {
			merged[column] = value
		}

		return
	}

	merged[column] = intersect(existing, value)
}

func intersect(a, b any) any {
	as, aSlice := asSlice(a)
	bs, bSlice := asSlice(b)

	switch {
	case aSlice && bSlice:
		out := make([]any, 0, len(as))

		for _, v := range as {
			if containsValue(bs, v) {
				out = append(out, v)
			}
		}

		return out
	case aSlice:
		if containsValue(as, b) {
			return b
		}

		return []any{}
	case bSlice:
		if containsValue(bs, a) {
			return a
		}

		return []any{}
	case a == nil && b == nil:
		return nil
	case equalValue(a, b):
		return a
	default:
		return []any{}
	}
}

func containsValue(values []any, v any) bool {
	for _, candidate := range values {
		if equalValue(candidate, v) {
			return true
		}
	}

	return false
}

// equalValue compares two condition values without panicking on
// uncomparable dynamic types; an uncomparable value equals nothing, so it
// intersects to the always-false condition.
func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}

	return a == b
}

func asSlice(value any) ([]any, bool) {
	switch vs := value.(type) {
	case []any:
		return vs, true
	case []string:
		out := make([]any, len(vs))
		for i, v := range vs {
			out[i] = v
		}

		return out, true
	case []int:
		out := make([]any, len(vs))
		for i, v := range vs {
			out[i] = v
		}

		return out, true
	case []int64:
		out := make([]any, len(vs))
		for i, v := range vs {
			out[i] = v
		}

		return out, true
	default:
		return nil, false
	}
}
