package query

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/audit"
	"github.com/rowguard/rowguard/internal/log"
	"github.com/rowguard/rowguard/policy"
)

// Transformer appends filter-policy predicates to plans. Evaluation is fully
// synchronous: the FilterFunc signature admits no suspension, which the
// registry enforces at compile, so plan rewriting never blocks on I/O.
type Transformer struct {
	registry *policy.Registry
	auditor  *audit.Logger
}

// TransformerOption configures optional collaborators.
type TransformerOption func(*Transformer)

// WithAudit forwards every filter decision to the audit logger.
func WithAudit(l *audit.Logger) TransformerOption {
	return func(t *Transformer) {
		t.auditor = l
	}
}

// NewTransformer builds a transformer over a compiled registry.
func NewTransformer(registry *policy.Registry, opts ...TransformerOption) *Transformer {
	t := &Transformer{registry: registry}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Transform rewrites the plan in place and returns it. The plan is returned
// unchanged when no context is bound, the caller is system, or one of the
// caller's roles is in the table's skip-for set. Inserts always pass through;
// updates and deletes receive the read filters as defense in depth so a
// mutation can never touch rows a read would not have returned.
//
// Transform has no side effects beyond the sink appends and optional audit.
func (t *Transformer) Transform(ctx context.Context, plan Plan) (Plan, error) {
	if _, passthrough := plan.(*InsertPlan); passthrough {
		return plan, nil
	}

	table := plan.Table()

	rc, ok := rowguard.FromContext(ctx)
	if !ok {
		return plan, nil
	}

	if rc.Auth != nil && rc.Auth.IsSystem {
		return plan, nil
	}

	if t.skipsCaller(table, rc.Auth) {
		return plan, nil
	}

	filters := t.registry.Filters(table)
	if len(filters) == 0 {
		return plan, nil
	}

	ec := rowguard.NewEvalContext(rc, table, planOperation(plan))

	applied, predicates, err := t.applyFilters(plan.Sink(), table, filters, ec)
	if err != nil {
		return nil, err
	}

	if len(applied) > 0 {
		hash := hashPredicates(predicates)

		if log.DebugEnabled(ctx) {
			log.Debug(ctx, "query: filters applied",
				log.String("table", table),
				log.Any("policies", applied),
				log.String("query_hash", hash),
				log.Int("predicates", len(predicates)),
			)
		}

		t.auditor.LogDecision(ctx, planOperation(plan), table, audit.DecisionFilter,
			audit.WithPolicy(strings.Join(applied, ",")),
			audit.WithQueryHash(hash),
		)
	}

	return plan, nil
}

func (t *Transformer) skipsCaller(table string, auth *rowguard.AuthContext) bool {
	if auth == nil {
		return false
	}

	for _, role := range auth.Roles {
		if t.registry.SkipsRole(table, role) {
			return true
		}
	}

	return false
}

// applyFilters evaluates each filter policy in priority order and appends its
// conditions, column-qualified and column-sorted so output is deterministic.
// Two policies constraining the same column both contribute: conditions
// intersect (AND), they never overwrite each other.
func (t *Transformer) applyFilters(sink PredicateSink, table string, filters []policy.Definition, ec *rowguard.EvalContext) ([]string, []Predicate, error) {
	var (
		applied    []string
		predicates []Predicate
	)

	for _, def := range filters {
		conds, err := def.Filter(ec)
		if err != nil {
			return nil, nil, &rowguard.PolicyEvaluationError{
				Table:      table,
				PolicyName: def.Name,
				Operation:  rowguard.OpRead,
				Err:        err,
			}
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
				return nil, nil, &rowguard.SchemaInvalidError{
					Table:      table,
					PolicyName: def.Name,
					Detail:     fmt.Sprintf("filter references unknown column %q", col),
				}
			}

			qualified := table + "." + col

			pred, matchesNone := appendCondition(sink, qualified, value)
			predicates = append(predicates, pred)

			if matchesNone {
				// The plan can no longer match anything; further
				// conditions would only obscure the audit trail.
				return append(applied, def.Name), predicates, nil
			}
		}

		applied = append(applied, def.Name)
	}

	return applied, predicates, nil
}

// appendCondition maps one condition value onto the sink per the value
// semantics of policy.Conditions. Returns the recorded predicate and whether
// it was the whole-query always-false predicate.
func appendCondition(sink PredicateSink, column string, value any) (Predicate, bool) {
	if value == nil {
		sink.WhereNull(column)
		return Predicate{Kind: PredicateNull, Column: column}, false
	}

	if values, isSlice := normalizeSlice(value); isSlice {
		if len(values) == 0 {
			sink.WhereNone()
			return Predicate{Kind: PredicateNone}, true
		}

		sink.WhereIn(column, values)

		return Predicate{Kind: PredicateIn, Column: column, Values: values}, false
	}

	sink.WhereEq(column, value)

	return Predicate{Kind: PredicateEq, Column: column, Value: value}, false
}

// normalizeSlice converts any slice or array value into []any.
func normalizeSlice(value any) ([]any, bool) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func planOperation(plan Plan) rowguard.Operation {
	switch plan.(type) {
	case *UpdatePlan:
		return rowguard.OpUpdate
	case *DeletePlan:
		return rowguard.OpDelete
	case *InsertPlan:
		return rowguard.OpCreate
	default:
		return rowguard.OpRead
	}
}

func hashPredicates(predicates []Predicate) string {
	digest := xxhash.New()
	for _, p := range predicates {
		_, _ = digest.WriteString(p.String())
		_, _ = digest.WriteString(";")
	}

	return fmt.Sprintf("%016x", digest.Sum64())
}
