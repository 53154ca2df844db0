// Package guard admits or rejects mutations and performs defense-in-depth
// read filtering, row by row. A Guard is a stateless decision procedure over
// a compiled policy registry; it holds no per-call state.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/audit"
	"github.com/rowguard/rowguard/internal/log"
	"github.com/rowguard/rowguard/policy"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	PolicyName string `json:"policy_name,omitempty"`
	Reason     string `json:"reason"`
	// Bypass marks decisions admitted without evaluation (system caller
	// or skip-for role), tagged so audit can tell them apart.
	Bypass bool `json:"bypass,omitempty"`
}

// Guard decides admission for writes and per-row reads.
type Guard struct {
	registry *policy.Registry
	auditor  *audit.Logger
}

// Option configures optional collaborators.
type Option func(*Guard)

// WithAudit forwards every decision to the audit logger.
func WithAudit(l *audit.Logger) Option {
	return func(g *Guard) {
		g.auditor = l
	}
}

// New builds a guard over a compiled registry.
func New(registry *policy.Registry, opts ...Option) *Guard {
	g := &Guard{registry: registry}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Decide runs the admission procedure for one operation:
//
//  1. Unregistered table: allow (no enforcement declared).
//  2. System caller or skip-for role: allow, tagged as bypass.
//  3. Deny policies in priority order; first true condition denies.
//  4. For create/update with a payload, validate policies in order; first
//     false condition denies.
//  5. Allow policies in priority order; first true condition allows.
//  6. Otherwise the table's default applies.
//
// A condition that fails is a *rowguard.PolicyEvaluationError; it propagates
// and is never converted into a deny.
func (g *Guard) Decide(ctx context.Context, table string, op rowguard.Operation, ec *rowguard.EvalContext) (Decision, error) {
	start := time.Now()

	decision, err := g.decide(ctx, table, op, ec)
	if err != nil {
		return decision, err
	}

	g.audit(ctx, table, op, decision, time.Since(start))

	return decision, nil
}

func (g *Guard) decide(ctx context.Context, table string, op rowguard.Operation, ec *rowguard.EvalContext) (Decision, error) {
	if !op.Concrete() {
		return Decision{}, fmt.Errorf("guard: %q is not a decidable operation", op)
	}

	if !g.registry.HasTable(table) {
		return Decision{Allowed: true, Reason: "no policies registered"}, nil
	}

	if ec.Auth != nil && ec.Auth.IsSystem {
		return Decision{Allowed: true, Reason: "system bypass", Bypass: true}, nil
	}

	if ec.Auth != nil && ec.Auth.HasAnyRole(g.registry.SkipFor(table)...) {
		return Decision{Allowed: true, Reason: "role exempt", Bypass: true}, nil
	}

	for _, def := range g.registry.Denies(table, op) {
		matched, err := g.evaluate(ctx, table, op, def, ec)
		if err != nil {
			return Decision{}, err
		}

		if matched {
			return Decision{Allowed: false, PolicyName: def.Name, Reason: "denied by policy"}, nil
		}
	}

	if (op == rowguard.OpCreate || op == rowguard.OpUpdate) && ec.Data != nil {
		for _, def := range g.registry.Validates(table, op) {
			passed, err := g.evaluate(ctx, table, op, def, ec)
			if err != nil {
				return Decision{}, err
			}

			if !passed {
				return Decision{Allowed: false, PolicyName: def.Name, Reason: "validation failed"}, nil
			}
		}
	}

	for _, def := range g.registry.Allows(table, op) {
		matched, err := g.evaluate(ctx, table, op, def, ec)
		if err != nil {
			return Decision{}, err
		}

		if matched {
			return Decision{Allowed: true, PolicyName: def.Name, Reason: "allowed by policy"}, nil
		}
	}

	if g.registry.DefaultDeny(table) {
		return Decision{Allowed: false, Reason: "default deny"}, nil
	}

	return Decision{Allowed: true, Reason: "default allow"}, nil
}

func (g *Guard) evaluate(ctx context.Context, table string, op rowguard.Operation, def policy.Definition, ec *rowguard.EvalContext) (bool, error) {
	result, err := def.Condition(ctx, ec)
	if err != nil {
		return false, &rowguard.PolicyEvaluationError{
			Table:      table,
			PolicyName: def.Name,
			Operation:  op,
			Err:        err,
		}
	}

	return result, nil
}

func (g *Guard) audit(ctx context.Context, table string, op rowguard.Operation, decision Decision, elapsed time.Duration) {
	opts := []audit.EventOption{
		audit.WithPolicy(decision.PolicyName),
		audit.WithReason(decision.Reason),
		audit.WithDuration(elapsed),
	}
	if decision.Bypass {
		opts = append(opts, audit.WithBypass())
	}

	verdict := audit.DecisionDeny
	if decision.Allowed {
		verdict = audit.DecisionAllow
	}

	g.auditor.LogDecision(ctx, op, table, verdict, opts...)
}

// DecideCurrent is Decide against the bound RLS context. It returns
// rowguard.ErrContextMissing when nothing is bound: whether that means
// rejecting or treating the caller as anonymous stays the caller's call.
func (g *Guard) DecideCurrent(ctx context.Context, table string, op rowguard.Operation, row, data map[string]any) (Decision, error) {
	rc, ok := rowguard.FromContext(ctx)
	if !ok {
		return Decision{}, rowguard.ErrContextMissing
	}

	ec := rowguard.NewEvalContext(rc, table, op).WithRow(row).WithData(data)

	return g.Decide(ctx, table, op, ec)
}

// Require is Decide that turns a deny into a *rowguard.PolicyViolation.
func (g *Guard) Require(ctx context.Context, table string, op rowguard.Operation, ec *rowguard.EvalContext) error {
	decision, err := g.Decide(ctx, table, op, ec)
	if err != nil {
		return err
	}

	if !decision.Allowed {
		if log.DebugEnabled(ctx) {
			log.Debug(ctx, "guard: operation rejected",
				log.String("table", table),
				log.String("operation", string(op)),
				log.String("policy", decision.PolicyName),
				log.String("reason", decision.Reason),
			)
		}

		return &rowguard.PolicyViolation{
			Operation:  op,
			Table:      table,
			PolicyName: decision.PolicyName,
			Reason:     decision.Reason,
		}
	}

	return nil
}
