package policytest

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/policy"
	"github.com/rowguard/rowguard/query"
)

func reviewSchema() policy.Schema {
	return policy.Schema{
		"posts": {
			Policies: []policy.Definition{
				policy.Deny("banned", []rowguard.Operation{rowguard.OpAll},
					func(_ context.Context, ec *rowguard.EvalContext) (bool, error) {
						return ec.Auth.HasRole("banned"), nil
					}),
				policy.Allow("own-tenant", []rowguard.Operation{rowguard.OpRead},
					func(_ context.Context, ec *rowguard.EvalContext) (bool, error) {
						tenant, _ := ec.RowValue("tenant_id")
						return ec.TenantID() == tenant, nil
					}).WithPriority(1),
				policy.Allow("admin", []rowguard.Operation{rowguard.OpAll},
					func(_ context.Context, ec *rowguard.EvalContext) (bool, error) {
						return ec.Auth.HasRole("admin"), nil
					}).WithPriority(2),
			},
			SkipFor: []string{"superadmin"},
			Columns: []string{"id", "tenant_id", "status"},
		},
	}
}

func TestTestDecisionTrace(t *testing.T) {
	tester := New(policy.MustCompile(reviewSchema()))

	ec := &rowguard.EvalContext{
		Auth:      &rowguard.AuthContext{UserID: "alice", TenantID: lo.ToPtr("t1"), Roles: []string{"user"}},
		Row:       map[string]any{"tenant_id": "t1"},
		Table:     "posts",
		Operation: rowguard.OpRead,
	}

	result := tester.TestDecision(t.Context(), "posts", rowguard.OpRead, ec)

	assert.True(t, result.Decision.Allowed)
	assert.Equal(t, "own-tenant", result.Decision.PolicyName)

	// The trace lists every policy evaluated, in evaluation order, and
	// stops at the deciding one.
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "banned", result.Trace[0].Policy)
	assert.Equal(t, "no match", result.Trace[0].Effect)
	assert.Equal(t, "own-tenant", result.Trace[1].Policy)
	assert.Equal(t, "allow", result.Trace[1].Effect)
	assert.True(t, result.Trace[1].Result)
}

func TestTestDecisionDefaultDenyTrace(t *testing.T) {
	tester := New(policy.MustCompile(reviewSchema()))

	ec := &rowguard.EvalContext{
		Auth:      &rowguard.AuthContext{UserID: "alice", TenantID: lo.ToPtr("t1"), Roles: []string{"user"}},
		Row:       map[string]any{"tenant_id": "t2"},
		Table:     "posts",
		Operation: rowguard.OpRead,
	}

	result := tester.TestDecision(t.Context(), "posts", rowguard.OpRead, ec)

	assert.False(t, result.Decision.Allowed)
	assert.Equal(t, "default deny", result.Decision.Reason)

	// Every policy was tried and none matched.
	require.Len(t, result.Trace, 3)
	for _, eval := range result.Trace {
		assert.Equal(t, "no match", eval.Effect)
		assert.False(t, eval.Result)
	}
}

func TestTestDecisionFailClosed(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			Policies: []policy.Definition{
				policy.Allow("broken", []rowguard.Operation{rowguard.OpRead},
					func(context.Context, *rowguard.EvalContext) (bool, error) {
						return true, errors.New("lookup failed")
					}),
				policy.Allow("working", []rowguard.Operation{rowguard.OpRead},
					func(context.Context, *rowguard.EvalContext) (bool, error) {
						return true, nil
					}).WithPriority(1),
			},
		},
	}

	tester := New(policy.MustCompile(schema))

	ec := &rowguard.EvalContext{
		Auth:      &rowguard.AuthContext{UserID: "alice"},
		Table:     "posts",
		Operation: rowguard.OpRead,
	}

	result := tester.TestDecision(t.Context(), "posts", rowguard.OpRead, ec)

	// The errored allow grants nothing; the next policy still runs so a
	// single faulty condition does not hide the rest of the set.
	assert.True(t, result.Decision.Allowed)
	assert.Equal(t, "working", result.Decision.PolicyName)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "error", result.Trace[0].Effect)
	assert.Error(t, result.Trace[0].Err)
	assert.False(t, result.Trace[0].Result)
}

func TestTestDecisionErroredDenyDenies(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			AllowByDefault: true,
			Policies: []policy.Definition{
				policy.Deny("broken", []rowguard.Operation{rowguard.OpRead},
					func(context.Context, *rowguard.EvalContext) (bool, error) {
						return false, errors.New("lookup failed")
					}),
			},
		},
	}

	tester := New(policy.MustCompile(schema))

	result := tester.TestDecision(t.Context(), "posts", rowguard.OpRead, &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{UserID: "alice"},
	})

	// An errored deny resolves in the denying direction.
	assert.False(t, result.Decision.Allowed)
	assert.Equal(t, "evaluation failed", result.Decision.Reason)
	assert.Equal(t, "broken", result.Decision.PolicyName)
}

func TestTestDecisionValidation(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			AllowByDefault: true,
			Policies: []policy.Definition{
				policy.Validate("tenant-pinned", []rowguard.Operation{rowguard.OpCreate},
					func(_ context.Context, ec *rowguard.EvalContext) (bool, error) {
						return ec.Data["tenant_id"] == ec.TenantID(), nil
					}),
			},
		},
	}

	tester := New(policy.MustCompile(schema))

	ec := &rowguard.EvalContext{
		Auth:      &rowguard.AuthContext{UserID: "alice", TenantID: lo.ToPtr("t1")},
		Data:      map[string]any{"tenant_id": "t2"},
		Table:     "posts",
		Operation: rowguard.OpCreate,
	}

	result := tester.TestDecision(t.Context(), "posts", rowguard.OpCreate, ec)

	assert.False(t, result.Decision.Allowed)
	assert.Equal(t, "validation failed", result.Decision.Reason)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "validation failed", result.Trace[0].Effect)
}

func TestTestDecisionBypasses(t *testing.T) {
	tester := New(policy.MustCompile(reviewSchema()))

	result := tester.TestDecision(t.Context(), "posts", rowguard.OpDelete, &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{IsSystem: true},
	})
	assert.True(t, result.Decision.Allowed)
	assert.True(t, result.Decision.Bypass)
	assert.Empty(t, result.Trace)

	result = tester.TestDecision(t.Context(), "posts", rowguard.OpDelete, &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{UserID: "root", Roles: []string{"superadmin"}},
	})
	assert.True(t, result.Decision.Allowed)
	assert.True(t, result.Decision.Bypass)

	result = tester.TestDecision(t.Context(), "comments", rowguard.OpDelete, &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{UserID: "alice"},
	})
	assert.True(t, result.Decision.Allowed)
	assert.Equal(t, "no policies registered", result.Decision.Reason)
}

func TestTestFilters(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			Policies: []policy.Definition{
				policy.Filter("tenant", func(ec *rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"tenant_id": ec.TenantID()}, nil
				}).WithPriority(1),
				policy.Filter("published", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"status": []string{"published", "archived"}}, nil
				}).WithPriority(2),
			},
			Columns: []string{"tenant_id", "status"},
		},
	}

	tester := New(policy.MustCompile(schema))

	result := tester.TestFilters("posts", &rowguard.EvalContext{
		Auth:      &rowguard.AuthContext{UserID: "alice", TenantID: lo.ToPtr("t1")},
		Table:     "posts",
		Operation: rowguard.OpRead,
	})

	assert.False(t, result.MatchesNone)
	assert.Equal(t, policy.Conditions{
		"tenant_id": "t1",
		"status":    []any{"published", "archived"},
	}, result.Conditions)

	require.Len(t, result.Predicates, 2)
	assert.Equal(t, query.PredicateEq, result.Predicates[0].Kind)
	assert.Equal(t, query.PredicateIn, result.Predicates[1].Kind)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "tenant", result.Trace[0].Policy)
	assert.Equal(t, "filter", result.Trace[0].Effect)
}

func TestTestFiltersSameColumnIntersection(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			Policies: []policy.Definition{
				policy.Filter("first", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"status": []string{"draft", "published"}}, nil
				}).WithPriority(1),
				policy.Filter("second", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"status": []string{"published", "archived"}}, nil
				}).WithPriority(2),
			},
			Columns: []string{"status"},
		},
	}

	tester := New(policy.MustCompile(schema))

	result := tester.TestFilters("posts", &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{UserID: "alice"},
	})

	assert.Equal(t, []any{"published"}, result.Conditions["status"])
	assert.False(t, result.MatchesNone)
}

func TestTestFiltersContradictionMatchesNone(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			Policies: []policy.Definition{
				policy.Filter("first", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"tenant_id": "t1"}, nil
				}).WithPriority(1),
				policy.Filter("second", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"tenant_id": "t2"}, nil
				}).WithPriority(2),
			},
			Columns: []string{"tenant_id"},
		},
	}

	tester := New(policy.MustCompile(schema))

	result := tester.TestFilters("posts", &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{UserID: "alice"},
	})

	// t1 AND t2 is an empty intersection.
	assert.True(t, result.MatchesNone)
	assert.Equal(t, []any{}, result.Conditions["tenant_id"])
}

func TestTestFiltersUncomparableValues(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			Policies: []policy.Definition{
				// A faulty filter emitting a map as a scalar condition
				// value; a second one intersecting a slice against it.
				policy.Filter("first", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"tenant_id": map[string]any{"bad": true}}, nil
				}).WithPriority(1),
				policy.Filter("second", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"tenant_id": []any{"t1", map[string]any{"also": "bad"}}}, nil
				}).WithPriority(2),
			},
			Columns: []string{"tenant_id"},
		},
	}

	tester := New(policy.MustCompile(schema))

	var result FilterResult

	require.NotPanics(t, func() {
		result = tester.TestFilters("posts", &rowguard.EvalContext{
			Auth: &rowguard.AuthContext{UserID: "alice"},
		})
	})

	// An uncomparable value equals nothing, so the intersection is the
	// always-false condition.
	assert.True(t, result.MatchesNone)
	assert.Equal(t, []any{}, result.Conditions["tenant_id"])
}

func TestTestFiltersFailClosed(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			Policies: []policy.Definition{
				policy.Filter("broken", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return nil, errors.New("boom")
				}),
			},
		},
	}

	tester := New(policy.MustCompile(schema))

	result := tester.TestFilters("posts", &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{UserID: "alice"},
	})

	assert.True(t, result.MatchesNone)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "error", result.Trace[0].Effect)
	assert.Error(t, result.Trace[0].Err)
}

func TestTestFiltersUnknownColumn(t *testing.T) {
	schema := policy.Schema{
		"posts": {
			Policies: []policy.Definition{
				policy.Filter("bad", func(*rowguard.EvalContext) (policy.Conditions, error) {
					return policy.Conditions{"secret": 1}, nil
				}),
			},
			Columns: []string{"id"},
		},
	}

	tester := New(policy.MustCompile(schema))

	result := tester.TestFilters("posts", &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{UserID: "alice"},
	})

	assert.True(t, result.MatchesNone)
	require.Len(t, result.Trace, 1)

	var sie *rowguard.SchemaInvalidError
	require.ErrorAs(t, result.Trace[0].Err, &sie)
}

func TestTestFiltersSystemBypass(t *testing.T) {
	tester := New(policy.MustCompile(reviewSchema()))

	result := tester.TestFilters("posts", &rowguard.EvalContext{
		Auth: &rowguard.AuthContext{IsSystem: true},
	})

	assert.Empty(t, result.Predicates)
	assert.Empty(t, result.Trace)
}
