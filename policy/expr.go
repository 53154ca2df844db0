package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rowguard/rowguard"
)

var (
	errNoCondition     = errors.New("policy has no condition")
	errBothConditions  = errors.New("policy declares both a function and an expression")
	errFilterOnBoolean = errors.New("boolean policy declares filter conditions")
)

// ExprAllow builds an allow policy from an expr-lang source string. The
// program is compiled by Compile; a bad source becomes SchemaInvalid there,
// not a runtime surprise.
func ExprAllow(name string, ops []rowguard.Operation, src string) Definition {
	return Definition{Name: name, Type: TypeAllow, Operations: ops, Expr: src}
}

// ExprDeny builds a deny policy from an expr-lang source string.
func ExprDeny(name string, ops []rowguard.Operation, src string) Definition {
	return Definition{Name: name, Type: TypeDeny, Operations: ops, Expr: src}
}

// ExprValidate builds a validate policy from an expr-lang source string.
func ExprValidate(name string, ops []rowguard.Operation, src string) Definition {
	return Definition{Name: name, Type: TypeValidate, Operations: ops, Expr: src}
}

// ExprFilter builds a read filter policy whose program must evaluate to a map
// of column to required value.
func ExprFilter(name, src string) Definition {
	return Definition{Name: name, Type: TypeFilter, Operations: []rowguard.Operation{rowguard.OpRead}, FilterExpr: src}
}

// exprEnv flattens the evaluation context into the environment policy
// expressions see: auth, row, data, meta, table, op.
func exprEnv(ec *rowguard.EvalContext) map[string]any {
	auth := map[string]any{}

	if ec.Auth != nil {
		var tenant any
		if ec.Auth.TenantID != nil {
			tenant = *ec.Auth.TenantID
		}

		auth = map[string]any{
			"user_id":          ec.Auth.UserID,
			"roles":            orEmptySlice(ec.Auth.Roles),
			"tenant_id":        tenant,
			"organization_ids": orEmptySlice(ec.Auth.OrganizationIDs),
			"permissions":      orEmptySlice(ec.Auth.Permissions),
			"attributes":       orEmptyMap(ec.Auth.Attributes),
			"is_system":        ec.Auth.IsSystem,
			"resolved":         orEmptyMap(ec.Auth.Resolved),
		}
	}

	return map[string]any{
		"auth":  auth,
		"row":   orEmptyMap(ec.Row),
		"data":  orEmptyMap(ec.Data),
		"meta":  orEmptyMap(ec.Meta),
		"table": ec.Table,
		"op":    string(ec.Operation),
	}
}

func compileCondExpr(src string) (ConditionFunc, error) {
	program, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	return func(_ context.Context, ec *rowguard.EvalContext) (bool, error) {
		out, err := runProgram(program, ec)
		if err != nil {
			return false, err
		}

		result, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("expression produced %T, want bool", out)
		}

		return result, nil
	}, nil
}

func compileFilterExpr(src string) (FilterFunc, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	return func(ec *rowguard.EvalContext) (Conditions, error) {
		out, err := runProgram(program, ec)
		if err != nil {
			return nil, err
		}

		result, ok := out.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("filter expression produced %T, want map of column to value", out)
		}

		return Conditions(result), nil
	}, nil
}

func runProgram(program *vm.Program, ec *rowguard.EvalContext) (any, error) {
	return expr.Run(program, exprEnv(ec))
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
