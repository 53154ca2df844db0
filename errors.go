package rowguard

import (
	"errors"
	"fmt"
)

// ErrContextMissing is returned when enforcement is attempted with no bound
// RLS context. Callers decide whether that means rejecting the operation or
// treating the caller as anonymous; the engine never guesses.
var ErrContextMissing = errors.New("rowguard: no rls context bound")

// PolicyViolation is a legitimate deny or validate-failure decision. It is
// expected control flow, not a bug.
type PolicyViolation struct {
	Operation  Operation
	Table      string
	PolicyName string
	Reason     string
}

func (e *PolicyViolation) Error() string {
	if e.PolicyName != "" {
		return fmt.Sprintf("rowguard: %s on %q denied by policy %q: %s", e.Operation, e.Table, e.PolicyName, e.Reason)
	}

	return fmt.Sprintf("rowguard: %s on %q denied: %s", e.Operation, e.Table, e.Reason)
}

// PolicyEvaluationError means a policy condition itself failed. It is a bug
// in a policy, distinct from a violation, and is never downgraded to a deny
// by the transformer or the guard.
type PolicyEvaluationError struct {
	Table      string
	PolicyName string
	Operation  Operation
	Err        error
}

func (e *PolicyEvaluationError) Error() string {
	return fmt.Sprintf("rowguard: policy %q on table %q failed during %s: %v", e.PolicyName, e.Table, e.Operation, e.Err)
}

func (e *PolicyEvaluationError) Unwrap() error {
	return e.Err
}

// SchemaInvalidError is a malformed policy schema, detected at registry
// construction. Fatal and never retried.
type SchemaInvalidError struct {
	Table      string
	PolicyName string
	Detail     string
}

func (e *SchemaInvalidError) Error() string {
	switch {
	case e.Table != "" && e.PolicyName != "":
		return fmt.Sprintf("rowguard: invalid schema: table %q policy %q: %s", e.Table, e.PolicyName, e.Detail)
	case e.Table != "":
		return fmt.Sprintf("rowguard: invalid schema: table %q: %s", e.Table, e.Detail)
	default:
		return "rowguard: invalid schema: " + e.Detail
	}
}

// ContextValidationError is a malformed auth context, e.g. a missing user id.
type ContextValidationError struct {
	Field  string
	Detail string
}

func (e *ContextValidationError) Error() string {
	return fmt.Sprintf("rowguard: invalid context: field %q: %s", e.Field, e.Detail)
}
