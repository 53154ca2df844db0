package rowguard

import (
	"github.com/spf13/cast"
)

// EvalContext is the input to a single policy evaluation. Row carries the
// candidate row for per-row decisions, Data the proposed mutation payload for
// create/update validation. Both may be nil for operation-level decisions.
type EvalContext struct {
	Auth      *AuthContext
	Row       map[string]any
	Data      map[string]any
	Meta      map[string]any
	Table     string
	Operation Operation
}

// NewEvalContext builds an evaluation context from a bound RLS context.
func NewEvalContext(rc *RLSContext, table string, op Operation) *EvalContext {
	ec := &EvalContext{
		Table:     table,
		Operation: op,
	}
	if rc != nil {
		ec.Auth = rc.Auth
		ec.Meta = rc.Meta
	}

	return ec
}

// WithRow returns a shallow copy carrying the candidate row.
func (ec *EvalContext) WithRow(row map[string]any) *EvalContext {
	clone := *ec
	clone.Row = row

	return &clone
}

// WithData returns a shallow copy carrying the mutation payload.
func (ec *EvalContext) WithData(data map[string]any) *EvalContext {
	clone := *ec
	clone.Data = data

	return &clone
}

// RowValue reads a column from the candidate row.
func (ec *EvalContext) RowValue(column string) (any, bool) {
	if ec.Row == nil {
		return nil, false
	}

	v, ok := ec.Row[column]

	return v, ok
}

// Resolved reads a resolver output attached to the auth context.
func (ec *EvalContext) Resolved(name string) (any, bool) {
	if ec.Auth == nil || ec.Auth.Resolved == nil {
		return nil, false
	}

	v, ok := ec.Auth.Resolved[name]

	return v, ok
}

// Attr reads an opaque auth attribute.
func (ec *EvalContext) Attr(name string) (any, bool) {
	if ec.Auth == nil || ec.Auth.Attributes == nil {
		return nil, false
	}

	v, ok := ec.Auth.Attributes[name]

	return v, ok
}

// StringAttr reads an auth attribute coerced to string, or "" when absent.
func (ec *EvalContext) StringAttr(name string) string {
	v, ok := ec.Attr(name)
	if !ok {
		return ""
	}

	return cast.ToString(v)
}

// IntAttr reads an auth attribute coerced to int, or 0 when absent.
func (ec *EvalContext) IntAttr(name string) int {
	v, ok := ec.Attr(name)
	if !ok {
		return 0
	}

	return cast.ToInt(v)
}

// BoolAttr reads an auth attribute coerced to bool, or false when absent.
func (ec *EvalContext) BoolAttr(name string) bool {
	v, ok := ec.Attr(name)
	if !ok {
		return false
	}

	return cast.ToBool(v)
}

// TenantID returns the caller's tenant id, or "" for tenantless callers.
func (ec *EvalContext) TenantID() string {
	if ec.Auth == nil || ec.Auth.TenantID == nil {
		return ""
	}

	return *ec.Auth.TenantID
}
