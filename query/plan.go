// Package query rewrites read plans so unauthorized rows never leave the
// store. The engine has no knowledge of SQL text; it only appends predicates
// through the PredicateSink capability the query builder exposes.
package query

// PredicateSink is the capability consumed from the external query builder:
// append an equality, IS-NULL, IN or always-false predicate to a plan. All
// appended predicates combine with logical AND.
type PredicateSink interface {
	WhereEq(column string, value any)
	WhereNull(column string)
	WhereIn(column string, values []any)
	// WhereNone makes the whole plan match nothing. Used instead of an
	// empty IN-list, whose meaning is dialect-dependent.
	WhereNone()
}

// Plan is the closed sum over statement kinds. Exactly four variants exist;
// there is no runtime shape probing.
type Plan interface {
	Table() string
	Sink() PredicateSink

	isPlan()
}

type basePlan struct {
	table string
	sink  PredicateSink
}

func (p basePlan) Table() string       { return p.table }
func (p basePlan) Sink() PredicateSink { return p.sink }
func (p basePlan) isPlan()             {}

// SelectPlan is a read. The transformer appends filter-policy conditions.
type SelectPlan struct{ basePlan }

// InsertPlan is a create. Row admission is the mutation guard's job; the
// transformer passes inserts through untouched.
type InsertPlan struct{ basePlan }

// UpdatePlan is an update. Filter conditions are appended as defense in depth
// so an update can never touch rows a read would not have returned.
type UpdatePlan struct{ basePlan }

// DeletePlan is a delete, scoped like UpdatePlan.
type DeletePlan struct{ basePlan }

func NewSelectPlan(table string, sink PredicateSink) *SelectPlan {
	return &SelectPlan{basePlan{table: table, sink: sink}}
}

func NewInsertPlan(table string, sink PredicateSink) *InsertPlan {
	return &InsertPlan{basePlan{table: table, sink: sink}}
}

func NewUpdatePlan(table string, sink PredicateSink) *UpdatePlan {
	return &UpdatePlan{basePlan{table: table, sink: sink}}
}

func NewDeletePlan(table string, sink PredicateSink) *DeletePlan {
	return &DeletePlan{basePlan{table: table, sink: sink}}
}
