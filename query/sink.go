package query

import (
	"fmt"
	"strings"
)

// PredicateKind discriminates recorded predicates.
type PredicateKind string

const (
	PredicateEq   PredicateKind = "eq"
	PredicateNull PredicateKind = "null"
	PredicateIn   PredicateKind = "in"
	PredicateNone PredicateKind = "none"
)

// Predicate is one recorded condition.
type Predicate struct {
	Kind   PredicateKind
	Column string
	Value  any
	Values []any
}

// String renders the predicate for hashing and debug logs, not for execution.
func (p Predicate) String() string {
	switch p.Kind {
	case PredicateEq:
		return fmt.Sprintf("%s = %v", p.Column, p.Value)
	case PredicateNull:
		return p.Column + " IS NULL"
	case PredicateIn:
		parts := make([]string, len(p.Values))
		for i, v := range p.Values {
			parts[i] = fmt.Sprintf("%v", v)
		}

		return fmt.Sprintf("%s IN (%s)", p.Column, strings.Join(parts, ", "))
	case PredicateNone:
		return "FALSE"
	default:
		return "?"
	}
}

// MemorySink records appended predicates. It backs tests and the policy
// tester; production plans wrap the real query builder instead.
type MemorySink struct {
	predicates []Predicate
}

// NewMemorySink returns an empty recording sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) WhereEq(column string, value any) {
	s.predicates = append(s.predicates, Predicate{Kind: PredicateEq, Column: column, Value: value})
}

func (s *MemorySink) WhereNull(column string) {
	s.predicates = append(s.predicates, Predicate{Kind: PredicateNull, Column: column})
}

func (s *MemorySink) WhereIn(column string, values []any) {
	s.predicates = append(s.predicates, Predicate{Kind: PredicateIn, Column: column, Values: values})
}

func (s *MemorySink) WhereNone() {
	s.predicates = append(s.predicates, Predicate{Kind: PredicateNone})
}

// Predicates returns the recorded predicates in append order.
func (s *MemorySink) Predicates() []Predicate {
	return s.predicates
}

// MatchesNone reports whether an always-false predicate was recorded.
func (s *MemorySink) MatchesNone() bool {
	for _, p := range s.predicates {
		if p.Kind == PredicateNone {
			return true
		}
	}

	return false
}
