package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var errEmptyName = errors.New("resolver name is required")

// ErrTimeout marks a resolver that exceeded its resolve timeout. It is
// handled exactly like an explicit resolver error, per the Required flag.
var ErrTimeout = errors.New("resolver timed out")

// DuplicateError reports a second registration under an existing name.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("resolver: duplicate resolver %q", e.Name)
}

// UnknownDependencyError reports a dependency on an unregistered resolver.
type UnknownDependencyError struct {
	Resolver   string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("resolver: %q depends on unregistered resolver %q", e.Resolver, e.Dependency)
}

// CycleError reports a dependency cycle. Resolution fails fast instead of
// hanging.
type CycleError struct {
	Names []string
}

func (e *CycleError) Error() string {
	return "resolver: dependency cycle among " + strings.Join(e.Names, ", ")
}

// ResolverError wraps a required resolver's failure, aborting resolution.
type ResolverError struct {
	Name string
	Err  error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("resolver: %q failed: %v", e.Name, e.Err)
}

func (e *ResolverError) Unwrap() error {
	return e.Err
}
