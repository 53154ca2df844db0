package policy

import (
	"sort"

	"github.com/samber/lo"

	"github.com/rowguard/rowguard"
)

// Registry is the compiled, per-table index of policies. Built once by
// Compile and read-only thereafter, so concurrent reads need no locking.
type Registry struct {
	tables map[string]*tableIndex
}

type tableIndex struct {
	defaultDeny bool
	skipFor     map[string]struct{}
	skipRoles   []string
	columns     map[string]struct{}
	columnList  []string
	filters     []Definition
	allows      map[rowguard.Operation][]Definition
	denies      map[rowguard.Operation][]Definition
	validates   map[rowguard.Operation][]Definition
}

// Compile validates the schema and builds lookup buckets. All structural
// problems surface here as *rowguard.SchemaInvalidError; nothing is checked
// again on the decision path.
func Compile(schema Schema) (*Registry, error) {
	reg := &Registry{tables: make(map[string]*tableIndex, len(schema))}

	for table, cfg := range schema {
		if table == "" {
			return nil, &rowguard.SchemaInvalidError{Detail: "empty table name"}
		}

		idx, err := compileTable(table, cfg)
		if err != nil {
			return nil, err
		}

		reg.tables[table] = idx
	}

	return reg, nil
}

// MustCompile is Compile that panics on an invalid schema, for schemas
// declared in code at startup.
func MustCompile(schema Schema) *Registry {
	reg, err := Compile(schema)
	if err != nil {
		panic(err)
	}

	return reg
}

func compileTable(table string, cfg TableConfig) (*tableIndex, error) {
	idx := &tableIndex{
		defaultDeny: !cfg.AllowByDefault,
		skipFor:     make(map[string]struct{}, len(cfg.SkipFor)),
		columns:     make(map[string]struct{}, len(cfg.Columns)),
		allows:      map[rowguard.Operation][]Definition{},
		denies:      map[rowguard.Operation][]Definition{},
		validates:   map[rowguard.Operation][]Definition{},
	}

	for _, role := range cfg.SkipFor {
		if role == "" {
			return nil, &rowguard.SchemaInvalidError{Table: table, Detail: "empty role in skip_for"}
		}

		if _, dup := idx.skipFor[role]; dup {
			return nil, &rowguard.SchemaInvalidError{Table: table, Detail: "duplicate role " + role + " in skip_for"}
		}

		idx.skipFor[role] = struct{}{}
		idx.skipRoles = append(idx.skipRoles, role)
	}

	for _, col := range cfg.Columns {
		if !validIdent(col) {
			return nil, &rowguard.SchemaInvalidError{Table: table, Detail: "invalid column name " + col}
		}

		if _, dup := idx.columns[col]; dup {
			return nil, &rowguard.SchemaInvalidError{Table: table, Detail: "duplicate column " + col}
		}

		idx.columns[col] = struct{}{}
		idx.columnList = append(idx.columnList, col)
	}

	type bucketKey struct {
		typ Type
		op  rowguard.Operation
		nm  string
	}

	seen := map[bucketKey]struct{}{}

	for _, def := range cfg.Policies {
		def, err := compileDefinition(table, def)
		if err != nil {
			return nil, err
		}

		for _, op := range def.Operations {
			key := bucketKey{typ: def.Type, op: op, nm: def.Name}
			if _, dup := seen[key]; dup {
				return nil, &rowguard.SchemaInvalidError{
					Table: table, PolicyName: def.Name,
					Detail: "duplicate policy name in " + string(def.Type) + "/" + string(op) + " bucket",
				}
			}

			seen[key] = struct{}{}
		}

		switch def.Type {
		case TypeFilter:
			idx.filters = append(idx.filters, def)
		case TypeAllow:
			appendByOp(idx.allows, def)
		case TypeDeny:
			appendByOp(idx.denies, def)
		case TypeValidate:
			appendByOp(idx.validates, def)
		}
	}

	sortByPriority(idx.filters)

	for _, bucket := range []map[rowguard.Operation][]Definition{idx.allows, idx.denies, idx.validates} {
		for op := range bucket {
			sortByPriority(bucket[op])
		}
	}

	return idx, nil
}

func compileDefinition(table string, def Definition) (Definition, error) {
	fail := func(detail string) (Definition, error) {
		return Definition{}, &rowguard.SchemaInvalidError{Table: table, PolicyName: def.Name, Detail: detail}
	}

	if def.Name == "" {
		return fail("policy name is required")
	}

	if len(def.Operations) == 0 {
		return fail("policy targets no operations")
	}

	for _, op := range def.Operations {
		if !op.Valid() {
			return fail("unknown operation " + string(op))
		}
	}

	switch def.Type {
	case TypeFilter:
		for _, op := range def.Operations {
			if op != rowguard.OpRead {
				return fail("filter policy targets non-read operation " + string(op))
			}
		}

		if def.Condition != nil {
			return fail("filter policy declares a boolean condition; filters must produce conditions synchronously")
		}

		if def.Filter == nil && def.FilterExpr == "" {
			return fail("filter policy has no conditions function")
		}

		if def.FilterExpr != "" {
			if def.Filter != nil {
				return fail("filter policy declares both a function and an expression")
			}

			fn, err := compileFilterExpr(def.FilterExpr)
			if err != nil {
				return fail("invalid filter expression: " + err.Error())
			}

			def.Filter = fn
		}
	case TypeValidate:
		for _, op := range def.Operations {
			if op != rowguard.OpCreate && op != rowguard.OpUpdate {
				return fail("validate policy targets " + string(op) + "; only create/update are valid")
			}
		}

		if err := requireCondition(&def); err != nil {
			return fail(err.Error())
		}
	case TypeAllow, TypeDeny:
		if err := requireCondition(&def); err != nil {
			return fail(err.Error())
		}
	default:
		return fail("unknown policy type " + string(def.Type))
	}

	// Expand "all" so decision-time lookup is a plain map hit.
	if def.Type != TypeFilter && lo.Contains(def.Operations, rowguard.OpAll) {
		def.Operations = rowguard.Operations()
		if def.Type == TypeValidate {
			def.Operations = []rowguard.Operation{rowguard.OpCreate, rowguard.OpUpdate}
		}
	}

	return def, nil
}

func requireCondition(def *Definition) error {
	if def.Filter != nil || def.FilterExpr != "" {
		return errFilterOnBoolean
	}

	if def.Condition == nil && def.Expr == "" {
		return errNoCondition
	}

	if def.Expr != "" {
		if def.Condition != nil {
			return errBothConditions
		}

		fn, err := compileCondExpr(def.Expr)
		if err != nil {
			return err
		}

		def.Condition = fn
	}

	return nil
}

func appendByOp(bucket map[rowguard.Operation][]Definition, def Definition) {
	for _, op := range def.Operations {
		bucket[op] = append(bucket[op], def)
	}
}

func sortByPriority(defs []Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].Priority < defs[j].Priority
	})
}

// validIdent accepts plain SQL identifiers only, closing the door on
// stringly-typed "table.column" injection through dynamic column names.
func validIdent(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}

	return true
}

func (r *Registry) table(name string) *tableIndex {
	return r.tables[name]
}

// HasTable reports whether any policies are registered for the table.
func (r *Registry) HasTable(table string) bool {
	_, ok := r.tables[table]
	return ok
}

// Filters returns the read filter policies for the table, priority-ordered.
// Unregistered tables yield an empty slice, never nil semantics surprises.
func (r *Registry) Filters(table string) []Definition {
	idx := r.table(table)
	if idx == nil {
		return []Definition{}
	}

	return idx.filters
}

// Allows returns the allow policies for the table and operation.
func (r *Registry) Allows(table string, op rowguard.Operation) []Definition {
	return r.bucket(table, op, func(idx *tableIndex) map[rowguard.Operation][]Definition { return idx.allows })
}

// Denies returns the deny policies for the table and operation.
func (r *Registry) Denies(table string, op rowguard.Operation) []Definition {
	return r.bucket(table, op, func(idx *tableIndex) map[rowguard.Operation][]Definition { return idx.denies })
}

// Validates returns the validate policies for the table and operation.
func (r *Registry) Validates(table string, op rowguard.Operation) []Definition {
	return r.bucket(table, op, func(idx *tableIndex) map[rowguard.Operation][]Definition { return idx.validates })
}

func (r *Registry) bucket(table string, op rowguard.Operation, pick func(*tableIndex) map[rowguard.Operation][]Definition) []Definition {
	idx := r.table(table)
	if idx == nil {
		return []Definition{}
	}

	defs := pick(idx)[op]
	if defs == nil {
		return []Definition{}
	}

	return defs
}

// SkipFor returns the roles exempt from enforcement on the table.
func (r *Registry) SkipFor(table string) []string {
	idx := r.table(table)
	if idx == nil {
		return []string{}
	}

	return idx.skipRoles
}

// SkipsRole reports whether the role is exempt on the table.
func (r *Registry) SkipsRole(table, role string) bool {
	idx := r.table(table)
	if idx == nil {
		return false
	}

	_, ok := idx.skipFor[role]

	return ok
}

// DefaultDeny reports whether unmatched operations on the table are denied.
func (r *Registry) DefaultDeny(table string) bool {
	idx := r.table(table)
	if idx == nil {
		return false
	}

	return idx.defaultDeny
}

// Columns returns the table's closed column enumeration; empty means open.
func (r *Registry) Columns(table string) []string {
	idx := r.table(table)
	if idx == nil {
		return []string{}
	}

	return idx.columnList
}

// AllowsColumn reports whether a filter may reference the column. An empty
// enumeration leaves the set open.
func (r *Registry) AllowsColumn(table, column string) bool {
	idx := r.table(table)
	if idx == nil {
		return false
	}

	if len(idx.columns) == 0 {
		return validIdent(column)
	}

	_, ok := idx.columns[column]

	return ok
}
