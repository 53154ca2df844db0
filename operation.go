package rowguard

// Operation identifies the data access being authorized.
type Operation string

const (
	// OpRead reads rows from a table.
	OpRead Operation = "read"
	// OpCreate inserts new rows.
	OpCreate Operation = "create"
	// OpUpdate modifies existing rows.
	OpUpdate Operation = "update"
	// OpDelete removes existing rows.
	OpDelete Operation = "delete"
	// OpAll matches every operation. Only valid as a policy target,
	// never as the operation of an actual decision.
	OpAll Operation = "all"
)

// Operations lists the concrete operations a decision can be made for.
func Operations() []Operation {
	return []Operation{OpRead, OpCreate, OpUpdate, OpDelete}
}

// Valid reports whether o is a known operation, including OpAll.
func (o Operation) Valid() bool {
	switch o {
	case OpRead, OpCreate, OpUpdate, OpDelete, OpAll:
		return true
	default:
		return false
	}
}

// Concrete reports whether o is an operation a decision can target.
func (o Operation) Concrete() bool {
	return o.Valid() && o != OpAll
}

// Matches reports whether a policy targeting o applies to target.
func (o Operation) Matches(target Operation) bool {
	return o == OpAll || o == target
}

// IsMutation reports whether o changes data.
func (o Operation) IsMutation() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}
