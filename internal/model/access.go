package model

// Operation is one of the four record operations an access rule can grant.
type Operation int

// Operation mask bits.
const (
	OpRead   Operation = 1
	OpCreate Operation = 2
	OpWrite  Operation = 4
	OpUnlink Operation = 8
	OpAll              = OpRead | OpCreate | OpWrite | OpUnlink
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpUnlink:
		return "unlink"
	}
	return "unknown"
}

// ParseOperation converts an operation name into its mask bit.
func ParseOperation(s string) (Operation, bool) {
	switch s {
	case "read":
		return OpRead, true
	case "create":
		return OpCreate, true
	case "write":
		return OpWrite, true
	case "unlink":
		return OpUnlink, true
	}
	return 0, false
}

// AnyCollection matches every collection in an access rule.
const AnyCollection = "*"

// IdentityPlaceholder in a filter value is replaced with the acting
// identity's id when the rule is applied.
const IdentityPlaceholder = "$identity"

// AccessRule grants a group a set of operations on a collection, optionally
// restricted to rows matching Filters.
type AccessRule struct {
	ID         int64     `json:"id" db:"id"`
	GroupID    int64     `json:"group_id" db:"group_id"`
	Collection string    `json:"collection" db:"collection"`
	OpMask     Operation `json:"op_mask" db:"op_mask"`
	Filters    []Filter  `json:"filters"`
	FilterOp   string    `json:"filter_op" db:"filter_op"` // AND or OR
}

// Allows reports whether the rule covers the operation on the collection.
func (a AccessRule) Allows(collection string, op Operation) bool {
	if a.OpMask&op == 0 {
		return false
	}
	return a.Collection == AnyCollection || a.Collection == collection
}

// Filter is a row-level predicate attached to an access rule.
type Filter struct {
	Name     string `json:"name"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}
