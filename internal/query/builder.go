package query

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderClause represents a single column ordering directive.
type OrderClause struct {
	Column    string // Validated column name.
	Direction string // "ASC" or "DESC".
}

// String returns the SQL fragment for this order clause, e.g. "name DESC".
func (o OrderClause) String() string {
	return o.Column + " " + o.Direction
}

// ParseOrderClause parses an order string like "create_date desc, name" into
// validated clauses. Each element is "column [asc|desc]"; direction defaults
// to ASC and is case-insensitive.
func ParseOrderClause(order string) ([]OrderClause, error) {
	order = strings.TrimSpace(order)
	if order == "" {
		return nil, nil
	}

	parts := strings.Split(order, ",")
	clauses := make([]OrderClause, 0, len(parts))

	for _, part := range parts {
		tokens := strings.Fields(part)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) > 2 {
			return nil, fmt.Errorf("invalid order clause %q: expected 'column [asc|desc]'", strings.TrimSpace(part))
		}

		col := tokens[0]
		if err := ValidateIdentifier(col); err != nil {
			return nil, fmt.Errorf("invalid order column: %w", err)
		}

		dir := "ASC"
		if len(tokens) == 2 {
			switch d := strings.ToUpper(tokens[1]); d {
			case "ASC", "DESC":
				dir = d
			default:
				return nil, fmt.Errorf("invalid order direction %q: must be asc or desc", tokens[1])
			}
		}

		clauses = append(clauses, OrderClause{Column: col, Direction: dir})
	}

	if len(clauses) == 0 {
		return nil, nil
	}
	return clauses, nil
}

// BuildOrderSQL builds an ORDER BY SQL fragment from order clauses, applying
// the given quote function to column names.
func BuildOrderSQL(clauses []OrderClause, quoteFn func(string) string) string {
	if len(clauses) == 0 {
		return ""
	}
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = quoteFn(c.Column) + " " + c.Direction
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// SplitList splits a comma-separated parameter like "id,name,email" into
// trimmed, de-duplicated, non-empty items in their original order. It
// returns nil for an empty input.
func SplitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseIDList parses a comma-separated list of positive integer ids.
func ParseIDList(s string) ([]int64, error) {
	items := SplitList(s)
	if len(items) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
