package query

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/porticoapi/portico/internal/connector"
)

// ErrWriteUnsupported is returned by Insert for dialects that cannot write.
var ErrWriteUnsupported = errors.New("source does not support writes")

// Dialect is the part of a connector the statement builder needs.
type Dialect interface {
	QuoteIdentifier(name string) string
	ParameterPlaceholder(index int) string
	Paginate(limit, offset int) string
	InsertStyle() connector.InsertStyle
}

// Condition compares one column with a value. Operator is one of =, !=, <>,
// <, <=, >, >=, in, not in, like, ilike. A nil Value with = or != becomes
// IS NULL / IS NOT NULL; in and not in take a slice.
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
}

// Clause is a boolean group of conditions and nested clauses, joined by AND
// unless Or is set. An empty clause matches every row.
type Clause struct {
	Conditions []Condition
	Groups     []Clause
	Or         bool
}

// And returns a clause requiring every given clause.
func And(clauses ...Clause) Clause {
	return Clause{Groups: clauses}
}

// Eq is shorthand for an equality condition.
func Eq(field string, value interface{}) Condition {
	return Condition{Field: field, Operator: "=", Value: value}
}

// IsEmpty reports whether the clause has nothing to render.
func (c Clause) IsEmpty() bool {
	if len(c.Conditions) > 0 {
		return false
	}
	for _, g := range c.Groups {
		if !g.IsEmpty() {
			return false
		}
	}
	return true
}

// SelectStmt describes a SELECT against one table.
type SelectStmt struct {
	Table   string
	Columns []string // nil selects every column
	Where   Clause
	Order   []OrderClause
	Limit   int
	Offset  int
}

// writer accumulates SQL text and numbered bind arguments.
type writer struct {
	d    Dialect
	sb   strings.Builder
	args []interface{}
}

func (w *writer) bind(v interface{}) string {
	w.args = append(w.args, v)
	return w.d.ParameterPlaceholder(len(w.args))
}

func (w *writer) where(c Clause) error {
	if c.IsEmpty() {
		return nil
	}
	w.sb.WriteString(" WHERE ")
	return w.clause(c)
}

func (w *writer) clause(c Clause) error {
	joiner := " AND "
	if c.Or {
		joiner = " OR "
	}
	n := 0
	sep := func() {
		if n > 0 {
			w.sb.WriteString(joiner)
		}
		n++
	}
	for _, cond := range c.Conditions {
		sep()
		if err := w.condition(cond); err != nil {
			return err
		}
	}
	for _, g := range c.Groups {
		if g.IsEmpty() {
			continue
		}
		sep()
		w.sb.WriteByte('(')
		if err := w.clause(g); err != nil {
			return err
		}
		w.sb.WriteByte(')')
	}
	return nil
}

func (w *writer) condition(c Condition) error {
	col := w.d.QuoteIdentifier(c.Field)
	op := strings.ToLower(strings.TrimSpace(c.Operator))

	switch op {
	case "=", "!=", "<>":
		if c.Value == nil {
			if op == "=" {
				w.sb.WriteString(col + " IS NULL")
			} else {
				w.sb.WriteString(col + " IS NOT NULL")
			}
			return nil
		}
		if op == "!=" {
			op = "<>"
		}
		w.sb.WriteString(col + " " + op + " " + w.bind(c.Value))
	case "<", "<=", ">", ">=", "like":
		w.sb.WriteString(col + " " + strings.ToUpper(op) + " " + w.bind(c.Value))
	case "ilike":
		w.sb.WriteString("LOWER(" + col + ") LIKE LOWER(" + w.bind(c.Value) + ")")
	case "in", "not in":
		values, err := toSlice(c.Value)
		if err != nil {
			return fmt.Errorf("condition on %q: %w", c.Field, err)
		}
		if len(values) == 0 {
			// x IN () matches nothing; x NOT IN () matches everything.
			if op == "in" {
				w.sb.WriteString("1 = 0")
			} else {
				w.sb.WriteString("1 = 1")
			}
			return nil
		}
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = w.bind(v)
		}
		w.sb.WriteString(col + " " + strings.ToUpper(op) + " (" + strings.Join(ph, ", ") + ")")
	default:
		return fmt.Errorf("unsupported operator %q", c.Operator)
	}
	return nil
}

func toSlice(v interface{}) ([]interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("in/not in needs a list, got %T", v)
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func (w *writer) columns(cols []string) string {
	if len(cols) == 0 {
		return "*"
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = w.d.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// Select renders a SELECT with optional filtering, ordering and pagination.
func Select(d Dialect, s SelectStmt) (string, []interface{}, error) {
	w := &writer{d: d}
	w.sb.WriteString("SELECT " + w.columns(s.Columns) + " FROM " + d.QuoteIdentifier(s.Table))
	if err := w.where(s.Where); err != nil {
		return "", nil, err
	}
	w.sb.WriteString(BuildOrderSQL(s.Order, d.QuoteIdentifier))
	w.sb.WriteString(d.Paginate(s.Limit, s.Offset))
	return w.sb.String(), w.args, nil
}

// Count renders a SELECT COUNT(*) with the same filtering as Select.
func Count(d Dialect, table string, where Clause) (string, []interface{}, error) {
	w := &writer{d: d}
	w.sb.WriteString("SELECT COUNT(*) FROM " + d.QuoteIdentifier(table))
	if err := w.where(where); err != nil {
		return "", nil, err
	}
	return w.sb.String(), w.args, nil
}

// sortedKeys returns the keys of values in a stable order.
func sortedKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Insert renders an INSERT of one row. pk names the column whose generated
// value the statement should return, according to the dialect's InsertStyle.
func Insert(d Dialect, table string, values map[string]interface{}, pk string) (string, []interface{}, error) {
	if d.InsertStyle() == connector.InsertUnsupported {
		return "", nil, ErrWriteUnsupported
	}
	w := &writer{d: d}
	keys := sortedKeys(values)

	w.sb.WriteString("INSERT INTO " + d.QuoteIdentifier(table))
	if len(keys) > 0 {
		w.sb.WriteString(" (" + w.columns(keys) + ")")
	}
	if d.InsertStyle() == connector.InsertOutput {
		w.sb.WriteString(" OUTPUT INSERTED." + d.QuoteIdentifier(pk))
	}
	if len(keys) == 0 {
		w.sb.WriteString(" DEFAULT VALUES")
	} else {
		ph := make([]string, len(keys))
		for i, k := range keys {
			ph[i] = w.bind(values[k])
		}
		w.sb.WriteString(" VALUES (" + strings.Join(ph, ", ") + ")")
	}
	if d.InsertStyle() == connector.InsertReturning {
		w.sb.WriteString(" RETURNING " + d.QuoteIdentifier(pk))
	}
	return w.sb.String(), w.args, nil
}

// Update renders an UPDATE of the rows matching where.
func Update(d Dialect, table string, values map[string]interface{}, where Clause) (string, []interface{}, error) {
	if d.InsertStyle() == connector.InsertUnsupported {
		return "", nil, ErrWriteUnsupported
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("update of %q has no values", table)
	}
	w := &writer{d: d}
	keys := sortedKeys(values)

	sets := make([]string, len(keys))
	for i, k := range keys {
		sets[i] = d.QuoteIdentifier(k) + " = " + w.bind(values[k])
	}
	w.sb.WriteString("UPDATE " + d.QuoteIdentifier(table) + " SET " + strings.Join(sets, ", "))
	if err := w.where(where); err != nil {
		return "", nil, err
	}
	return w.sb.String(), w.args, nil
}
