package recordstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/query"
)

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Search returns the ids of the records matching q that the actor may read.
// Results are ordered by q.Order with id as the final tie-breaker, or by id
// alone.
func (s *SQLStore) Search(ctx context.Context, actor Actor, name string, q Query) ([]int64, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	if err := checkClause(c, q.Where); err != nil {
		return nil, err
	}
	rules, err := s.rowClause(ctx, actor, c, model.OpRead)
	if err != nil {
		return nil, err
	}

	order := make([]query.OrderClause, 0, len(q.Order)+1)
	for _, o := range q.Order {
		if !c.fields.Has(o.Column) {
			return nil, fmt.Errorf("order: %w: %s", ErrUnknownField, o.Column)
		}
		order = append(order, o)
	}
	if !slices.ContainsFunc(order, func(o query.OrderClause) bool { return o.Column == "id" }) {
		order = append(order, query.OrderClause{Column: "id", Direction: "ASC"})
	}

	sqlStr, args, err := query.Select(c.conn, query.SelectStmt{
		Table:   c.table,
		Columns: []string{"id"},
		Where:   query.And(q.Where, rules),
		Order:   order,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	if err := c.conn.DB().SelectContext(ctx, &ids, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	return ids, nil
}

// Count returns how many records matching where the actor may read.
func (s *SQLStore) Count(ctx context.Context, actor Actor, name string, where query.Clause) (int64, error) {
	c, err := s.collection(name)
	if err != nil {
		return 0, err
	}
	if err := checkClause(c, where); err != nil {
		return 0, err
	}
	rules, err := s.rowClause(ctx, actor, c, model.OpRead)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, c, query.And(where, rules))
}

func (s *SQLStore) count(ctx context.Context, c *collection, where query.Clause) (int64, error) {
	sqlStr, args, err := query.Count(c.conn, c.table, where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.conn.DB().GetContext(ctx, &n, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

// Read returns the requested fields of the given records, in the order of
// ids. id is always included; an empty field list reads every field. Ids
// that do not exist or are not readable yield ErrRecordNotFound.
func (s *SQLStore) Read(ctx context.Context, actor Actor, name string, ids []int64, fields []string) ([]Record, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	rules, err := s.rowClause(ctx, actor, c, model.OpRead)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	columns := []string{"id"}
	if len(fields) == 0 {
		fields = c.fields.Names()
	}
	for _, f := range fields {
		if !c.fields.Has(f) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
		}
		if !slices.Contains(columns, f) {
			columns = append(columns, f)
		}
	}

	sqlStr, args, err := query.Select(c.conn, query.SelectStmt{
		Table:   c.table,
		Columns: columns,
		Where:   query.And(idClause(ids), rules),
	})
	if err != nil {
		return nil, err
	}

	rows, err := c.conn.DB().QueryxContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	defer rows.Close()

	byID := make(map[int64]Record, len(ids))
	for rows.Next() {
		raw := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		rec := make(Record, len(raw))
		for col, v := range raw {
			f, _ := c.fields.Get(col)
			rec[col] = readValue(f, v)
		}
		id, ok := toInt64(rec["id"])
		if !ok {
			return nil, fmt.Errorf("read %s: id has unexpected type %T", name, rec["id"])
		}
		byID[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	out := make([]Record, 0, len(ids))
	var missing []string
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			missing = append(missing, fmt.Sprint(id))
			continue
		}
		out = append(out, rec)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrRecordNotFound, name, strings.Join(missing, ", "))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Create inserts one record and returns its id.
func (s *SQLStore) Create(ctx context.Context, actor Actor, name string, values map[string]interface{}) (int64, error) {
	c, err := s.collection(name)
	if err != nil {
		return 0, err
	}
	if c.readOnly {
		return 0, fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	if err := s.CheckAccess(ctx, actor, name, model.OpCreate); err != nil {
		return 0, err
	}
	row, err := prepareValues(c, values, true)
	if err != nil {
		return 0, err
	}

	sqlStr, args, err := query.Insert(c.conn, c.table, row, "id")
	if err != nil {
		return 0, err
	}
	db := c.conn.DB()
	var id int64
	if c.conn.InsertStyle() == connector.InsertLastID {
		result, err := db.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return 0, fmt.Errorf("create %s: %w", name, err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return 0, fmt.Errorf("create %s: %w", name, err)
		}
	} else if err := db.QueryRowxContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("create %s: %w", name, err)
	}
	return id, nil
}

// Write applies values to every record in ids. All ids must exist and be
// writable by the actor, otherwise nothing is changed.
func (s *SQLStore) Write(ctx context.Context, actor Actor, name string, ids []int64, values map[string]interface{}) error {
	c, err := s.collection(name)
	if err != nil {
		return err
	}
	if c.readOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	rules, err := s.rowClause(ctx, actor, c, model.OpWrite)
	if err != nil {
		return err
	}
	row, err := prepareValues(c, values, false)
	if err != nil {
		return err
	}
	if err := s.requireRows(ctx, c, ids, rules); err != nil {
		return err
	}

	sqlStr, args, err := query.Update(c.conn, c.table, row, query.And(idClause(ids), rules))
	if err != nil {
		return err
	}
	if _, err := c.conn.DB().ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// requireRows checks that every id exists and satisfies rules. Rows that
// exist but fall outside the rules are an access failure.
func (s *SQLStore) requireRows(ctx context.Context, c *collection, ids []int64, rules query.Clause) error {
	unique := slices.Compact(slices.Sorted(slices.Values(ids)))
	if len(unique) == 0 {
		return fmt.Errorf("%w: no ids given", ErrRecordNotFound)
	}
	n, err := s.count(ctx, c, query.And(idClause(unique), rules))
	if err != nil {
		return err
	}
	if n == int64(len(unique)) {
		return nil
	}
	if !rules.IsEmpty() {
		existing, err := s.count(ctx, c, idClause(unique))
		if err != nil {
			return err
		}
		if existing == int64(len(unique)) {
			return fmt.Errorf("write on %s: %w", c.name, ErrAccess)
		}
	}
	return fmt.Errorf("%w: %s", ErrRecordNotFound, c.name)
}

func idClause(ids []int64) query.Clause {
	return query.Clause{Conditions: []query.Condition{{Field: "id", Operator: "in", Value: ids}}}
}

// checkClause rejects conditions on fields the collection does not have.
func checkClause(c *collection, cl query.Clause) error {
	for _, cond := range cl.Conditions {
		if !c.fields.Has(cond.Field) {
			return fmt.Errorf("filter: %w: %s", ErrUnknownField, cond.Field)
		}
	}
	for _, g := range cl.Groups {
		if err := checkClause(c, g); err != nil {
			return err
		}
	}
	return nil
}

// prepareValues validates a payload against the collection's fields and
// converts JSON-decoded values to column values.
func prepareValues(c *collection, values map[string]interface{}, create bool) (map[string]interface{}, error) {
	if len(values) == 0 {
		return nil, ErrNoData
	}

	var unknown, readonly []string
	for name := range values {
		f, ok := c.fields.Get(name)
		switch {
		case !ok:
			unknown = append(unknown, name)
		case f.Readonly:
			readonly = append(readonly, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(unknown, ", "))
	}
	if len(readonly) > 0 {
		sort.Strings(readonly)
		return nil, fmt.Errorf("%w: %s", ErrReadonlyField, strings.Join(readonly, ", "))
	}

	if create {
		var missing []string
		for _, f := range c.fields.Fields {
			if v, ok := values[f.Name]; f.Required && (!ok || v == nil) {
				missing = append(missing, f.Name)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
		}
	}

	row := make(map[string]interface{}, len(values))
	for name, v := range values {
		f, _ := c.fields.Get(name)
		cv, err := writeValue(f, v)
		if err != nil {
			return nil, err
		}
		row[name] = cv
	}
	return row, nil
}

// IsValidation reports whether err is a payload or field validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{ErrUnknownField, ErrReadonlyField, ErrMissingRequired, ErrNoData, ErrInvalidValue} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
