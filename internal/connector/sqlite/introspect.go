package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
)

// tableInfoRow holds a row from PRAGMA table_info().
type tableInfoRow struct {
	CID     int     `db:"cid"`
	Name    string  `db:"name"`
	Type    string  `db:"type"`
	NotNull int     `db:"notnull"`
	Default *string `db:"dflt_value"`
	PK      int     `db:"pk"`
}

// foreignKeyRow holds a row from PRAGMA foreign_key_list().
type foreignKeyRow struct {
	ID       int    `db:"id"`
	Seq      int    `db:"seq"`
	Table    string `db:"table"`
	From     string `db:"from"`
	To       string `db:"to"`
	OnUpdate string `db:"on_update"`
	OnDelete string `db:"on_delete"`
	Match    string `db:"match"`
}

// ListTables returns the names of all tables and views.
func (c *SQLiteConnector) ListTables(ctx context.Context) ([]string, error) {
	const query = `SELECT name FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	var names []string
	if err := c.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// DescribeTable returns the fields of a table in column order.
func (c *SQLiteConnector) DescribeTable(ctx context.Context, tableName string) ([]model.Field, error) {
	pragmaQuery := fmt.Sprintf("PRAGMA table_info(%s)", c.QuoteIdentifier(tableName))
	var columns []tableInfoRow
	if err := c.db.SelectContext(ctx, &columns, pragmaQuery); err != nil {
		return nil, fmt.Errorf("table_info for %q: %w", tableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q not found", tableName)
	}

	fkQuery := fmt.Sprintf("PRAGMA foreign_key_list(%s)", c.QuoteIdentifier(tableName))
	var fkRows []foreignKeyRow
	if err := c.db.SelectContext(ctx, &fkRows, fkQuery); err != nil {
		return nil, fmt.Errorf("foreign_key_list for %q: %w", tableName, err)
	}
	relations := make(map[string]string, len(fkRows))
	for _, fk := range fkRows {
		relations[fk.From] = fk.Table
	}

	pkCount := 0
	for _, col := range columns {
		if col.PK > 0 {
			pkCount++
		}
	}

	fields := make([]model.Field, 0, len(columns))
	for _, col := range columns {
		// A lone INTEGER PRIMARY KEY aliases the rowid and is assigned by SQLite.
		rowid := col.PK > 0 && pkCount == 1 && strings.EqualFold(strings.TrimSpace(col.Type), "INTEGER")

		f := model.Field{
			Name:     col.Name,
			Type:     mapSQLiteType(col.Type),
			Required: col.NotNull == 1 && col.Default == nil && !rowid,
			Readonly: rowid,
			Default:  col.Default,
		}
		if rel, ok := relations[col.Name]; ok {
			f.Type = connector.TypeMany2One
			f.Relation = rel
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// mapSQLiteType maps a declared column type to a field type using SQLite's
// type affinity rules (https://sqlite.org/datatype3.html).
func mapSQLiteType(typeName string) string {
	upper := strings.ToUpper(strings.TrimSpace(typeName))

	// Strip parenthesized length/precision (e.g., VARCHAR(255) -> VARCHAR)
	if idx := strings.IndexByte(upper, '('); idx >= 0 {
		upper = strings.TrimSpace(upper[:idx])
	}

	switch {
	case strings.Contains(upper, "INT"):
		return connector.TypeInteger
	case strings.Contains(upper, "CHAR"):
		return connector.TypeChar
	case strings.Contains(upper, "CLOB"),
		strings.Contains(upper, "TEXT"):
		return connector.TypeText
	case strings.Contains(upper, "BLOB") || upper == "":
		return connector.TypeBinary
	case strings.Contains(upper, "REAL"),
		strings.Contains(upper, "FLOA"),
		strings.Contains(upper, "DOUB"),
		strings.Contains(upper, "NUMERIC"),
		strings.Contains(upper, "DECIMAL"):
		return connector.TypeFloat
	case strings.Contains(upper, "BOOL"):
		return connector.TypeBoolean
	case upper == "DATE":
		return connector.TypeDate
	case strings.Contains(upper, "DATE"),
		strings.Contains(upper, "TIME"):
		return connector.TypeDatetime
	case strings.Contains(upper, "JSON"):
		return connector.TypeJSON
	default:
		return connector.TypeChar
	}
}
