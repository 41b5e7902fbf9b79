package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
)

// columnRow holds the result of querying information_schema.columns.
type columnRow struct {
	ColumnName  string  `db:"column_name"`
	IsNullable  string  `db:"is_nullable"`
	Default     *string `db:"column_default"`
	UDTName     string  `db:"udt_name"`
	IsIdentity  string  `db:"is_identity"`
	Description *string `db:"description"`
}

// fkRow maps a column to the table it references.
type fkRow struct {
	ColumnName      string `db:"column_name"`
	ReferencedTable string `db:"referenced_table"`
}

// ListTables returns the tables and views of the configured schema.
func (c *PostgresConnector) ListTables(ctx context.Context) ([]string, error) {
	const query = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`

	var names []string
	if err := c.db.SelectContext(ctx, &names, query, c.schemaName); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// DescribeTable returns the fields of a table in ordinal order. Column
// comments become field descriptions.
func (c *PostgresConnector) DescribeTable(ctx context.Context, tableName string) ([]model.Field, error) {
	const colQuery = `SELECT
			c.column_name,
			c.is_nullable,
			c.column_default,
			c.udt_name,
			c.is_identity,
			col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position) AS description
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	var columns []columnRow
	if err := c.db.SelectContext(ctx, &columns, colQuery, c.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("introspect columns for %q: %w", tableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q not found in schema %q", tableName, c.schemaName)
	}

	const fkQuery = `SELECT kcu.column_name, ccu.table_name AS referenced_table
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2`

	var fks []fkRow
	if err := c.db.SelectContext(ctx, &fks, fkQuery, c.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("introspect foreign keys for %q: %w", tableName, err)
	}
	relations := make(map[string]string, len(fks))
	for _, fk := range fks {
		relations[fk.ColumnName] = fk.ReferencedTable
	}

	fields := make([]model.Field, 0, len(columns))
	for _, col := range columns {
		generated := col.IsIdentity == "YES" ||
			(col.Default != nil && strings.HasPrefix(*col.Default, "nextval("))

		f := model.Field{
			Name:     col.ColumnName,
			Type:     mapPostgresType(col.UDTName),
			Required: col.IsNullable == "NO" && col.Default == nil && !generated,
			Readonly: generated,
			Default:  col.Default,
		}
		if col.Description != nil {
			f.Description = *col.Description
		}
		if rel, ok := relations[col.ColumnName]; ok {
			f.Type = connector.TypeMany2One
			f.Relation = rel
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// mapPostgresType maps a PostgreSQL UDT name to a field type.
func mapPostgresType(udtName string) string {
	switch strings.ToLower(udtName) {
	case "int2", "int4", "int8":
		return connector.TypeInteger
	case "float4", "float8", "numeric", "money":
		return connector.TypeFloat
	case "varchar", "bpchar", "char", "name", "citext", "uuid", "inet", "cidr", "macaddr":
		return connector.TypeChar
	case "text", "xml":
		return connector.TypeText
	case "bool":
		return connector.TypeBoolean
	case "date":
		return connector.TypeDate
	case "timestamp", "timestamptz":
		return connector.TypeDatetime
	case "json", "jsonb":
		return connector.TypeJSON
	case "bytea":
		return connector.TypeBinary
	default:
		return connector.TypeChar
	}
}
