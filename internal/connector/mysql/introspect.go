package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
)

// columnRow holds the result of querying information_schema.columns for MySQL.
type columnRow struct {
	ColumnName string  `db:"COLUMN_NAME"`
	DataType   string  `db:"DATA_TYPE"`
	ColumnType string  `db:"COLUMN_TYPE"`
	IsNullable string  `db:"IS_NULLABLE"`
	Default    *string `db:"COLUMN_DEFAULT"`
	Extra      string  `db:"EXTRA"`
	Comment    string  `db:"COLUMN_COMMENT"`
}

// fkRow maps a column to the table it references.
type fkRow struct {
	ColumnName      string `db:"COLUMN_NAME"`
	ReferencedTable string `db:"REFERENCED_TABLE_NAME"`
}

// ListTables returns the tables and views of the current database.
func (c *MySQLConnector) ListTables(ctx context.Context) ([]string, error) {
	const query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME`

	var names []string
	if err := c.db.SelectContext(ctx, &names, query, c.schemaName); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// DescribeTable returns the fields of a table in ordinal order.
func (c *MySQLConnector) DescribeTable(ctx context.Context, tableName string) ([]model.Field, error) {
	const colQuery = `SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE,
			COLUMN_DEFAULT, EXTRA, COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	var columns []columnRow
	if err := c.db.SelectContext(ctx, &columns, colQuery, c.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("introspect columns for %q: %w", tableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q not found in schema %q", tableName, c.schemaName)
	}

	const fkQuery = `SELECT COLUMN_NAME, REFERENCED_TABLE_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL`

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
		auto := strings.Contains(strings.ToLower(col.Extra), "auto_increment")
		f := model.Field{
			Name:        col.ColumnName,
			Type:        mapMySQLType(col.DataType, col.ColumnType),
			Required:    col.IsNullable == "NO" && col.Default == nil && !auto,
			Readonly:    auto,
			Description: col.Comment,
			Default:     col.Default,
		}
		if rel, ok := relations[col.ColumnName]; ok {
			f.Type = connector.TypeMany2One
			f.Relation = rel
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// mapMySQLType maps a MySQL data type to a field type. tinyint(1) is the
// conventional boolean.
func mapMySQLType(dataType, columnType string) string {
	lower := strings.ToLower(dataType)

	if lower == "tinyint" && strings.Contains(strings.ToLower(columnType), "tinyint(1)") {
		return connector.TypeBoolean
	}

	switch lower {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		return connector.TypeInteger
	case "float", "double", "decimal", "numeric":
		return connector.TypeFloat
	case "varchar", "char", "enum", "set":
		return connector.TypeChar
	case "text", "tinytext", "mediumtext", "longtext":
		return connector.TypeText
	case "datetime", "timestamp":
		return connector.TypeDatetime
	case "date":
		return connector.TypeDate
	case "json":
		return connector.TypeJSON
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary", "bit":
		return connector.TypeBinary
	default:
		return connector.TypeChar
	}
}
