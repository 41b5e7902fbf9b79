package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
)

// columnRow holds one column of a table with its identity flag.
type columnRow struct {
	ColumnName string  `db:"COLUMN_NAME"`
	DataType   string  `db:"DATA_TYPE"`
	IsNullable string  `db:"IS_NULLABLE"`
	Default    *string `db:"COLUMN_DEFAULT"`
	IsIdentity bool    `db:"IS_IDENTITY"`
}

// fkRow maps a column to the table it references.
type fkRow struct {
	ColumnName      string `db:"COLUMN_NAME"`
	ReferencedTable string `db:"REFERENCED_TABLE_NAME"`
}

// ListTables returns the tables and views of the configured schema.
func (c *MSSQLConnector) ListTables(ctx context.Context) ([]string, error) {
	const query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 ORDER BY TABLE_NAME`

	var names []string
	if err := c.db.SelectContext(ctx, &names, query, c.schemaName); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// DescribeTable returns the fields of a table in ordinal order.
func (c *MSSQLConnector) DescribeTable(ctx context.Context, tableName string) ([]model.Field, error) {
	const colQuery = `SELECT c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE, c.COLUMN_DEFAULT,
			CAST(COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)),
				c.COLUMN_NAME, 'IsIdentity') AS bit) AS IS_IDENTITY
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`

	var columns []columnRow
	if err := c.db.SelectContext(ctx, &columns, colQuery, c.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("introspect columns for %q: %w", tableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q not found in schema %q", tableName, c.schemaName)
	}

	const fkQuery = `SELECT
			fk_col.name AS COLUMN_NAME,
			pk_tab.name AS REFERENCED_TABLE_NAME
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
		JOIN sys.tables fk_tab ON fkc.parent_object_id = fk_tab.object_id
		JOIN sys.columns fk_col ON fkc.parent_object_id = fk_col.object_id AND fkc.parent_column_id = fk_col.column_id
		JOIN sys.tables pk_tab ON fkc.referenced_object_id = pk_tab.object_id
		JOIN sys.schemas s ON fk_tab.schema_id = s.schema_id
		WHERE s.name = @p1 AND fk_tab.name = @p2`

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
		f := model.Field{
			Name:     col.ColumnName,
			Type:     mapMSSQLType(col.DataType),
			Required: col.IsNullable == "NO" && col.Default == nil && !col.IsIdentity,
			Readonly: col.IsIdentity,
			Default:  col.Default,
		}
		if rel, ok := relations[col.ColumnName]; ok {
			f.Type = connector.TypeMany2One
			f.Relation = rel
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// mapMSSQLType maps a SQL Server data type to a field type.
func mapMSSQLType(dataType string) string {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "int", "bigint":
		return connector.TypeInteger
	case "float", "real", "decimal", "numeric", "money", "smallmoney":
		return connector.TypeFloat
	case "varchar", "nvarchar", "char", "nchar", "uniqueidentifier":
		return connector.TypeChar
	case "text", "ntext", "xml":
		return connector.TypeText
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return connector.TypeDatetime
	case "date":
		return connector.TypeDate
	case "bit":
		return connector.TypeBoolean
	case "varbinary", "binary", "image":
		return connector.TypeBinary
	default:
		return connector.TypeChar
	}
}
