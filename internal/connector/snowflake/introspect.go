package snowflake

import (
	"context"
	"fmt"
	"strings"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
)

// columnRow holds one row of INFORMATION_SCHEMA.COLUMNS.
type columnRow struct {
	ColumnName string  `db:"COLUMN_NAME"`
	DataType   string  `db:"DATA_TYPE"`
	IsNullable string  `db:"IS_NULLABLE"`
	Default    *string `db:"COLUMN_DEFAULT"`
	Comment    *string `db:"COMMENT"`
}

// ListTables returns the tables and views of the configured schema.
func (c *SnowflakeConnector) ListTables(ctx context.Context) ([]string, error) {
	const query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME`

	var names []string
	if err := c.db.SelectContext(ctx, &names, query, c.schemaName); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// DescribeTable returns the fields of a table. Every field is reported
// readonly since Snowflake sources do not accept writes.
func (c *SnowflakeConnector) DescribeTable(ctx context.Context, tableName string) ([]model.Field, error) {
	const query = `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	var columns []columnRow
	if err := c.db.SelectContext(ctx, &columns, query, c.schemaName, tableName); err != nil {
		return nil, fmt.Errorf("introspect columns for %q: %w", tableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q not found in schema %q", tableName, c.schemaName)
	}

	fields := make([]model.Field, 0, len(columns))
	for _, col := range columns {
		f := model.Field{
			Name:     col.ColumnName,
			Type:     mapSnowflakeType(col.DataType),
			Required: col.IsNullable == "NO",
			Readonly: true,
			Default:  col.Default,
		}
		if col.Comment != nil {
			f.Description = *col.Comment
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// mapSnowflakeType maps a Snowflake data type to a field type.
func mapSnowflakeType(dataType string) string {
	switch strings.ToUpper(dataType) {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "BYTEINT":
		return connector.TypeInteger
	case "NUMBER", "DECIMAL", "NUMERIC", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "REAL":
		return connector.TypeFloat
	case "VARCHAR", "CHAR", "CHARACTER", "STRING":
		return connector.TypeChar
	case "TEXT":
		return connector.TypeText
	case "BOOLEAN":
		return connector.TypeBoolean
	case "DATE":
		return connector.TypeDate
	case "DATETIME", "TIMESTAMP", "TIMESTAMP_LTZ", "TIMESTAMP_NTZ", "TIMESTAMP_TZ":
		return connector.TypeDatetime
	case "BINARY", "VARBINARY":
		return connector.TypeBinary
	case "VARIANT", "OBJECT", "ARRAY":
		return connector.TypeJSON
	default:
		return connector.TypeChar
	}
}
