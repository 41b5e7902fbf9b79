// Package mssql is the SQL Server record source connector.
package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/porticoapi/portico/internal/connector"
)

// MSSQLConnector implements connector.Connector for SQL Server databases.
type MSSQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new MSSQLConnector with default settings.
func New() connector.Connector {
	return &MSSQLConnector{schemaName: "dbo"}
}

// Connect establishes a connection to the SQL Server database using the
// provided configuration.
func (c *MSSQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := connector.Open("sqlserver", cfg.DSN, cfg)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}
	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}
	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "mssql" }

// QuoteIdentifier wraps a SQL identifier in brackets, escaping any
// embedded closing brackets.
func (c *MSSQLConnector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// ParameterPlaceholder returns a numbered placeholder (@p1, @p2, ...).
func (c *MSSQLConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// Paginate returns an OFFSET/FETCH clause. The statement must already carry
// an ORDER BY.
func (c *MSSQLConnector) Paginate(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" OFFSET %d ROWS", offset)
	if limit > 0 {
		clause += fmt.Sprintf(" FETCH NEXT %d ROWS ONLY", limit)
	}
	return clause
}

// InsertStyle reports that new ids come from OUTPUT INSERTED.
func (c *MSSQLConnector) InsertStyle() connector.InsertStyle { return connector.InsertOutput }
