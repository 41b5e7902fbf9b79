// Package postgres is the PostgreSQL record source connector.
package postgres

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/porticoapi/portico/internal/connector"
)

// PostgresConnector implements connector.Connector for PostgreSQL databases.
type PostgresConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a new PostgresConnector with default settings.
func New() connector.Connector {
	return &PostgresConnector{schemaName: "public"}
}

// Connect establishes a connection to the PostgreSQL database using the
// provided configuration.
func (c *PostgresConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := connector.Open("pgx", cfg.DSN, cfg)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}
	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *PostgresConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for PostgreSQL.
func (c *PostgresConnector) DriverName() string { return "postgres" }

// QuoteIdentifier wraps a SQL identifier in double quotes.
func (c *PostgresConnector) QuoteIdentifier(name string) string {
	return connector.QuoteDouble(name)
}

// ParameterPlaceholder returns a numbered placeholder ($1, $2, ...).
func (c *PostgresConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// Paginate returns a LIMIT/OFFSET clause.
func (c *PostgresConnector) Paginate(limit, offset int) string {
	if limit <= 0 && offset > 0 {
		return fmt.Sprintf(" OFFSET %d", offset)
	}
	return connector.LimitOffsetClause(limit, offset)
}

// InsertStyle reports RETURNING support.
func (c *PostgresConnector) InsertStyle() connector.InsertStyle { return connector.InsertReturning }
