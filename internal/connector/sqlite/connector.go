// Package sqlite is the SQLite record source connector.
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/porticoapi/portico/internal/connector"
)

// SQLiteConnector implements connector.Connector for SQLite databases.
type SQLiteConnector struct {
	db       *sqlx.DB
	borrowed bool // db is owned by someone else; Disconnect leaves it open
}

// New creates a new SQLiteConnector with default settings.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Wrap serves an already open SQLite database, such as the system store,
// through the connector interface. Disconnect does not close db.
func Wrap(db *sqlx.DB) *SQLiteConnector {
	return &SQLiteConnector{db: db, borrowed: true}
}

// Connect opens the SQLite database file named by the DSN. The DSN is a file
// path or ":memory:"; query parameters like ?_journal_mode=WAL are passed
// through to the driver.
func (c *SQLiteConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := connector.Open("sqlite", cfg.DSN, cfg)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("sqlite enable foreign keys: %w", err)
	}
	c.db = db
	return nil
}

// Disconnect closes the database connection.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil && !c.borrowed {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

// QuoteIdentifier wraps a SQL identifier in double quotes.
func (c *SQLiteConnector) QuoteIdentifier(name string) string {
	return connector.QuoteDouble(name)
}

// ParameterPlaceholder returns "?"; SQLite ignores the index.
func (c *SQLiteConnector) ParameterPlaceholder(_ int) string {
	return "?"
}

// Paginate returns a LIMIT/OFFSET clause.
func (c *SQLiteConnector) Paginate(limit, offset int) string {
	return connector.LimitOffsetClause(limit, offset)
}

// InsertStyle reports RETURNING support (SQLite 3.35+).
func (c *SQLiteConnector) InsertStyle() connector.InsertStyle { return connector.InsertReturning }
