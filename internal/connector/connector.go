package connector

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/porticoapi/portico/internal/model"
)

// Field types reported by DescribeTable.
const (
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeChar     = "char"
	TypeText     = "text"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeBinary   = "binary"
	TypeJSON     = "json"
	TypeMany2One = "many2one"
)

// ConnectionConfig holds database connection parameters.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	SchemaName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PrivateKeyPath  string // PEM-encoded private key for Snowflake key-pair auth
}

// ConfigFromSource builds a ConnectionConfig from a stored source.
func ConfigFromSource(src model.Source) ConnectionConfig {
	return ConnectionConfig{
		Driver:          src.Driver,
		DSN:             SanitizeDSN(src.Driver, src.DSN),
		MaxOpenConns:    src.Pool.MaxOpenConns,
		MaxIdleConns:    src.Pool.MaxIdleConns,
		ConnMaxLifetime: src.Pool.ConnMaxLifetime,
		PrivateKeyPath:  src.PrivateKeyPath,
	}
}

// InsertStyle tells the record store how to recover the id of a new row.
type InsertStyle int

const (
	// InsertReturning appends RETURNING <pk> (SQLite, PostgreSQL).
	InsertReturning InsertStyle = iota
	// InsertOutput places OUTPUT INSERTED.<pk> before VALUES (SQL Server).
	InsertOutput
	// InsertLastID reads sql.Result.LastInsertId (MySQL).
	InsertLastID
	// InsertUnsupported marks drivers served read-only (Snowflake).
	InsertUnsupported
)

// Connector is the interface that all database connectors must implement.
type Connector interface {
	// Connection management
	Connect(cfg ConnectionConfig) error
	Disconnect() error
	Ping(ctx context.Context) error
	DB() *sqlx.DB

	// Introspection
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]model.Field, error)

	// Dialect
	DriverName() string
	QuoteIdentifier(name string) string
	ParameterPlaceholder(index int) string
	Paginate(limit, offset int) string
	InsertStyle() InsertStyle
}

// Open connects with the given database/sql driver and applies the pool
// settings from cfg.
func Open(driverName, dsn string, cfg ConnectionConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return db, nil
}

// QuoteDouble wraps an identifier in double quotes, doubling embedded quotes.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// LimitOffsetClause is the LIMIT/OFFSET pagination shared by most dialects.
func LimitOffsetClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		if limit <= 0 {
			// MySQL and SQLite need a LIMIT before OFFSET.
			b.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

// SanitizeDSN ensures that URL-style DSNs (postgres://, sqlserver://) have
// their userinfo (especially the password) properly percent-encoded. Raw
// passwords containing @, #, % or other URL-special characters make the URL
// parser mis-split the authority component.
//
// MySQL DSNs are normalized to use the tcp() wrapper required by go-sql-driver.
// Snowflake uses its own non-URL DSN format and is returned unchanged.
func SanitizeDSN(driver, dsn string) string {
	switch driver {
	case "postgres", "mssql":
		return sanitizeURLDSN(dsn)
	case "mysql":
		return sanitizeMySQLDSN(dsn)
	default:
		return dsn
	}
}

// mysqlBareHostPort matches "user:pass@host:port/db" (no tcp() wrapper).
var mysqlBareHostPort = regexp.MustCompile(`^(.+)@([^(@]+:\d+)(/.*)?$`)

// sanitizeMySQLDSN rewrites the common shorthand forms
//
//	user:pass@host:port/db
//	user:pass@(host:port)/db
//
// into user:pass@tcp(host:port)/db.
func sanitizeMySQLDSN(dsn string) string {
	if cfg, err := mysqldriver.ParseDSN(dsn); err == nil && (cfg.Net == "tcp" || cfg.Net == "unix") {
		return cfg.FormatDSN()
	}

	if idx := strings.LastIndex(dsn, "@("); idx >= 0 {
		fixed := dsn[:idx] + "@tcp" + dsn[idx+1:]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	if m := mysqlBareHostPort.FindStringSubmatch(dsn); m != nil {
		fixed := m[1] + "@tcp(" + m[2] + ")" + m[3]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	return dsn
}

// sanitizeURLDSN re-encodes the user and password of a scheme:// DSN so the
// URL library can parse it unambiguously.
func sanitizeURLDSN(dsn string) string {
	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd < 0 {
		return dsn
	}

	scheme := dsn[:schemeEnd]
	rest := dsn[schemeEnd+3:]

	query := ""
	if qi := strings.IndexByte(rest, '?'); qi >= 0 {
		query = rest[qi:]
		rest = rest[:qi]
	}

	// The last '@' separates userinfo from host.
	atIdx := strings.LastIndex(rest, "@")
	if atIdx < 0 {
		return dsn
	}

	userinfo := rest[:atIdx]
	hostpath := rest[atIdx+1:]

	user := userinfo
	pass := ""
	if ci := strings.IndexByte(userinfo, ':'); ci >= 0 {
		user = userinfo[:ci]
		pass = userinfo[ci+1:]
	}

	return scheme + "://" + url.PathEscape(user) + ":" + url.PathEscape(pass) + "@" + hostpath + query
}
