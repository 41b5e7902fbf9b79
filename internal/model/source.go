package model

import "time"

// SystemSource is the name of the built-in source backed by the system store.
const SystemSource = "system"

// Source is a database whose tables are exposed as collections.
type Source struct {
	ID        int64      `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Driver    string     `json:"driver" db:"driver"` // sqlite, postgres, mysql, mssql, snowflake
	DSN       string     `json:"dsn,omitempty" db:"dsn"`
	Prefix    string     `json:"prefix" db:"prefix"`
	ReadOnly  bool       `json:"read_only" db:"read_only"`
	Include   []string   `json:"include"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	Pool      PoolConfig `json:"pool"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`

	// PrivateKeyPath enables key-pair auth for drivers that support it.
	PrivateKeyPath string `json:"private_key_path,omitempty" db:"private_key_path"`
}

// PoolConfig controls the connection pool of a source.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultPoolConfig returns the pool settings used when a source sets none.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}
