package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/porticoapi/portico/internal/model"
)

// sourceRow is a flat struct that maps 1:1 to the sources table. The pool
// settings and include list are nested on model.Source.
type sourceRow struct {
	ID                int64     `db:"id"`
	Name              string    `db:"name"`
	Driver            string    `db:"driver"`
	DSN               string    `db:"dsn"`
	Prefix            string    `db:"prefix"`
	ReadOnly          bool      `db:"read_only"`
	IncludeJSON       string    `db:"include_json"`
	IsActive          bool      `db:"is_active"`
	MaxOpenConns      int       `db:"max_open_conns"`
	MaxIdleConns      int       `db:"max_idle_conns"`
	ConnMaxLifetimeMs int64     `db:"conn_max_lifetime_ms"`
	PrivateKeyPath    string    `db:"private_key_path"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func sourceRowFromModel(src *model.Source) (sourceRow, error) {
	include := src.Include
	if include == nil {
		include = []string{}
	}
	b, err := json.Marshal(include)
	if err != nil {
		return sourceRow{}, fmt.Errorf("marshal include: %w", err)
	}
	return sourceRow{
		ID:                src.ID,
		Name:              src.Name,
		Driver:            src.Driver,
		DSN:               src.DSN,
		Prefix:            src.Prefix,
		ReadOnly:          src.ReadOnly,
		IncludeJSON:       string(b),
		IsActive:          src.IsActive,
		MaxOpenConns:      src.Pool.MaxOpenConns,
		MaxIdleConns:      src.Pool.MaxIdleConns,
		ConnMaxLifetimeMs: src.Pool.ConnMaxLifetime.Milliseconds(),
		PrivateKeyPath:    src.PrivateKeyPath,
		CreatedAt:         src.CreatedAt,
		UpdatedAt:         src.UpdatedAt,
	}, nil
}

func (r sourceRow) toModel() (model.Source, error) {
	var include []string
	if r.IncludeJSON != "" {
		if err := json.Unmarshal([]byte(r.IncludeJSON), &include); err != nil {
			return model.Source{}, fmt.Errorf("unmarshal include: %w", err)
		}
	}
	if include == nil {
		include = []string{}
	}
	return model.Source{
		ID:       r.ID,
		Name:     r.Name,
		Driver:   r.Driver,
		DSN:      r.DSN,
		Prefix:   r.Prefix,
		ReadOnly: r.ReadOnly,
		Include:  include,
		IsActive: r.IsActive,
		Pool: model.PoolConfig{
			MaxOpenConns:    r.MaxOpenConns,
			MaxIdleConns:    r.MaxIdleConns,
			ConnMaxLifetime: time.Duration(r.ConnMaxLifetimeMs) * time.Millisecond,
		},
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		PrivateKeyPath: r.PrivateKeyPath,
	}, nil
}

// SaveSource inserts a source, or updates the existing one with the same
// name. ID, CreatedAt and UpdatedAt are populated on success.
func (s *Store) SaveSource(ctx context.Context, src *model.Source) error {
	if src.Name == model.SystemSource {
		return fmt.Errorf("source name %q is reserved", src.Name)
	}
	now := time.Now().UTC()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	if src.Pool == (model.PoolConfig{}) {
		src.Pool = model.DefaultPoolConfig()
	}

	row, err := sourceRowFromModel(src)
	if err != nil {
		return err
	}

	const q = `INSERT INTO sources
		(name, driver, dsn, prefix, read_only, include_json, is_active,
		 max_open_conns, max_idle_conns, conn_max_lifetime_ms, private_key_path,
		 created_at, updated_at)
		VALUES
		(:name, :driver, :dsn, :prefix, :read_only, :include_json, :is_active,
		 :max_open_conns, :max_idle_conns, :conn_max_lifetime_ms, :private_key_path,
		 :created_at, :updated_at)
		ON CONFLICT(name) DO UPDATE SET
			driver = excluded.driver, dsn = excluded.dsn, prefix = excluded.prefix,
			read_only = excluded.read_only, include_json = excluded.include_json,
			is_active = excluded.is_active, max_open_conns = excluded.max_open_conns,
			max_idle_conns = excluded.max_idle_conns,
			conn_max_lifetime_ms = excluded.conn_max_lifetime_ms,
			private_key_path = excluded.private_key_path,
			updated_at = excluded.updated_at`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("save source: %w", err)
	}

	saved, err := s.GetSourceByName(ctx, src.Name)
	if err != nil {
		return err
	}
	src.ID = saved.ID
	src.CreatedAt = saved.CreatedAt
	return nil
}

// GetSourceByName returns a source by its unique name.
func (s *Store) GetSourceByName(ctx context.Context, name string) (*model.Source, error) {
	var row sourceRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM sources WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get source by name: %w", err)
	}
	src, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// ListSources returns every configured source ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]model.Source, error) {
	var rows []sourceRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM sources ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	sources := make([]model.Source, 0, len(rows))
	for _, r := range rows {
		src, err := r.toModel()
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// DeleteSource removes a source by name.
func (s *Store) DeleteSource(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return requireRows(result, "delete source")
}
