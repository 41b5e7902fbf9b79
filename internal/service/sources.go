package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/connector/sqlite"
	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/recordstore"
	"github.com/porticoapi/portico/internal/store"
)

// SourceManager connects record sources and mounts their tables as
// collections. Connections live in the registry under the source name.
type SourceManager struct {
	store    *store.Store
	registry *connector.Registry
	records  *recordstore.SQLStore
	logger   *slog.Logger
}

// NewSourceManager creates a SourceManager.
func NewSourceManager(st *store.Store, registry *connector.Registry, records *recordstore.SQLStore, logger *slog.Logger) *SourceManager {
	return &SourceManager{store: st, registry: registry, records: records, logger: logger}
}

// MountSystem exposes the identity directory of the system store.
func (m *SourceManager) MountSystem(ctx context.Context) error {
	conn := sqlite.Wrap(m.store.DB())
	if _, err := m.records.Mount(ctx, conn, recordstore.SystemMount()); err != nil {
		return err
	}
	m.registry.Attach(model.SystemSource, conn)
	return nil
}

// Declare saves sources declared in configuration, replacing stored
// sources of the same name.
func (m *SourceManager) Declare(ctx context.Context, sources []model.Source) error {
	for i := range sources {
		if err := m.store.SaveSource(ctx, &sources[i]); err != nil {
			return fmt.Errorf("declare source %q: %w", sources[i].Name, err)
		}
	}
	return nil
}

// MountAll connects and mounts every active stored source. A source that
// fails is logged and skipped; the others are still mounted. It returns the
// number of sources mounted.
func (m *SourceManager) MountAll(ctx context.Context) (int, error) {
	sources, err := m.store.ListSources(ctx)
	if err != nil {
		return 0, err
	}
	mounted := 0
	for _, src := range sources {
		if !src.IsActive {
			continue
		}
		n, err := m.Mount(ctx, src)
		if err != nil {
			m.logger.Error("failed to mount source", "source", src.Name, "driver", src.Driver, "error", err)
			continue
		}
		m.logger.Info("connected source", "source", src.Name, "driver", src.Driver, "collections", n)
		mounted++
	}
	return mounted, nil
}

// Mount connects one source and mounts its tables.
func (m *SourceManager) Mount(ctx context.Context, src model.Source) (int, error) {
	if err := m.registry.Connect(src.Name, connector.ConfigFromSource(src)); err != nil {
		return 0, err
	}
	conn, err := m.registry.Get(src.Name)
	if err != nil {
		return 0, err
	}
	n, err := m.records.Mount(ctx, conn, recordstore.Mount{
		Source:   src.Name,
		Prefix:   src.Prefix,
		Include:  src.Include,
		ReadOnly: src.ReadOnly,
	})
	if err != nil {
		m.registry.Disconnect(src.Name)
		return 0, err
	}
	return n, nil
}

// Unmount removes a source's collections and closes its connection.
func (m *SourceManager) Unmount(name string) {
	m.records.Unmount(name)
	m.registry.Disconnect(name)
}

// Test connects to src without mounting it and returns its tables.
func (m *SourceManager) Test(ctx context.Context, src model.Source) ([]string, error) {
	conn, err := m.registry.Open(connector.ConfigFromSource(src))
	if err != nil {
		return nil, err
	}
	defer conn.Disconnect()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn.ListTables(ctx)
}

// Ping checks every connected source and returns the failures by name.
func (m *SourceManager) Ping(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, name := range m.registry.ListSources() {
		conn, err := m.registry.Get(name)
		if err == nil {
			err = conn.Ping(ctx)
		}
		if err != nil {
			failures[name] = err
		}
	}
	return failures
}

// Close disconnects every source.
func (m *SourceManager) Close() {
	m.registry.CloseAll()
}

// ErrSourceNotFound is returned when a named source is not configured.
var ErrSourceNotFound = errors.New("source not found")

// Remove deletes a stored source and unmounts it.
func (m *SourceManager) Remove(ctx context.Context, name string) error {
	if err := m.store.DeleteSource(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
		}
		return err
	}
	m.Unmount(name)
	return nil
}
