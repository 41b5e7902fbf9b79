package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Factory is a function that creates a new Connector instance.
type Factory func() Connector

// Registry manages connector factories and the live connection of every
// record source.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]Connector // keyed by source name
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]Connector),
	}
}

// RegisterDriver registers a connector factory for a driver type.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Drivers returns the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableDrivers()
}

// Open creates a connector for cfg.Driver and connects it without
// registering it. Used to test a source before saving it.
func (r *Registry) Open(cfg ConnectionConfig) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s (available: %v)", cfg.Driver, r.Drivers())
	}
	conn := factory()
	if err := conn.Connect(cfg); err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect creates a new connector for the given driver, connects it and
// registers it under sourceName, replacing any previous connection.
func (r *Registry) Connect(sourceName string, cfg ConnectionConfig) error {
	conn, err := r.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect source %q: %w", sourceName, err)
	}
	r.Attach(sourceName, conn)
	return nil
}

// Attach registers an already connected connector.
func (r *Registry) Attach(sourceName string, conn Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[sourceName]; ok && existing != conn {
		existing.Disconnect()
	}
	r.active[sourceName] = conn
}

// Get returns the connector for a source.
func (r *Registry) Get(sourceName string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.active[sourceName]
	if !ok {
		return nil, fmt.Errorf("source %q not found (available: %v)", sourceName, r.activeSources())
	}
	return conn, nil
}

// Disconnect removes and disconnects a source.
func (r *Registry) Disconnect(sourceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.active[sourceName]
	if !ok {
		return fmt.Errorf("source %q not found", sourceName)
	}

	err := conn.Disconnect()
	delete(r.active, sourceName)
	return err
}

// CloseAll disconnects all sources.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, conn := range r.active {
		conn.Disconnect()
		delete(r.active, name)
	}
}

// ListSources returns the names of connected sources, sorted.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeSources()
}

func (r *Registry) availableDrivers() []string {
	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}

func (r *Registry) activeSources() []string {
	names := make([]string, 0, len(r.active))
	for n := range r.active {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
