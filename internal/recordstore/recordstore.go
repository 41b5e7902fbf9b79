// Package recordstore exposes the tables of connected sources as named
// collections with generic CRUD, enforcing group-based access rules on every
// call.
package recordstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/query"
)

// Record is one row keyed by field name.
type Record map[string]interface{}

// Query selects record ids from a collection.
type Query struct {
	Where  query.Clause
	Order  []query.OrderClause
	Limit  int
	Offset int
}

// Store is the generic record store consumed by the service layer.
type Store interface {
	Collections(ctx context.Context, actor Actor) ([]string, error)
	Exists(collection string) bool
	FieldsOf(collection string) (*model.FieldSet, error)
	CheckAccess(ctx context.Context, actor Actor, collection string, op model.Operation) error
	Search(ctx context.Context, actor Actor, collection string, q Query) ([]int64, error)
	Count(ctx context.Context, actor Actor, collection string, where query.Clause) (int64, error)
	Read(ctx context.Context, actor Actor, collection string, ids []int64, fields []string) ([]Record, error)
	Create(ctx context.Context, actor Actor, collection string, values map[string]interface{}) (int64, error)
	Write(ctx context.Context, actor Actor, collection string, ids []int64, values map[string]interface{}) error
}

// RuleSource returns the access rules bound to a set of groups.
type RuleSource interface {
	RulesForGroups(ctx context.Context, groupIDs []int64) ([]model.AccessRule, error)
}

// Mount describes how the tables of one connection become collections.
type Mount struct {
	Source   string
	Prefix   string
	Include  []string // table names; empty mounts every table
	ReadOnly bool
	Hidden   []string // columns never exposed
}

// SystemMount exposes the identity directory of the system store.
func SystemMount() Mount {
	return Mount{
		Source:  model.SystemSource,
		Include: []string{"identities", "groups"},
		Hidden:  []string{"password_hash"},
	}
}

// readonlyColumns are never writable through the store.
var readonlyColumns = map[string]bool{"id": true, "created_at": true}

type collection struct {
	name     string
	source   string
	table    string
	conn     connector.Connector
	fields   *model.FieldSet
	readOnly bool
}

// SQLStore implements Store over connector-backed SQL databases.
type SQLStore struct {
	rules  RuleSource
	logger *slog.Logger

	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty SQLStore.
func New(rules RuleSource, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		rules:       rules,
		logger:      logger,
		collections: make(map[string]*collection),
	}
}

// Mount introspects conn and registers its tables as collections named
// prefix+table. Tables without an id column are skipped. It returns the
// number of collections mounted.
func (s *SQLStore) Mount(ctx context.Context, conn connector.Connector, m Mount) (int, error) {
	tables, err := conn.ListTables(ctx)
	if err != nil {
		return 0, fmt.Errorf("mount %s: list tables: %w", m.Source, err)
	}
	if len(m.Include) > 0 {
		tables = slices.DeleteFunc(tables, func(t string) bool { return !slices.Contains(m.Include, t) })
	}

	readOnly := m.ReadOnly || conn.InsertStyle() == connector.InsertUnsupported
	mounted := make(map[string]*collection, len(tables))
	for _, table := range tables {
		described, err := conn.DescribeTable(ctx, table)
		if err != nil {
			return 0, fmt.Errorf("mount %s: %w", m.Source, err)
		}
		fields := make([]model.Field, 0, len(described))
		hasID := false
		for _, f := range described {
			if slices.Contains(m.Hidden, f.Name) {
				continue
			}
			if readonlyColumns[f.Name] {
				f.Readonly = true
				f.Required = false
			}
			if f.Name == "id" {
				hasID = true
			}
			fields = append(fields, f)
		}
		if !hasID {
			s.logger.Debug("skipping table without id column", "source", m.Source, "table", table)
			continue
		}
		name := m.Prefix + table
		mounted[name] = &collection{
			name:     name,
			source:   m.Source,
			table:    table,
			conn:     conn,
			fields:   model.NewFieldSet(fields),
			readOnly: readOnly,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range mounted {
		if existing, ok := s.collections[name]; ok && existing.source != m.Source {
			return 0, fmt.Errorf("mount %s: collection %q already provided by source %q", m.Source, name, existing.source)
		}
	}
	s.unmountLocked(m.Source)
	for name, c := range mounted {
		s.collections[name] = c
	}
	s.logger.Info("source mounted", "source", m.Source, "collections", len(mounted), "read_only", readOnly)
	return len(mounted), nil
}

// Unmount removes every collection of a source and returns how many were
// removed.
func (s *SQLStore) Unmount(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unmountLocked(source)
}

func (s *SQLStore) unmountLocked(source string) int {
	n := 0
	for name, c := range s.collections {
		if c.source == source {
			delete(s.collections, name)
			n++
		}
	}
	return n
}

func (s *SQLStore) collection(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

// Exists reports whether a collection is mounted.
func (s *SQLStore) Exists(name string) bool {
	_, err := s.collection(name)
	return err == nil
}

// FieldsOf returns the field descriptors of a collection.
func (s *SQLStore) FieldsOf(name string) (*model.FieldSet, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	return c.fields, nil
}

// IsReadOnly reports whether a collection rejects writes.
func (s *SQLStore) IsReadOnly(name string) bool {
	c, err := s.collection(name)
	return err == nil && c.readOnly
}

// Collections returns the sorted names of the collections the actor may
// read.
func (s *SQLStore) Collections(ctx context.Context, actor Actor) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	if actor.unrestricted() {
		return names, nil
	}
	rules, err := s.rules.RulesForGroups(ctx, actor.GroupIDs)
	if err != nil {
		return nil, err
	}
	visible := names[:0]
	for _, name := range names {
		if slices.ContainsFunc(rules, func(r model.AccessRule) bool { return r.Allows(name, model.OpRead) }) {
			visible = append(visible, name)
		}
	}
	return visible, nil
}
