package recordstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/connector/sqlite"
	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/query"
	"github.com/porticoapi/portico/internal/store"
)

type fixture struct {
	st   *store.Store
	rs   *SQLStore
	conn connector.Connector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{DSN: ":memory:", MaxOpenConns: 1}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })

	stmts := []string{
		`CREATE TABLE partners (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT,
			active BOOLEAN NOT NULL DEFAULT 1,
			owner_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE partner_tags (partner_id INTEGER, tag TEXT)`,
		`INSERT INTO partners (name, email, active, owner_id) VALUES
			('Acme', 'sales@acme.test', 1, 7),
			('Globex', NULL, 0, 7),
			('Initech', 'info@initech.test', 1, 8)`,
	}
	for _, s := range stmts {
		if _, err := conn.DB().Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}

	rs := New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := rs.Mount(context.Background(), conn, Mount{Source: "crm", Prefix: "crm_"}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return &fixture{st: st, rs: rs, conn: conn}
}

// salesActor returns an actor in a fresh group granted ops on crm_partners,
// restricted to rows the actor owns.
func (f *fixture) salesActor(t *testing.T, identityID int64, ops model.Operation) Actor {
	t.Helper()
	ctx := context.Background()
	g := &model.Group{Name: "sales"}
	if err := f.st.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	rule := &model.AccessRule{
		GroupID:    g.ID,
		Collection: "crm_partners",
		OpMask:     ops,
		Filters:    []model.Filter{{Name: "owner_id", Operator: "=", Value: model.IdentityPlaceholder}},
	}
	if err := f.st.AddAccessRule(ctx, rule); err != nil {
		t.Fatalf("AddAccessRule: %v", err)
	}
	return Actor{IdentityID: identityID, GroupIDs: []int64{g.ID}}
}

var admin = Actor{IdentityID: 1, Admin: true}

func TestMount(t *testing.T) {
	f := newFixture(t)

	if !f.rs.Exists("crm_partners") {
		t.Error("crm_partners should be mounted")
	}
	if f.rs.Exists("crm_partner_tags") {
		t.Error("tables without an id column should be skipped")
	}
	if f.rs.Exists("partners") {
		t.Error("collections should carry the source prefix")
	}

	fs, err := f.rs.FieldsOf("crm_partners")
	if err != nil {
		t.Fatalf("FieldsOf: %v", err)
	}
	for _, name := range []string{"id", "created_at"} {
		field, _ := fs.Get(name)
		if !field.Readonly || field.Required {
			t.Errorf("%s: readonly=%v required=%v", name, field.Readonly, field.Required)
		}
	}
	if name, _ := fs.Get("name"); !name.Required {
		t.Error("name should be required")
	}

	if _, err := f.rs.FieldsOf("nope"); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("FieldsOf unknown: got %v", err)
	}
}

func TestMountSystemHidesPasswordHash(t *testing.T) {
	f := newFixture(t)
	n, err := f.rs.Mount(context.Background(), sqlite.Wrap(f.st.DB()), SystemMount())
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if n != 2 {
		t.Errorf("mounted %d collections, want 2", n)
	}
	if f.rs.Exists("api_keys") || f.rs.Exists("sessions") {
		t.Error("credential tables must not be collections")
	}
	fs, err := f.rs.FieldsOf("identities")
	if err != nil {
		t.Fatalf("FieldsOf: %v", err)
	}
	if fs.Has("password_hash") {
		t.Error("password_hash must be hidden")
	}
	if !fs.Has("login") || !fs.Has("active") {
		t.Errorf("identity fields = %v", fs.Names())
	}
}

func TestMountConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.rs.Mount(context.Background(), f.conn, Mount{Source: "other", Prefix: "crm_"})
	if err == nil {
		t.Fatal("expected conflict error")
	}

	// Remounting the same source replaces its collections.
	if _, err := f.rs.Mount(context.Background(), f.conn, Mount{Source: "crm", Prefix: "crm_"}); err != nil {
		t.Fatalf("remount: %v", err)
	}
	if got := f.rs.Unmount("crm"); got != 1 {
		t.Errorf("Unmount = %d, want 1", got)
	}
	if f.rs.Exists("crm_partners") {
		t.Error("collection should be gone after Unmount")
	}
}

func TestSearchAsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		q    Query
		want []int64
	}{
		{"all ordered by id", Query{}, []int64{1, 2, 3}},
		{"equality filter", Query{Where: query.Clause{Conditions: []query.Condition{query.Eq("active", true)}}}, []int64{1, 3}},
		{"order desc", Query{Order: []query.OrderClause{{Column: "name", Direction: "DESC"}}}, []int64{3, 2, 1}},
		{"paging", Query{Limit: 1, Offset: 1}, []int64{2}},
		{"null filter", Query{Where: query.Clause{Conditions: []query.Condition{{Field: "email", Operator: "=", Value: nil}}}}, []int64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := f.rs.Search(ctx, admin, "crm_partners", tt.q)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}

	_, err := f.rs.Search(ctx, admin, "crm_partners", Query{
		Where: query.Clause{Conditions: []query.Condition{query.Eq("nope", 1)}},
	})
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown filter field: got %v", err)
	}

	n, err := f.rs.Count(ctx, admin, "crm_partners", query.Clause{})
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recs, err := f.rs.Read(ctx, admin, "crm_partners", []int64{3, 1}, []string{"name", "active"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0]["id"] != int64(3) || recs[1]["id"] != int64(1) {
		t.Errorf("order not preserved: %v", recs)
	}
	if recs[0]["name"] != "Initech" || recs[0]["active"] != true {
		t.Errorf("record = %v", recs[0])
	}
	if len(recs[0]) != 3 {
		t.Errorf("expected id, name and active only, got %v", recs[0])
	}

	if _, err := f.rs.Read(ctx, admin, "crm_partners", []int64{1, 99}, nil); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("missing id: got %v", err)
	}
	if _, err := f.rs.Read(ctx, admin, "crm_partners", []int64{1}, []string{"nope"}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown field: got %v", err)
	}
}

func TestRowRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := f.salesActor(t, 7, model.OpRead|model.OpWrite)

	ids, err := f.rs.Search(ctx, actor, "crm_partners", Query{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2}) {
		t.Errorf("visible ids = %v, want [1 2]", ids)
	}
	if n, _ := f.rs.Count(ctx, actor, "crm_partners", query.Clause{}); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
	if _, err := f.rs.Read(ctx, actor, "crm_partners", []int64{3}, nil); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("reading a foreign row: got %v", err)
	}

	if err := f.rs.Write(ctx, actor, "crm_partners", []int64{1}, map[string]interface{}{"email": "new@acme.test"}); err != nil {
		t.Fatalf("Write own row: %v", err)
	}
	if err := f.rs.Write(ctx, actor, "crm_partners", []int64{1, 3}, map[string]interface{}{"email": "x"}); !errors.Is(err, ErrAccess) {
		t.Errorf("Write foreign row: got %v", err)
	}
	if err := f.rs.Write(ctx, actor, "crm_partners", []int64{42}, map[string]interface{}{"email": "x"}); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Write missing row: got %v", err)
	}

	recs, err := f.rs.Read(ctx, admin, "crm_partners", []int64{1, 3}, []string{"email"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if recs[0]["email"] != "new@acme.test" || recs[1]["email"] != "info@initech.test" {
		t.Errorf("emails after writes = %v, %v", recs[0]["email"], recs[1]["email"])
	}

	if err := f.rs.CheckAccess(ctx, actor, "crm_partners", model.OpCreate); !errors.Is(err, ErrAccess) {
		t.Errorf("create without rule: got %v", err)
	}
}

func TestCheckAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.rs.CheckAccess(ctx, Actor{IdentityID: 5}, "crm_partners", model.OpRead); !errors.Is(err, ErrAccess) {
		t.Errorf("no groups: got %v", err)
	}
	if err := f.rs.CheckAccess(ctx, System(), "crm_partners", model.OpUnlink); err != nil {
		t.Errorf("system actor: %v", err)
	}
	if err := f.rs.CheckAccess(ctx, admin, "nope", model.OpRead); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("unknown collection: got %v", err)
	}
	if _, err := f.rs.Search(ctx, Actor{IdentityID: 5}, "crm_partners", Query{}); !errors.Is(err, ErrAccess) {
		t.Errorf("search without rule: got %v", err)
	}
}

func TestCollections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.rs.Mount(ctx, sqlite.Wrap(f.st.DB()), SystemMount()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	all, err := f.rs.Collections(ctx, admin)
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if !reflect.DeepEqual(all, []string{"crm_partners", "groups", "identities"}) {
		t.Errorf("admin collections = %v", all)
	}

	userGroup, err := f.st.GetGroupByName(ctx, model.GroupUser)
	if err != nil {
		t.Fatalf("GetGroupByName: %v", err)
	}
	visible, err := f.rs.Collections(ctx, Actor{IdentityID: 2, GroupIDs: []int64{userGroup.ID}})
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if !reflect.DeepEqual(visible, []string{"groups", "identities"}) {
		t.Errorf("user collections = %v", visible)
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		values map[string]interface{}
		want   error
	}{
		{"empty", nil, ErrNoData},
		{"unknown field", map[string]interface{}{"name": "x", "fax": "1"}, ErrUnknownField},
		{"readonly field", map[string]interface{}{"name": "x", "id": float64(9)}, ErrReadonlyField},
		{"missing required", map[string]interface{}{"email": "x@y.test"}, ErrMissingRequired},
		{"bad integer", map[string]interface{}{"name": "x", "owner_id": 1.5}, ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.rs.Create(ctx, admin, "crm_partners", tt.values)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if !IsValidation(err) {
				t.Errorf("IsValidation(%v) = false", err)
			}
		})
	}

	id, err := f.rs.Create(ctx, admin, "crm_partners", map[string]interface{}{
		"name": "Hooli", "owner_id": float64(8), "active": false,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 4 {
		t.Errorf("id = %d, want 4", id)
	}
	recs, err := f.rs.Read(ctx, admin, "crm_partners", []int64{id}, []string{"name", "owner_id", "active"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if recs[0]["name"] != "Hooli" || recs[0]["owner_id"] != int64(8) || recs[0]["active"] != false {
		t.Errorf("created record = %v", recs[0])
	}
}

func TestReadOnlyMount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.rs.Mount(ctx, f.conn, Mount{Source: "crm", Prefix: "crm_", ReadOnly: true}); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !f.rs.IsReadOnly("crm_partners") {
		t.Error("IsReadOnly = false")
	}
	if _, err := f.rs.Create(ctx, admin, "crm_partners", map[string]interface{}{"name": "x"}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Create: got %v", err)
	}
	if err := f.rs.Write(ctx, admin, "crm_partners", []int64{1}, map[string]interface{}{"name": "x"}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write: got %v", err)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		typ     string
		raw     string
		want    interface{}
		wantErr bool
	}{
		{connector.TypeInteger, "42", int64(42), false},
		{connector.TypeMany2One, " 7 ", int64(7), false},
		{connector.TypeInteger, "x", nil, true},
		{connector.TypeFloat, "2.5", 2.5, false},
		{connector.TypeBoolean, "true", true, false},
		{connector.TypeBoolean, "0", false, false},
		{connector.TypeBoolean, "maybe", nil, true},
		{connector.TypeChar, "Oslo", "Oslo", false},
	}
	for _, tt := range tests {
		got, err := Coerce(model.Field{Name: "f", Type: tt.typ}, tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Coerce(%s, %q): expected ErrInvalidValue, got %v", tt.typ, tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Coerce(%s, %q) = %v, %v; want %v", tt.typ, tt.raw, got, err, tt.want)
		}
	}
}
