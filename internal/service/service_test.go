package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/connector/sqlite"
	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/recordstore"
	"github.com/porticoapi/portico/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	st         *store.Store
	clock      *testClock
	creds      *CredentialStore
	sessions   *SessionManager
	auth       *Authenticator
	rs         *recordstore.SQLStore
	access     *AccessEvaluator
	identities *IdentityService
	records    *RecordService
}

// newTestEnv wires the services over an in-memory system store, with the
// identity directory mounted and a "crm" source holding a partners table.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	crm := sqlite.New()
	if err := crm.Connect(connector.ConnectionConfig{DSN: ":memory:", MaxOpenConns: 1}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { crm.Disconnect() })
	for _, s := range []string{
		`CREATE TABLE partners (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			phone TEXT,
			city TEXT,
			active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`INSERT INTO partners (name, phone, city, active) VALUES
			('Acme', '555-0100', 'Springfield', 1),
			('Globex', '555-0101', 'Springfield', 0),
			('Initech', '555-0102', 'Shelbyville', 1)`,
	} {
		if _, err := crm.DB().Exec(s); err != nil {
			t.Fatalf("exec: %v", err)
		}
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	creds := NewCredentialStore(st, logger, WithKeyClock(clock.Now))
	sessions := NewSessionManager(st, logger, WithClock(clock.Now))
	auth := NewAuthenticator(st, creds, sessions, logger, nil)

	rs := recordstore.New(st, logger)
	if _, err := rs.Mount(ctx, sqlite.Wrap(st.DB()), recordstore.SystemMount()); err != nil {
		t.Fatalf("Mount system: %v", err)
	}
	if _, err := rs.Mount(ctx, crm, recordstore.Mount{Source: "crm"}); err != nil {
		t.Fatalf("Mount crm: %v", err)
	}

	access := NewAccessEvaluator(rs, true)
	identities := NewIdentityService(st, creds, sessions, access, logger)
	return &testEnv{
		st:         st,
		clock:      clock,
		creds:      creds,
		sessions:   sessions,
		auth:       auth,
		rs:         rs,
		access:     access,
		identities: identities,
		records:    NewRecordService(rs, access, identities, logger),
	}
}

// identity creates an active identity in the given groups and returns it
// with its groups loaded.
func (e *testEnv) identity(t *testing.T, login, password string, groups ...string) *model.Identity {
	t.Helper()
	ctx := context.Background()
	ident := &model.Identity{Login: login, Name: login, Active: true}
	if password != "" {
		hash, err := store.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		ident.PasswordHash = hash
	}
	gs, err := e.st.GroupsByNames(ctx, groups)
	if err != nil {
		t.Fatalf("GroupsByNames: %v", err)
	}
	ids := make([]int64, len(gs))
	for i, g := range gs {
		ids[i] = g.ID
	}
	if err := e.st.CreateIdentity(ctx, ident, ids); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	loaded, err := e.st.GetIdentity(ctx, ident.ID)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	return loaded
}

func principal(ident *model.Identity) *Principal {
	return &Principal{Identity: ident, Scheme: SchemeAPIKey}
}

// wantKind fails unless err is an *Error of the given kind and, when code is
// not empty, code.
func wantKind(t *testing.T, err error, kind Kind, code string) {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error = %v, want *Error of kind %s", err, kind)
	}
	if e.Kind != kind {
		t.Fatalf("kind = %s (%v), want %s", e.Kind, err, kind)
	}
	if code != "" && e.Code != code {
		t.Fatalf("code = %s, want %s", e.Code, code)
	}
}
