package service

import (
	"context"
	"reflect"
	"testing"

	"github.com/porticoapi/portico/internal/model"
)

func TestCreateIdentityGeneratesCredentials(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))

	ident, secrets, err := e.identities.Create(ctx, mgr, map[string]interface{}{
		"login": "dave",
		"name":  "Dave",
		"email": "dave@example.test",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if secrets == nil || secrets.Note != SecretsNote {
		t.Fatalf("secrets = %+v", secrets)
	}
	if len(secrets.TemporaryPassword) != tempPasswordLength || secrets.APIKey == "" {
		t.Fatalf("secrets = %+v", secrets)
	}
	if got := ident.GroupNames(); !reflect.DeepEqual(got, []string{model.DefaultGroup}) {
		t.Errorf("groups = %v, want default group", got)
	}

	if _, err := e.auth.Login(ctx, "dave", secrets.TemporaryPassword, model.ClientMeta{}); err != nil {
		t.Errorf("login with temporary password: %v", err)
	}
	p, err := e.auth.Authenticate(ctx, Credentials{APIKey: secrets.APIKey})
	if err != nil {
		t.Fatalf("authenticate with generated key: %v", err)
	}
	if p.Identity.ID != ident.ID {
		t.Errorf("key resolves to %d, want %d", p.Identity.ID, ident.ID)
	}
}

func TestCreateIdentityOptions(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))

	ident, secrets, err := e.identities.Create(ctx, mgr, map[string]interface{}{
		"login":                     "erin",
		"name":                      "Erin",
		"password":                  "chosen-pw",
		"auto_generate_credentials": false,
		"group_names":               []interface{}{"user", "user_manager"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if secrets != nil {
		t.Errorf("secrets = %+v, want none", secrets)
	}
	if !ident.CanManageUsers() || !ident.IsUser() {
		t.Errorf("groups = %v", ident.GroupNames())
	}
	if _, err := e.auth.Login(ctx, "erin", "chosen-pw", model.ClientMeta{}); err != nil {
		t.Errorf("login: %v", err)
	}
	if k, _ := e.creds.KeyFor(ctx, ident.ID); k != nil {
		t.Error("api key generated despite opt-out")
	}

	// Key only.
	_, secrets, err = e.identities.Create(ctx, mgr, map[string]interface{}{
		"login":             "frank",
		"name":              "Frank",
		"generate_password": false,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if secrets == nil || secrets.TemporaryPassword != "" || secrets.APIKey == "" {
		t.Errorf("secrets = %+v, want api key only", secrets)
	}
}

func TestCreateIdentityErrors(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))
	user := principal(e.identity(t, "alice", "", model.GroupUser))

	tests := []struct {
		name string
		p    *Principal
		body map[string]interface{}
		kind Kind
		code string
	}{
		{"not a manager", user, map[string]interface{}{"login": "x", "name": "X"}, KindAccessDenied, CodeAccessDenied},
		{"empty", mgr, map[string]interface{}{}, KindValidation, CodeNoData},
		{"missing name", mgr, map[string]interface{}{"login": "x"}, KindValidation, CodeMissingRequired},
		{"unknown field", mgr, map[string]interface{}{"login": "x", "name": "X", "shoe_size": 42}, KindValidation, CodeUnknownField},
		{"bad type", mgr, map[string]interface{}{"login": "x", "name": "X", "active": "yes"}, KindValidation, CodeInvalidValue},
		{"unknown group", mgr, map[string]interface{}{"login": "x", "name": "X", "group_names": []interface{}{"wizards"}}, KindValidation, CodeUnknownGroup},
		{"unknown group id", mgr, map[string]interface{}{"login": "x", "name": "X", "group_ids": []interface{}{float64(999)}}, KindValidation, CodeUnknownGroup},
		{"duplicate login", mgr, map[string]interface{}{"login": "alice", "name": "Alice"}, KindConflict, CodeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.identities.Create(ctx, tt.p, tt.body)
			wantKind(t, err, tt.kind, tt.code)
		})
	}
}

func TestUpdateIdentityTiers(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.identity(t, "alice", "", model.GroupUser)
	bob := e.identity(t, "bob", "", model.GroupUser)
	mgr := e.identity(t, "mgr", "", model.GroupUserManager)

	tests := []struct {
		name    string
		actor   *model.Identity
		target  *model.Identity
		changes map[string]interface{}
		kind    Kind
		code    string
	}{
		{"own name and phone", alice, alice, map[string]interface{}{"name": "Alice A.", "phone": "555"}, 0, ""},
		{"own login", alice, alice, map[string]interface{}{"login": "queen"}, KindAccessDenied, CodeAdminFieldDenied},
		{"own groups", alice, alice, map[string]interface{}{"groups_id": []interface{}{float64(1)}}, KindAccessDenied, CodeAdminFieldDenied},
		{"other's name", alice, bob, map[string]interface{}{"name": "Bobby"}, KindAccessDenied, CodeAccessDenied},
		{"other's login", alice, bob, map[string]interface{}{"login": "bobby"}, KindAccessDenied, CodeAccessDenied},
		{"password", alice, alice, map[string]interface{}{"password": "x"}, KindValidation, CodePasswordNotAllowed},
		{"unknown field", alice, alice, map[string]interface{}{"favourite_colour": "red"}, KindValidation, CodeUnknownField},
		{"empty", alice, alice, map[string]interface{}{}, KindValidation, CodeNoData},
		{"manager edits login", mgr, bob, map[string]interface{}{"login": "robert", "tz": "Europe/Paris"}, 0, ""},
		{"manager empty name", mgr, bob, map[string]interface{}{"name": ""}, KindValidation, CodeInvalidValue},
		{"missing target", mgr, &model.Identity{ID: 999}, map[string]interface{}{"name": "x"}, KindNotFound, CodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated, fields, err := e.identities.Update(ctx, principal(tt.actor), tt.target.ID, tt.changes)
			if tt.code != "" {
				wantKind(t, err, tt.kind, tt.code)
				return
			}
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if len(fields) != len(tt.changes) {
				t.Errorf("updated fields = %v", fields)
			}
			for k, v := range tt.changes {
				got := map[string]interface{}{
					"name": updated.Name, "phone": updated.Phone,
					"login": updated.Login, "tz": updated.TZ,
				}[k]
				if got != v {
					t.Errorf("%s = %v, want %v", k, got, v)
				}
			}
		})
	}
}

func TestUpdateIdentityGroupsAndDeactivate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))
	alice := e.identity(t, "alice", "", model.GroupUser)
	token, _, err := e.sessions.Create(ctx, alice.ID, model.ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}

	updated, _, err := e.identities.Update(ctx, mgr, alice.ID, map[string]interface{}{
		"group_names": []interface{}{"user", "user_manager"},
	})
	if err != nil {
		t.Fatalf("Update groups: %v", err)
	}
	if !updated.CanManageUsers() {
		t.Errorf("groups = %v", updated.GroupNames())
	}

	updated, _, err = e.identities.Update(ctx, mgr, alice.ID, map[string]interface{}{"active": false})
	if err != nil {
		t.Fatalf("Update active: %v", err)
	}
	if updated.Active {
		t.Error("identity still active")
	}
	if _, err := e.auth.AuthenticateSession(ctx, token); err == nil {
		t.Error("session of deactivated identity still authenticates")
	}
}

func TestWriteIdentitiesThroughRecords(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.identity(t, "alice", "", model.GroupUser)
	p := principal(alice)

	written, err := e.records.Write(ctx, p, IdentitiesCollection, []int64{alice.ID}, map[string]interface{}{"phone": "555-1234"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !reflect.DeepEqual(written.UpdatedFields, []string{"phone"}) {
		t.Errorf("updated = %v", written.UpdatedFields)
	}
	_, err = e.records.Write(ctx, p, IdentitiesCollection, []int64{alice.ID}, map[string]interface{}{"login": "x"})
	wantKind(t, err, KindAccessDenied, CodeAdminFieldDenied)
	_, err = e.records.Write(ctx, p, IdentitiesCollection, []int64{alice.ID}, map[string]interface{}{"password": "x"})
	wantKind(t, err, KindValidation, CodePasswordNotAllowed)
}

func TestWriteIdentitiesAllOrNothing(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := e.identity(t, "alice", "", model.GroupUser)
	bob := e.identity(t, "bob", "", model.GroupUser)
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))

	tests := []struct {
		name string
		p    *Principal
		ids  []int64
		kind Kind
		code string
	}{
		{name: "own then someone else", p: principal(alice), ids: []int64{alice.ID, bob.ID}, kind: KindAccessDenied, code: CodeAccessDenied},
		{name: "existing then unknown", p: mgr, ids: []int64{alice.ID, bob.ID, 9999}, kind: KindNotFound, code: CodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.records.Write(ctx, tt.p, IdentitiesCollection, tt.ids, map[string]interface{}{"phone": "555-9999"})
			wantKind(t, err, tt.kind, tt.code)
			for _, id := range []int64{alice.ID, bob.ID} {
				got, err := e.st.GetIdentity(ctx, id)
				if err != nil {
					t.Fatalf("GetIdentity: %v", err)
				}
				if got.Phone != "" {
					t.Errorf("identity %d phone = %q after rejected write", id, got.Phone)
				}
			}
		})
	}

	written, err := e.records.Write(ctx, mgr, IdentitiesCollection, []int64{alice.ID, bob.ID}, map[string]interface{}{"phone": "555-1234"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !reflect.DeepEqual(written.UpdatedFields, []string{"phone"}) {
		t.Errorf("updated = %v", written.UpdatedFields)
	}
	for _, id := range []int64{alice.ID, bob.ID} {
		got, _ := e.st.GetIdentity(ctx, id)
		if got.Phone != "555-1234" {
			t.Errorf("identity %d phone = %q", id, got.Phone)
		}
	}
}

func TestCreateIdentityThroughRecords(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))

	created, err := e.records.Create(ctx, mgr, IdentitiesCollection, map[string]interface{}{"login": "gina", "name": "Gina"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Credentials == nil || created.Record["login"] != "gina" {
		t.Errorf("created = %+v", created)
	}
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := principal(e.identity(t, "alice", "old-pw", model.GroupUser))
	bob := principal(e.identity(t, "bob", "bob-pw", model.GroupUser))
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))
	aliceID := alice.Identity.ID

	tests := []struct {
		name     string
		p        *Principal
		id       int64
		newPW    string
		oldPW    string
		kind     Kind
		code     string
		loginPW  string
		loginFor string
	}{
		{name: "missing new", p: alice, id: aliceID, kind: KindValidation, code: CodeMissingPassword},
		{name: "missing old", p: alice, id: aliceID, newPW: "n", kind: KindValidation, code: CodeMissingOldPassword},
		{name: "wrong old", p: alice, id: aliceID, newPW: "n", oldPW: "nope", kind: KindInvalidCredential, code: CodeInvalidOldPassword},
		{name: "someone else", p: bob, id: aliceID, newPW: "n", oldPW: "old-pw", kind: KindAccessDenied, code: CodeAccessDenied},
		{name: "unknown target", p: mgr, id: 999, newPW: "n", kind: KindNotFound, code: CodeUserNotFound},
		{name: "own with old", p: alice, id: aliceID, newPW: "new-pw", oldPW: "old-pw", loginFor: "alice", loginPW: "new-pw"},
		{name: "manager without old", p: mgr, id: bob.Identity.ID, newPW: "reset-pw", loginFor: "bob", loginPW: "reset-pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.identities.ChangePassword(ctx, tt.p, tt.id, tt.newPW, tt.oldPW)
			if tt.code != "" {
				wantKind(t, err, tt.kind, tt.code)
				return
			}
			if err != nil {
				t.Fatalf("ChangePassword: %v", err)
			}
			if _, err := e.auth.Login(ctx, tt.loginFor, tt.loginPW, model.ClientMeta{}); err != nil {
				t.Errorf("login with new password: %v", err)
			}
		})
	}
}

func TestResetPasswordAndKeys(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := principal(e.identity(t, "alice", "old-pw", model.GroupUser))
	bob := principal(e.identity(t, "bob", "", model.GroupUser))
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))

	_, err := e.identities.ResetPassword(ctx, alice, bob.Identity.ID)
	wantKind(t, err, KindAccessDenied, CodeAccessDenied)

	temp, err := e.identities.ResetPassword(ctx, mgr, alice.Identity.ID)
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if len(temp) != tempPasswordLength {
		t.Errorf("temp password length = %d", len(temp))
	}
	if _, err := e.auth.Login(ctx, "alice", temp, model.ClientMeta{}); err != nil {
		t.Errorf("login with temp password: %v", err)
	}

	_, _, err = e.identities.IssueKey(ctx, alice, bob.Identity.ID, "")
	wantKind(t, err, KindAccessDenied, CodeAccessDenied)

	target, issued, err := e.identities.IssueKey(ctx, alice, alice.Identity.ID, "")
	if err != nil {
		t.Fatalf("IssueKey own: %v", err)
	}
	if target.ID != alice.Identity.ID || issued.Key.Label != "Generated API Key" {
		t.Errorf("issued = %+v", issued.Key)
	}
	if _, _, err := e.identities.IssueKey(ctx, mgr, bob.Identity.ID, "ops"); err != nil {
		t.Fatalf("IssueKey by manager: %v", err)
	}

	if err := e.identities.RevokeKey(ctx, alice, alice.Identity.ID); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}
	_, err = e.auth.Authenticate(ctx, Credentials{APIKey: issued.Secret})
	wantKind(t, err, KindInvalidCredential, CodeInvalidAPIKey)
	wantKind(t, e.identities.RevokeKey(ctx, alice, bob.Identity.ID), KindAccessDenied, CodeAccessDenied)
}

func TestGetIdentityTiers(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := principal(e.identity(t, "alice", "", model.GroupUser))
	bob := principal(e.identity(t, "bob", "", model.GroupUser))
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))
	outsider := principal(e.identity(t, "portal", ""))
	if _, _, err := e.identities.IssueKey(ctx, mgr, bob.Identity.ID, "ops"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		viewer  *Principal
		want    []string
		notWant []string
	}{
		{"colleague", alice, []string{"id", "name", "email", "active"}, []string{"login", "phone", "groups"}},
		{"self", bob, []string{"login", "phone", "tz"}, []string{"groups", "api_key"}},
		{"manager", mgr, []string{"login", "groups", "login_date", "api_key"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.identities.Get(ctx, tt.viewer, bob.Identity.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			for _, k := range tt.want {
				if _, ok := v[k]; !ok {
					t.Errorf("missing %q", k)
				}
			}
			for _, k := range tt.notWant {
				if _, ok := v[k]; ok {
					t.Errorf("unexpected %q", k)
				}
			}
		})
	}

	_, err := e.identities.Get(ctx, outsider, bob.Identity.ID)
	wantKind(t, err, KindAccessDenied, CodeAccessDenied)
	if _, err := e.identities.Get(ctx, outsider, outsider.Identity.ID); err != nil {
		t.Errorf("outsider reading self: %v", err)
	}
	_, err = e.identities.Get(ctx, mgr, 999)
	wantKind(t, err, KindNotFound, CodeUserNotFound)
}

func TestListIdentities(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	alice := principal(e.identity(t, "alice", "", model.GroupUser))
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))
	e.identity(t, "bob", "", model.GroupUser)
	outsider := principal(e.identity(t, "portal", ""))

	list, err := e.identities.List(ctx, alice, "", true, Page{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Count != 2 || list.TotalCount != 4 || list.Limit != 2 {
		t.Errorf("list = %+v", list)
	}
	if list.Users[0]["name"] != "alice" {
		t.Errorf("first user = %v, want alice (ordered by name)", list.Users[0]["name"])
	}
	if _, ok := list.Users[0]["groups"]; ok {
		t.Error("plain user sees groups")
	}

	list, err = e.identities.List(ctx, mgr, "bo", true, Page{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Count != 1 || list.Users[0]["login"] != "bob" {
		t.Fatalf("search result = %+v", list.Users)
	}
	if _, ok := list.Users[0]["groups"]; !ok {
		t.Error("manager does not see groups")
	}

	_, err = e.identities.List(ctx, outsider, "", true, Page{Limit: 10})
	wantKind(t, err, KindAccessDenied, CodeAccessDenied)
}

func TestGroupsByCategory(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	mgr := principal(e.identity(t, "mgr", "", model.GroupUserManager))

	byCat, total, err := e.identities.Groups(ctx, mgr)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if total != 3 || len(byCat["Administration"]) != 2 || len(byCat["User types"]) != 1 {
		t.Errorf("groups = %v (total %d)", byCat, total)
	}
	_, _, err = e.identities.Groups(ctx, principal(e.identity(t, "alice", "", model.GroupUser)))
	wantKind(t, err, KindAccessDenied, CodeAccessDenied)
}

func TestProfile(t *testing.T) {
	e := newTestEnv(t)
	p := &Principal{Identity: e.identity(t, "mgr", "", model.GroupUserManager), Scheme: SchemeSession}
	v := Profile(p)
	perms := v["permissions"].(map[string]bool)
	if perms["is_admin"] || !perms["can_manage_users"] || !perms["is_user"] {
		t.Errorf("permissions = %v", perms)
	}
	if v["auth_scheme"] != SchemeSession {
		t.Errorf("auth_scheme = %v", v["auth_scheme"])
	}
}
