package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/recordstore"
	"github.com/porticoapi/portico/internal/server/middleware"
	"github.com/porticoapi/portico/internal/service"
	"github.com/porticoapi/portico/internal/store"
)

const sessionHeader = "session-token"

func newAuthHandler(t *testing.T) (*AuthHandler, *store.Store, *service.Core) {
	t.Helper()
	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := discardLogger()
	core := service.NewCore(st, recordstore.New(st, logger), service.Settings{}, logger, nil)
	return NewAuthHandler(core.Auth, sessionHeader, 1<<20, logger), st, core
}

func createIdentity(t *testing.T, st *store.Store, login, password string, active bool) *model.Identity {
	t.Helper()
	ctx := context.Background()
	hash, err := store.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	g, err := st.GetGroupByName(ctx, model.GroupUser)
	if err != nil {
		t.Fatalf("GetGroupByName: %v", err)
	}
	ident := &model.Identity{Login: login, Name: strings.ToUpper(login[:1]) + login[1:], Active: active, PasswordHash: hash}
	if err := st.CreateIdentity(ctx, ident, []int64{g.ID}); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	return ident
}

func postLogin(h *AuthHandler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", "/api/v2/auth/login", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Login(rr, r)
	return rr
}

type sessionData struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    string `json:"expires_at"`
	User         struct {
		ID     int64    `json:"id"`
		Login  string   `json:"login"`
		Groups []string `json:"groups"`
	} `json:"user"`
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) sessionData {
	t.Helper()
	var resp struct {
		Success bool        `json:"success"`
		Data    sessionData `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false: %s", rr.Body.String())
	}
	return resp.Data
}

// ---------------------------------------------------------------------------
// Login tests
// ---------------------------------------------------------------------------

func TestLogin_ValidCredentials(t *testing.T) {
	h, st, _ := newAuthHandler(t)
	ident := createIdentity(t, st, "alice", "correct-horse", true)

	rr := postLogin(h, `{"username":"alice","password":"correct-horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", rr.Code, rr.Body.String())
	}
	data := decodeSession(t, rr)
	if data.SessionToken == "" {
		t.Error("no session token returned")
	}
	if data.ExpiresAt == "" {
		t.Error("no expiry returned")
	}
	if data.User.ID != ident.ID || data.User.Login != "alice" {
		t.Errorf("user = %+v", data.User)
	}
	if len(data.User.Groups) != 1 || data.User.Groups[0] != model.GroupUser {
		t.Errorf("groups = %v, want [user]", data.User.Groups)
	}
}

func TestLogin_Failures(t *testing.T) {
	h, st, _ := newAuthHandler(t)
	createIdentity(t, st, "alice", "correct-horse", true)
	createIdentity(t, st, "zed", "correct-horse", false)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized, service.CodeInvalidCredentials},
		{"unknown login", `{"username":"nobody","password":"nope"}`, http.StatusUnauthorized, service.CodeInvalidCredentials},
		{"inactive identity", `{"username":"zed","password":"correct-horse"}`, http.StatusForbidden, service.CodeInactiveUser},
		{"missing username", `{"password":"x"}`, http.StatusBadRequest, service.CodeMissingCredentials},
		{"invalid json", `{not json`, http.StatusBadRequest, CodeInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postLogin(h, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d; body: %s", rr.Code, tt.status, rr.Body.String())
			}
			if got := decodeError(t, rr).Error.Code; got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Refresh and logout tests
// ---------------------------------------------------------------------------

func TestRefreshAndLogout(t *testing.T) {
	h, st, _ := newAuthHandler(t)
	createIdentity(t, st, "alice", "correct-horse", true)
	token := decodeSession(t, postLogin(h, `{"username":"alice","password":"correct-horse"}`)).SessionToken

	r := httptest.NewRequest("POST", "/api/v2/auth/refresh", nil)
	r.Header.Set(sessionHeader, token)
	rr := httptest.NewRecorder()
	h.Refresh(rr, r)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d; body: %s", rr.Code, rr.Body.String())
	}
	refreshed := decodeSession(t, rr)
	if refreshed.SessionToken == token {
		t.Fatal("refresh returned the same token")
	}
	if refreshed.User.Login != "alice" {
		t.Errorf("refresh user = %+v", refreshed.User)
	}

	// The old token is gone.
	rr = httptest.NewRecorder()
	h.Refresh(rr, r)
	if rr.Code != http.StatusUnauthorized || decodeError(t, rr).Error.Code != service.CodeNotRefreshable {
		t.Fatalf("second refresh = %d %s", rr.Code, rr.Body.String())
	}

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest("POST", "/api/v2/auth/logout", nil)
		r.Header.Set(sessionHeader, refreshed.SessionToken)
		rr := httptest.NewRecorder()
		h.Logout(rr, r)
		if rr.Code != http.StatusOK {
			t.Fatalf("logout #%d status = %d; body: %s", i+1, rr.Code, rr.Body.String())
		}
	}
}

func TestRefreshInactiveIdentity(t *testing.T) {
	h, st, _ := newAuthHandler(t)
	ident := createIdentity(t, st, "alice", "correct-horse", true)
	token := decodeSession(t, postLogin(h, `{"username":"alice","password":"correct-horse"}`)).SessionToken
	if err := st.UpdateIdentity(context.Background(), ident.ID, map[string]interface{}{"active": false}); err != nil {
		t.Fatalf("UpdateIdentity: %v", err)
	}

	r := httptest.NewRequest("POST", "/api/v2/auth/refresh", nil)
	r.Header.Set(sessionHeader, token)
	rr := httptest.NewRecorder()
	h.Refresh(rr, r)
	if rr.Code != http.StatusForbidden || decodeError(t, rr).Error.Code != service.CodeInactiveUser {
		t.Fatalf("refresh = %d %s", rr.Code, rr.Body.String())
	}

	sess, err := st.GetSessionByHash(context.Background(), store.HashSecret(token))
	if err != nil || !sess.Active {
		t.Fatalf("session after rejected refresh = %+v, %v", sess, err)
	}
}

func TestLogoutWithoutToken(t *testing.T) {
	h, _, _ := newAuthHandler(t)
	rr := httptest.NewRecorder()
	h.Logout(rr, httptest.NewRequest("POST", "/api/v2/auth/logout", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if got := decodeError(t, rr).Error.Code; got != service.CodeMissingSessionToken {
		t.Errorf("code = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Authenticated info endpoints
// ---------------------------------------------------------------------------

func TestAuthTestAndMe(t *testing.T) {
	h, st, core := newAuthHandler(t)
	createIdentity(t, st, "alice", "correct-horse", true)
	token := decodeSession(t, postLogin(h, `{"username":"alice","password":"correct-horse"}`)).SessionToken

	p, err := core.Auth.AuthenticateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("AuthenticateSession: %v", err)
	}

	tests := []struct {
		name string
		h    http.HandlerFunc
		want []string
	}{
		{"auth test", h.AuthTest, []string{`"user_login":"alice"`, `"auth_scheme":"session"`}},
		{"me", h.Me, []string{`"login":"alice"`, `"is_user":true`}},
		{"user info", h.UserInfo, []string{`"login":"alice"`, `"api_version":"2.0"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/x", nil)
			r = r.WithContext(middleware.WithPrincipal(r.Context(), p))
			rr := httptest.NewRecorder()
			tt.h(rr, r)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d; body: %s", rr.Code, rr.Body.String())
			}
			for _, w := range tt.want {
				if !strings.Contains(rr.Body.String(), w) {
					t.Errorf("body missing %s: %s", w, rr.Body.String())
				}
			}
		})
	}
}

func TestPublicTestEndpoint(t *testing.T) {
	h, _, _ := newAuthHandler(t)
	rr := httptest.NewRecorder()
	h.Test(rr, httptest.NewRequest("GET", "/api/v2/test", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"version":"2.0"`) {
		t.Errorf("test endpoint = %d %s", rr.Code, rr.Body.String())
	}
}
