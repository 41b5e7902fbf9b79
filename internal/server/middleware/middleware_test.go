package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/service"
	"github.com/porticoapi/portico/internal/store"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	respID := rr.Header().Get(RequestIDHeader)
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDClientValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		keep bool
	}{
		{"plain", "my-custom-trace-id-123", true},
		{"spaces", "has spaces", false},
		{"newline", "evil\nline", false},
		{"too long", strings.Repeat("a", maxClientRequestID+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set(RequestIDHeader, tt.in)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("header %q differs from context %q", got, seen)
			}
			if (seen == tt.in) != tt.keep {
				t.Errorf("kept = %v, want %v (id %q)", seen == tt.in, tt.keep, seen)
			}
		})
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Authenticate middleware tests
// ---------------------------------------------------------------------------

var testHeaders = Headers{APIKey: "api-key", Session: "session-token"}

type authEnv struct {
	auth     *service.Authenticator
	sessions *service.SessionManager
	creds    *service.CredentialStore
	alice    *model.Identity
	key      string
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hash, err := store.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	alice := &model.Identity{Login: "alice", Name: "Alice", Active: true, PasswordHash: hash}
	if err := st.CreateIdentity(ctx, alice, nil); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	creds := service.NewCredentialStore(st, logger)
	sessions := service.NewSessionManager(st, logger)
	issued, err := creds.Issue(ctx, alice.ID, "test")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return &authEnv{
		auth:     service.NewAuthenticator(st, creds, sessions, logger, nil),
		sessions: sessions,
		creds:    creds,
		alice:    alice,
		key:      issued.Secret,
	}
}

// recordError writes the service error code as the body with a 401, which
// is enough to observe what the middleware passed along.
func recordError(w http.ResponseWriter, r *http.Request, err error) {
	var e *service.Error
	code := "UNKNOWN"
	if errors.As(err, &e) {
		code = e.Code
	}
	status := http.StatusUnauthorized
	if service.KindOf(err) == service.KindAccessDenied {
		status = http.StatusForbidden
	}
	w.WriteHeader(status)
	w.Write([]byte(code))
}

func TestAuthenticate(t *testing.T) {
	env := newAuthEnv(t)
	token, _, err := env.sessions.Create(context.Background(), env.alice.ID, model.ClientMeta{})
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	tests := []struct {
		name     string
		headers  map[string]string
		wantCode int
		wantBody string
		scheme   string
	}{
		{"no credentials", nil, http.StatusUnauthorized, service.CodeMissingCredentials, ""},
		{"bad key", map[string]string{"api-key": "nope"}, http.StatusUnauthorized, service.CodeInvalidAPIKey, ""},
		{"bad session", map[string]string{"session-token": "nope"}, http.StatusUnauthorized, service.CodeInvalidSession, ""},
		{"api key", map[string]string{"api-key": env.key}, http.StatusOK, "", service.SchemeAPIKey},
		{"session", map[string]string{"session-token": token}, http.StatusOK, "", service.SchemeSession},
		{"session wins", map[string]string{"session-token": token, "api-key": env.key}, http.StatusOK, "", service.SchemeSession},
		{"bad session falls back to key", map[string]string{"session-token": "nope", "api-key": env.key}, http.StatusOK, "", service.SchemeAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *service.Principal
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetPrincipal(r.Context())
			})
			handler := Authenticate(env.auth, testHeaders, recordError)(inner)

			req := httptest.NewRequest("GET", "/api/v2/auth/test", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantBody != "" && rr.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.wantBody)
			}
			if tt.scheme == "" {
				if got != nil {
					t.Error("inner handler ran on failure")
				}
				return
			}
			if got == nil || got.Identity.ID != env.alice.ID || got.Scheme != tt.scheme {
				t.Errorf("principal = %+v, want alice via %s", got, tt.scheme)
			}
		})
	}
}

func TestRequireUserManager(t *testing.T) {
	manager := &service.Principal{Identity: &model.Identity{ID: 1, Groups: []model.Group{{Name: model.GroupUserManager}}}}
	plain := &service.Principal{Identity: &model.Identity{ID: 2, Groups: []model.Group{{Name: model.GroupUser}}}}

	tests := []struct {
		name string
		p    *service.Principal
		want int
	}{
		{"manager", manager, http.StatusOK},
		{"plain user", plain, http.StatusForbidden},
		{"unauthenticated", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireUserManager(recordError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest("GET", "/api/v2/groups", nil)
			if tt.p != nil {
				req = req.WithContext(WithPrincipal(req.Context(), tt.p))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestGetPrincipalWithoutValue(t *testing.T) {
	if GetPrincipal(context.Background()) != nil {
		t.Error("expected nil principal from bare context")
	}
}

// ---------------------------------------------------------------------------
// Logger middleware tests
// ---------------------------------------------------------------------------

func TestLoggerRecordsIdentityAndLevel(t *testing.T) {
	env := newAuthEnv(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	chain := RequestID(Logger(logger)(Authenticate(env.auth, testHeaders, recordError)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		}))))

	req := httptest.NewRequest("GET", "/api/v2/auth/test", nil)
	req.Header.Set("api-key", env.key)
	chain.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/api/v2/auth/test", nil)
	chain.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}

	var ok, denied map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &ok); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &denied); err != nil {
		t.Fatal(err)
	}

	if ok["level"] != "INFO" || ok["identity_id"] != float64(env.alice.ID) || ok["bytes"] != float64(2) {
		t.Errorf("success line = %v", ok)
	}
	if ok["request_id"] == "" {
		t.Error("request_id missing")
	}
	if denied["level"] != "WARN" || denied["status"] != float64(http.StatusUnauthorized) {
		t.Errorf("denied line = %v", denied)
	}
	if _, present := denied["identity_id"]; present {
		t.Error("identity_id logged for unauthenticated request")
	}
	if strings.Contains(buf.String(), env.key) {
		t.Error("API key leaked into logs")
	}
}

// ---------------------------------------------------------------------------
// RateLimit middleware tests
// ---------------------------------------------------------------------------

func TestRateLimit(t *testing.T) {
	limited := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	handler := RateLimit(2, limited)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/v2/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest("POST", "/api/v2/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("second client status = %d", rr.Code)
	}
}

func TestRateLimitByHeader(t *testing.T) {
	limited := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	handler := RateLimitByHeader("api-key", 1, limited)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) int {
		req := httptest.NewRequest("GET", "/api/v2/collections", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if key != "" {
			req.Header.Set("api-key", key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if send("k1") != http.StatusOK || send("k2") != http.StatusOK {
		t.Fatal("distinct keys should have separate buckets")
	}
	if send("k1") != http.StatusTooManyRequests {
		t.Error("second request with k1 should be limited")
	}
}
