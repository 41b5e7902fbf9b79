package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v; body: %s", err, rr.Body.String())
	}
	if resp.Success {
		t.Fatal("success = true on an error response")
	}
	return resp
}

// ---------------------------------------------------------------------------
// StatusFor tests
// ---------------------------------------------------------------------------

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind service.Kind
		want int
	}{
		{service.KindMissingCredential, http.StatusUnauthorized},
		{service.KindInvalidCredential, http.StatusUnauthorized},
		{service.KindExpiredCredential, http.StatusUnauthorized},
		{service.KindNotRefreshable, http.StatusUnauthorized},
		{service.KindInactiveIdentity, http.StatusForbidden},
		{service.KindAccessDenied, http.StatusForbidden},
		{service.KindNotFound, http.StatusNotFound},
		{service.KindValidation, http.StatusBadRequest},
		{service.KindConflict, http.StatusConflict},
		{service.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.kind); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// ErrorWriter tests
// ---------------------------------------------------------------------------

func TestErrorWriter(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"typed error", service.ErrInvalidAPIKey, http.StatusUnauthorized, service.CodeInvalidAPIKey, ""},
		{"wrapped typed error", errors.Join(errors.New("ctx"), service.ErrInactiveIdentity), http.StatusForbidden, service.CodeInactiveUser, ""},
		{"plain error is internal", errors.New("disk on fire"), http.StatusInternalServerError, service.CodeInternal, "internal error"},
	}
	onError := ErrorWriter(discardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			onError(rr, httptest.NewRequest("GET", "/x", nil), tt.err)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			resp := decodeError(t, rr)
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
			if tt.wantMessage != "" && resp.Error.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Error.Message, tt.wantMessage)
			}
		})
	}
}

func TestErrorWriterHidesInternalCause(t *testing.T) {
	rr := httptest.NewRecorder()
	err := &service.Error{Kind: service.KindInternal, Code: service.CodeInternal, Message: "internal error", Err: errors.New("password=hunter2")}
	ErrorWriter(discardLogger())(rr, httptest.NewRequest("GET", "/x", nil), err)
	if strings.Contains(rr.Body.String(), "hunter2") {
		t.Errorf("internal cause leaked: %s", rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Fallback handler tests
// ---------------------------------------------------------------------------

func TestFallbackHandlers(t *testing.T) {
	tests := []struct {
		name   string
		h      http.HandlerFunc
		status int
		code   string
	}{
		{"not found", NotFound, http.StatusNotFound, CodeRouteNotFound},
		{"method not allowed", MethodNotAllowed, http.StatusMethodNotAllowed, CodeMethodNotAllowed},
		{"rate limited", RateLimited, http.StatusTooManyRequests, CodeRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.h(rr, httptest.NewRequest("PATCH", "/api/v2/nowhere", nil))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if got := decodeError(t, rr).Error.Code; got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// writeSuccess tests
// ---------------------------------------------------------------------------

func TestWriteSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	writeSuccess(rr, http.StatusCreated, map[string]int{"id": 7}, "Record created")

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
		Message string         `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Data["id"] != 7 || resp.Message != "Record created" {
		t.Errorf("resp = %+v", resp)
	}
}

// ---------------------------------------------------------------------------
// readJSONObject tests
// ---------------------------------------------------------------------------

func TestReadJSONObject(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		limit       int64
		wantStatus  int
		wantCode    string
		wantKeys    int
	}{
		{"valid object", "application/json", `{"name":"Acme","city":"Springfield"}`, 0, 0, "", 2},
		{"charset parameter", "application/json; charset=utf-8", `{"name":"Acme"}`, 0, 0, "", 1},
		{"wrong content type", "text/plain", `{"name":"Acme"}`, 0, http.StatusBadRequest, CodeInvalidContentType, 0},
		{"missing content type", "", `{"name":"Acme"}`, 0, http.StatusBadRequest, CodeInvalidContentType, 0},
		{"malformed", "application/json", `{"name":`, 0, http.StatusBadRequest, CodeInvalidJSON, 0},
		{"array", "application/json", `[1,2]`, 0, http.StatusBadRequest, CodeInvalidJSON, 0},
		{"empty body", "application/json", ``, 0, http.StatusBadRequest, service.CodeNoData, 0},
		{"empty object", "application/json", `{}`, 0, http.StatusBadRequest, service.CodeNoData, 0},
		{"too large", "application/json", `{"name":"` + strings.Repeat("x", 64) + `"}`, 16, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, 0},
		{"within limit", "application/json", `{"a":1}`, 16, 0, "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/x", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			got, err := readJSONObject(httptest.NewRecorder(), r, tt.limit)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("readJSONObject: %v", err)
				}
				if len(got) != tt.wantKeys {
					t.Errorf("got %d keys, want %d", len(got), tt.wantKeys)
				}
				return
			}
			var be *bodyError
			if !errors.As(err, &be) {
				t.Fatalf("err = %v, want a body error", err)
			}
			if be.status != tt.wantStatus || be.code != tt.wantCode {
				t.Errorf("body error = %d %s, want %d %s", be.status, be.code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// pathID tests
// ---------------------------------------------------------------------------

func TestPathID(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", tt.value)
		r := httptest.NewRequest("GET", "/users/"+tt.value, nil)
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

		got, err := pathID(r, "id")
		if (err != nil) != tt.wantErr {
			t.Errorf("pathID(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("pathID(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// fail tests
// ---------------------------------------------------------------------------

func TestFailRoutesBodyErrors(t *testing.T) {
	called := false
	onError := func(w http.ResponseWriter, r *http.Request, err error) { called = true }

	rr := httptest.NewRecorder()
	fail(rr, httptest.NewRequest("POST", "/x", nil), onError,
		&bodyError{http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "too big"})
	if called {
		t.Error("body errors should not reach the service error writer")
	}
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}

	fail(httptest.NewRecorder(), httptest.NewRequest("POST", "/x", nil), onError, service.ErrInvalidSession)
	if !called {
		t.Error("service errors should reach the service error writer")
	}
}

func TestStringField(t *testing.T) {
	body := map[string]interface{}{"username": "alice", "count": 3.0}
	if got := stringField(body, "username"); got != "alice" {
		t.Errorf("username = %q", got)
	}
	if got := stringField(body, "count"); got != "" {
		t.Errorf("non-string = %q, want empty", got)
	}
	if got := stringField(body, "missing"); got != "" {
		t.Errorf("missing = %q, want empty", got)
	}
}
