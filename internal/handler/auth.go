package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/server/middleware"
	"github.com/porticoapi/portico/internal/service"
)

// APIVersion is reported by the unauthenticated test endpoint.
const APIVersion = "2.0"

// AuthHandler serves login, session and identity information endpoints.
type AuthHandler struct {
	auth          *service.Authenticator
	sessionHeader string
	bodyLimit     int64
	onError       middleware.ErrorFunc
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. sessionHeader names the header
// carrying session tokens for refresh and logout.
func NewAuthHandler(auth *service.Authenticator, sessionHeader string, bodyLimit int64, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:          auth,
		sessionHeader: sessionHeader,
		bodyLimit:     bodyLimit,
		onError:       ErrorWriter(logger),
		logger:        logger,
	}
}

// Test reports that the API is up. No authentication.
// GET /api/v2/test
func (h *AuthHandler) Test(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message": "API v2 is working!",
		"version": APIVersion,
	}, "Basic test successful")
}

// AuthTest echoes the authenticated identity.
// GET /api/v2/auth/test
func (h *AuthHandler) AuthTest(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user_id":       p.Identity.ID,
		"user_name":     p.Identity.Name,
		"user_login":    p.Identity.Login,
		"authenticated": true,
		"auth_scheme":   p.Scheme,
	}, "Authentication test successful")
}

// Login exchanges a username and password for a session token.
// POST /api/v2/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := readJSONObject(w, r, h.bodyLimit)
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	res, err := h.auth.Login(r.Context(), stringField(body, "username"), stringField(body, "password"), model.ClientMeta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sessionPayload(res.Token, res.ExpiresAt, res.Identity), "Login successful")
}

// Refresh rotates the session token in the session header. Expired
// sessions may be refreshed within the grace window.
// POST /api/v2/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.auth.Refresh(r.Context(), r.Header.Get(h.sessionHeader))
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sessionPayload(res.Token, res.ExpiresAt, res.Identity), "Session refreshed successfully")
}

// Logout deactivates the session in the session header. Unknown and
// already inactive sessions succeed too.
// POST /api/v2/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), r.Header.Get(h.sessionHeader)); err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil, "Logout successful")
}

// Me returns the caller's profile with groups and permissions.
// GET /api/v2/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user": service.Profile(principal(r)),
	}, "User information retrieved")
}

// UserInfo returns basic information about the caller.
// GET /api/v2/user/info
func (h *AuthHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	ident := principal(r).Identity
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user": map[string]interface{}{
			"id":         ident.ID,
			"name":       ident.Name,
			"login":      ident.Login,
			"email":      ident.Email,
			"active":     ident.Active,
			"company_id": ident.CompanyID,
		},
		"api_version": APIVersion,
	}, "User information retrieved successfully")
}

func sessionPayload(token string, expires time.Time, ident *model.Identity) map[string]interface{} {
	return map[string]interface{}{
		"session_token": token,
		"expires_at":    expires.UTC().Format(time.RFC3339),
		"user": map[string]interface{}{
			"id":     ident.ID,
			"name":   ident.Name,
			"login":  ident.Login,
			"email":  ident.Email,
			"groups": ident.GroupNames(),
		},
	}
}
