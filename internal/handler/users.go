package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/porticoapi/portico/internal/server/middleware"
	"github.com/porticoapi/portico/internal/service"
)

// UserHandler serves identity management endpoints.
type UserHandler struct {
	identities *service.IdentityService
	records    *service.RecordService
	bodyLimit  int64
	onError    middleware.ErrorFunc
}

// NewUserHandler creates a UserHandler. records supplies paging limits.
func NewUserHandler(identities *service.IdentityService, records *service.RecordService, bodyLimit int64, logger *slog.Logger) *UserHandler {
	return &UserHandler{identities: identities, records: records, bodyLimit: bodyLimit, onError: ErrorWriter(logger)}
}

// List pages through the identity directory.
// GET /api/v2/users?search=&limit=&offset=&active_only=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.records.ParsePage(q)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	activeOnly := true
	if raw := q.Get("active_only"); raw != "" {
		if activeOnly, err = strconv.ParseBool(raw); err != nil {
			writeFailure(w, http.StatusBadRequest, service.CodeInvalidValue, "active_only must be true or false")
			return
		}
	}
	list, err := h.identities.List(r.Context(), principal(r), q.Get("search"), activeOnly, page)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, list, "Found "+strconv.Itoa(list.Count)+" users")
}

// Get returns one identity.
// GET /api/v2/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	view, err := h.identities.Get(r.Context(), principal(r), id)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"user": view}, "User retrieved successfully")
}

// Update changes identity fields under the three-tier write rules.
// PUT /api/v2/users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	body, err := readJSONObject(w, r, h.bodyLimit)
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	p := principal(r)
	ident, fields, err := h.identities.Update(r.Context(), p, id, body)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	view, err := h.identities.Get(r.Context(), p, ident.ID)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user":           view,
		"updated_fields": fields,
	}, "User updated successfully")
}

// ChangePassword sets a new password.
// PUT /api/v2/users/{id}/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	body, err := readJSONObject(w, r, h.bodyLimit)
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	err = h.identities.ChangePassword(r.Context(), principal(r), id,
		stringField(body, "new_password"), stringField(body, "old_password"))
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user_id": id,
		"message": "Password changed successfully",
	}, "Password updated successfully")
}

// ResetPassword replaces the password with a temporary one, shown once.
// POST /api/v2/users/{id}/reset-password
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	temp, err := h.identities.ResetPassword(r.Context(), principal(r), id)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user_id":            id,
		"temporary_password": temp,
		"message":            "Password has been reset. User should change it on first login.",
	}, "Password reset successfully")
}

// IssueKey generates an API key, replacing any previous one. The body is
// optional and may carry a label.
// POST /api/v2/users/{id}/api-key
func (h *UserHandler) IssueKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	var label string
	if r.ContentLength > 0 {
		body, err := readJSONObject(w, r, h.bodyLimit)
		if err != nil {
			fail(w, r, h.onError, err)
			return
		}
		label = stringField(body, "label")
	}
	ident, issued, err := h.identities.IssueKey(r.Context(), principal(r), id, label)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user_id":    ident.ID,
		"user_name":  ident.Name,
		"api_key":    issued.Secret,
		"key_prefix": issued.Key.KeyPrefix,
		"expires_at": issued.Key.ExpiresAt,
		"note":       "Store this API key securely - it will not be shown again",
	}, "API key generated successfully")
}

// RevokeKey deletes the identity's API key.
// DELETE /api/v2/users/{id}/api-key
func (h *UserHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	if err := h.identities.RevokeKey(r.Context(), principal(r), id); err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{"user_id": id}, "API key revoked")
}

// Groups lists every group by category. User managers only.
// GET /api/v2/groups
func (h *UserHandler) Groups(w http.ResponseWriter, r *http.Request) {
	byCategory, total, err := h.identities.Groups(r.Context(), principal(r))
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"groups_by_category": byCategory,
		"total_groups":       total,
	}, "Available groups retrieved")
}
