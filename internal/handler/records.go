package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/porticoapi/portico/internal/query"
	"github.com/porticoapi/portico/internal/server/middleware"
	"github.com/porticoapi/portico/internal/service"
)

// RecordHandler serves the generic collection endpoints.
type RecordHandler struct {
	records   *service.RecordService
	bodyLimit int64
	onError   middleware.ErrorFunc
}

// NewRecordHandler creates a RecordHandler.
func NewRecordHandler(records *service.RecordService, bodyLimit int64, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{records: records, bodyLimit: bodyLimit, onError: ErrorWriter(logger)}
}

// Collections lists the collections the caller may read.
// GET /api/v2/collections
func (h *RecordHandler) Collections(w http.ResponseWriter, r *http.Request) {
	names, err := h.records.Collections(r.Context(), principal(r))
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"collections": names,
		"count":       len(names),
	}, "Found "+strconv.Itoa(len(names))+" collections")
}

// Search runs a filtered search. Query parameters other than fields, limit,
// offset, order and include_inactive are equality filters.
// GET /api/v2/search/{collection}
func (h *RecordHandler) Search(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	res, err := h.records.Search(r.Context(), principal(r), name, r.URL.Query())
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, res, "Found "+strconv.Itoa(res.Count)+" records in "+name)
}

// Fields describes a collection.
// GET /api/v2/fields/{collection}
func (h *RecordHandler) Fields(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	fields, err := h.records.Fields(r.Context(), principal(r), name)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"collection":  name,
		"fields":      fields,
		"field_count": len(fields),
	}, "Fields retrieved for "+name)
}

// Read returns records by id, in the order given.
// GET /api/v2/read/{collection}?ids=1,2&fields=name
func (h *RecordHandler) Read(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	records, err := h.records.Read(r.Context(), principal(r), name, r.URL.Query())
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"records":    records,
		"count":      len(records),
		"collection": name,
	}, "Read "+strconv.Itoa(len(records))+" records from "+name)
}

// Create inserts a record from a JSON body.
// POST /api/v2/create/{collection}
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	body, err := readJSONObject(w, r, h.bodyLimit)
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	created, err := h.records.Create(r.Context(), principal(r), name, body)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	msg := "Record created in " + name
	if created.Credentials != nil {
		msg = "User created successfully with credentials"
	}
	writeSuccess(w, http.StatusCreated, created, msg)
}

// Write updates the records named by the ids parameter from a JSON body.
// PUT /api/v2/write/{collection}?ids=1,2
func (h *RecordHandler) Write(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	ids, err := query.ParseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, service.CodeInvalidIDs, err.Error())
		return
	}
	body, err := readJSONObject(w, r, h.bodyLimit)
	if err != nil {
		fail(w, r, h.onError, err)
		return
	}
	written, err := h.records.Write(r.Context(), principal(r), name, ids, body)
	if err != nil {
		h.onError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, written, "Updated "+strconv.Itoa(len(ids))+" records in "+name)
}
