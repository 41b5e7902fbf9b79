package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/server/middleware"
	"github.com/porticoapi/portico/internal/service"
)

// Codes for failures detected before a request reaches the service layer.
const (
	CodeInvalidContentType = "INVALID_CONTENT_TYPE"
	CodeInvalidJSON        = "INVALID_JSON"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeRouteNotFound      = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k service.Kind) int {
	switch k {
	case service.KindMissingCredential, service.KindInvalidCredential,
		service.KindExpiredCredential, service.KindNotRefreshable:
		return http.StatusUnauthorized
	case service.KindInactiveIdentity, service.KindAccessDenied:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeSuccess writes the success envelope.
func writeSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	writeJSON(w, status, model.SuccessResponse{Success: true, Data: data, Message: message})
}

// writeFailure writes the error envelope with an explicit status and code.
func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, model.NewErrorResponse(code, message))
}

// ErrorWriter returns a function that writes err as an error envelope.
// Internal faults are logged with their cause and shown to the client only
// as a generic message.
func ErrorWriter(logger *slog.Logger) middleware.ErrorFunc {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		var e *service.Error
		if !errors.As(err, &e) {
			e = &service.Error{Kind: service.KindInternal, Code: service.CodeInternal, Message: "internal error", Err: err}
		}
		status := StatusFor(e.Kind)
		if status >= 500 {
			logger.Error("request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"code", e.Code,
				"request_id", middleware.GetRequestID(r.Context()),
				"error", e.Err,
			)
		}
		writeFailure(w, status, e.Code, e.Message)
	}
}

// NotFound answers requests that matched no route.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, http.StatusNotFound, CodeRouteNotFound, "no route for "+r.Method+" "+r.URL.Path)
}

// MethodNotAllowed answers requests to a known path with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method "+r.Method+" not allowed")
}

// RateLimited answers requests rejected by a rate limiter.
func RateLimited(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests, slow down")
}

// bodyError is a request body failure that maps to its own status.
type bodyError struct {
	status  int
	code    string
	message string
}

func (e *bodyError) Error() string { return e.code + ": " + e.message }

// readJSONObject decodes a JSON object body of at most limit bytes. The
// request must declare Content-Type application/json. An empty body or an
// empty object is NO_DATA.
func readJSONObject(w http.ResponseWriter, r *http.Request, limit int64) (map[string]interface{}, error) {
	defer r.Body.Close()

	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return nil, &bodyError{http.StatusBadRequest, CodeInvalidContentType, "Content-Type must be application/json"}
	}

	body := io.Reader(r.Body)
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	var v map[string]interface{}
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return nil, &bodyError{http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
				"request body exceeds " + strconv.FormatInt(tooBig.Limit, 10) + " bytes"}
		case errors.Is(err, io.EOF):
			return nil, &bodyError{http.StatusBadRequest, service.CodeNoData, "no data provided"}
		}
		return nil, &bodyError{http.StatusBadRequest, CodeInvalidJSON, "invalid JSON"}
	}
	if len(v) == 0 {
		return nil, &bodyError{http.StatusBadRequest, service.CodeNoData, "no data provided"}
	}
	return v, nil
}

// fail writes err, which is either a body failure or a service error.
func fail(w http.ResponseWriter, r *http.Request, onError middleware.ErrorFunc, err error) {
	var be *bodyError
	if errors.As(err, &be) {
		writeFailure(w, be.status, be.code, be.message)
		return
	}
	onError(w, r, err)
}

// pathID extracts a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &bodyError{http.StatusBadRequest, service.CodeInvalidIDs, name + " must be a positive integer"}
	}
	return id, nil
}

// principal returns the authenticated principal. Routes using it are always
// mounted behind the Authenticate middleware.
func principal(r *http.Request) *service.Principal {
	return middleware.GetPrincipal(r.Context())
}

// stringField reads an optional string from a decoded body.
func stringField(body map[string]interface{}, key string) string {
	s, _ := body[key].(string)
	return s
}
