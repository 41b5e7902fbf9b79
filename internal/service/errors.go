package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure.
type Kind int

const (
	KindInternal Kind = iota
	KindMissingCredential
	KindInvalidCredential
	KindExpiredCredential
	KindNotRefreshable
	KindInactiveIdentity
	KindAccessDenied
	KindNotFound
	KindValidation
	KindConflict
)

var kindNames = map[Kind]string{
	KindInternal:          "InternalFault",
	KindMissingCredential: "MissingCredential",
	KindInvalidCredential: "InvalidCredential",
	KindExpiredCredential: "ExpiredCredential",
	KindNotRefreshable:    "NotRefreshable",
	KindInactiveIdentity:  "InactiveIdentity",
	KindAccessDenied:      "AccessDenied",
	KindNotFound:          "NotFound",
	KindValidation:        "ValidationError",
	KindConflict:          "Conflict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned by every service operation. Code is a stable machine
// readable string; Message is safe to show to API clients. Err holds the
// underlying cause and is never shown to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and code, so sentinel values
// below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Code == e.Code
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// internal wraps an unexpected fault. The message shown to clients is
// generic.
func internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Error codes.
const (
	CodeMissingAPIKey       = "MISSING_API_KEY"
	CodeMissingSessionToken = "MISSING_SESSION_TOKEN"
	CodeMissingCredentials  = "MISSING_CREDENTIALS"
	CodeInvalidAPIKey       = "INVALID_API_KEY"
	CodeExpiredAPIKey       = "EXPIRED_API_KEY"
	CodeInvalidSession      = "INVALID_SESSION"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeInactiveUser        = "INACTIVE_USER"
	CodeAuthError           = "AUTH_ERROR"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeNotRefreshable      = "SESSION_NOT_REFRESHABLE"
	CodeModelNotFound       = "MODEL_NOT_FOUND"
	CodeRecordNotFound      = "RECORD_NOT_FOUND"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeAdminFieldDenied    = "ADMIN_FIELD_ACCESS_DENIED"
	CodeInvalidFields       = "INVALID_FIELDS"
	CodeUnknownField        = "UNKNOWN_FIELD"
	CodeReadonlyField       = "READONLY_FIELD"
	CodeMissingRequired     = "MISSING_REQUIRED_FIELDS"
	CodeNoValidFields       = "NO_VALID_FIELDS"
	CodeInvalidValue        = "INVALID_VALUE"
	CodeNoData              = "NO_DATA"
	CodeInvalidPagination   = "INVALID_PAGINATION"
	CodeInvalidIDs          = "INVALID_IDS"
	CodeInvalidOrder        = "INVALID_ORDER"
	CodeMissingPassword     = "MISSING_PASSWORD"
	CodeMissingOldPassword  = "MISSING_OLD_PASSWORD"
	CodeInvalidOldPassword  = "INVALID_OLD_PASSWORD"
	CodePasswordNotAllowed  = "PASSWORD_FIELD_NOT_ALLOWED"
	CodeUnknownGroup        = "UNKNOWN_GROUP"
	CodeReadOnlySource      = "READ_ONLY_SOURCE"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

// Sentinel failures of the authentication core.
var (
	ErrMissingCredential = newError(KindMissingCredential, CodeMissingCredentials, "no API key or session token provided")
	ErrMissingAPIKey     = newError(KindMissingCredential, CodeMissingAPIKey, "API key is required")
	ErrMissingSession    = newError(KindMissingCredential, CodeMissingSessionToken, "session token is required")
	ErrInvalidAPIKey     = newError(KindInvalidCredential, CodeInvalidAPIKey, "invalid API key")
	ErrExpiredAPIKey     = newError(KindExpiredCredential, CodeExpiredAPIKey, "API key has expired")
	ErrInvalidSession    = newError(KindInvalidCredential, CodeInvalidSession, "invalid or inactive session")
	ErrSessionExpired    = newError(KindExpiredCredential, CodeSessionExpired, "session has expired")
	ErrInactiveIdentity  = newError(KindInactiveIdentity, CodeInactiveUser, "user account is inactive")
	ErrBadLogin          = newError(KindInvalidCredential, CodeInvalidCredentials, "invalid username or password")
	ErrNotRefreshable    = newError(KindNotRefreshable, CodeNotRefreshable, "session cannot be refreshed")
)
