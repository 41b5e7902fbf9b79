package recordstore

import "errors"

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrAccess            = errors.New("access denied")
	ErrRecordNotFound    = errors.New("record not found")
	ErrReadOnly          = errors.New("collection is read-only")

	// Field validation failures. They are wrapped with the offending field
	// names.
	ErrUnknownField    = errors.New("unknown field")
	ErrReadonlyField   = errors.New("field is read-only")
	ErrMissingRequired = errors.New("missing required fields")
	ErrNoData          = errors.New("no values supplied")
	ErrInvalidValue    = errors.New("invalid field value")
)
