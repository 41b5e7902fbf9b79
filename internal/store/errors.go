package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert or update violates a unique
	// constraint (login, group name, source name, key hash).
	ErrDuplicate = errors.New("already exists")
	// ErrInvalidCredentials is returned by VerifyCredentials for an unknown
	// login and for a wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
