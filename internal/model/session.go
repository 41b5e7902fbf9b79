package model

import "time"

// Session is a short-lived credential created by password login. Only the
// SHA-256 hash of the token is persisted.
type Session struct {
	ID           int64     `json:"id" db:"id"`
	IdentityID   int64     `json:"identity_id" db:"identity_id"`
	TokenHash    string    `json:"-" db:"token_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	LastActivity time.Time `json:"last_activity" db:"last_activity"`
	Active       bool      `json:"active" db:"active"`
	IPAddress    string    `json:"ip_address" db:"ip_address"`
	UserAgent    string    `json:"user_agent" db:"user_agent"`
}

// ClientMeta is optional information about the client that opened a session.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Valid reports whether the session may authenticate at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}
