package model

import "time"

// APIKey is the long-lived credential owned by an identity. The raw secret
// is never stored; only a SHA-256 hash and a short prefix for identification
// are persisted.
type APIKey struct {
	ID         int64      `json:"id" db:"id"`
	IdentityID int64      `json:"identity_id" db:"identity_id"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	Label      string     `json:"label" db:"label"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsed   *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// Expired reports whether the key carries an expiration that is not after now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// IssuedKey is returned exactly once, when a key is generated.
type IssuedKey struct {
	Key    APIKey `json:"key"`
	Secret string `json:"api_key"`
}
