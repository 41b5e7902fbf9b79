package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/store"
)

var (
	// ErrKeyNotFound is returned by FindByKey for an unknown secret.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrKeyExpired is returned by FindByKey for a key past its expiry. It
	// matches ErrKeyNotFound so callers that do not care can treat both alike.
	ErrKeyExpired = fmt.Errorf("%w: expired", ErrKeyNotFound)
)

// CredentialStore issues, resolves and revokes API keys. Only the SHA-256
// hash of a secret is persisted.
type CredentialStore struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
	keyTTL time.Duration
}

// CredentialOption configures a CredentialStore.
type CredentialOption func(*CredentialStore)

// WithKeyTTL makes newly issued keys expire after ttl. Zero means never.
func WithKeyTTL(ttl time.Duration) CredentialOption {
	return func(c *CredentialStore) { c.keyTTL = ttl }
}

// WithKeyClock overrides the clock used for expiry checks.
func WithKeyClock(now func() time.Time) CredentialOption {
	return func(c *CredentialStore) { c.now = now }
}

// NewCredentialStore creates a CredentialStore.
func NewCredentialStore(st *store.Store, logger *slog.Logger, opts ...CredentialOption) *CredentialStore {
	c := &CredentialStore{store: st, logger: logger, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FindByKey resolves a raw secret to its key and owning identity. Expired
// keys yield ErrKeyExpired, unknown keys ErrKeyNotFound.
func (c *CredentialStore) FindByKey(ctx context.Context, secret string) (*model.Identity, *model.APIKey, error) {
	key, err := c.store.GetAPIKeyByHash(ctx, store.HashSecret(secret))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrKeyNotFound
		}
		return nil, nil, err
	}
	now := c.now()
	if key.Expired(now) {
		return nil, nil, ErrKeyExpired
	}
	ident, err := c.store.GetIdentity(ctx, key.IdentityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrKeyNotFound
		}
		return nil, nil, err
	}
	if err := c.store.TouchAPIKey(ctx, key.ID, now); err != nil {
		c.logger.Warn("failed to record api key use", "key_prefix", key.KeyPrefix, "error", err)
	}
	return ident, key, nil
}

// Issue generates a new key for the identity, replacing any key it held.
// The secret is returned only here.
func (c *CredentialStore) Issue(ctx context.Context, identityID int64, label string) (*model.IssuedKey, error) {
	secret, err := NewAPIKeySecret()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	now := c.now().UTC()
	key := model.APIKey{
		IdentityID: identityID,
		KeyHash:    store.HashSecret(secret),
		KeyPrefix:  secret[:keyPrefixLength],
		Label:      label,
		CreatedAt:  now,
	}
	if c.keyTTL > 0 {
		exp := now.Add(c.keyTTL)
		key.ExpiresAt = &exp
	}
	if err := c.store.ReplaceAPIKey(ctx, &key); err != nil {
		return nil, err
	}
	c.logger.Info("api key issued", "identity_id", identityID, "key_prefix", key.KeyPrefix)
	return &model.IssuedKey{Key: key, Secret: secret}, nil
}

// Revoke removes the identity's key. It is a no-op when there is none.
func (c *CredentialStore) Revoke(ctx context.Context, identityID int64) error {
	return c.store.DeleteAPIKeyForIdentity(ctx, identityID)
}

// KeyFor returns the metadata of the identity's key, or nil when it has none.
func (c *CredentialStore) KeyFor(ctx context.Context, identityID int64) (*model.APIKey, error) {
	key, err := c.store.GetAPIKeyForIdentity(ctx, identityID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return key, err
}
