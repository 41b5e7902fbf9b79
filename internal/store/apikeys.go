package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/porticoapi/portico/internal/model"
)

// ReplaceAPIKey stores key as the identity's only API key, removing any key
// it held before. KeyHash must already be set (see HashSecret). ID and
// CreatedAt are populated on success.
func (s *Store) ReplaceAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO api_keys
		(identity_id, key_hash, key_prefix, label, expires_at, created_at)
		VALUES
		(:identity_id, :key_hash, :key_prefix, :label, :expires_at, :created_at)`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM api_keys WHERE identity_id = ?", key.IdentityID); err != nil {
			return fmt.Errorf("delete previous api key: %w", err)
		}
		result, err := tx.NamedExecContext(ctx, q, key)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert api key: %w", ErrDuplicate)
			}
			return fmt.Errorf("insert api key: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get api key id: %w", err)
		}
		key.ID = id
		return nil
	})
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash, expired or not.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE key_hash = ?", hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// GetAPIKeyForIdentity returns the identity's key metadata.
func (s *Store) GetAPIKeyForIdentity(ctx context.Context, identityID int64) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE identity_id = ?", identityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key for identity: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns the metadata of every key, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// DeleteAPIKeyForIdentity removes the identity's key. It is a no-op when the
// identity has none.
func (s *Store) DeleteAPIKeyForIdentity(ctx context.Context, identityID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE identity_id = ?", identityID); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}

// TouchAPIKey sets the last_used timestamp of a key.
func (s *Store) TouchAPIKey(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, "UPDATE api_keys SET last_used = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return requireRows(result, "touch api key")
}
