package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/porticoapi/portico/internal/model"
)

// CreateSession inserts a session. TokenHash and the timestamps must be set
// by the caller. ID is populated on success.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	const q = `INSERT INTO sessions
		(identity_id, token_hash, created_at, expires_at, last_activity, active, ip_address, user_agent)
		VALUES
		(:identity_id, :token_hash, :created_at, :expires_at, :last_activity, :active, :ip_address, :user_agent)`

	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.LastActivity = sess.LastActivity.UTC()

	result, err := s.db.NamedExecContext(ctx, q, sess)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert session: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get session id: %w", err)
	}
	sess.ID = id
	return nil
}

// GetSessionByHash returns a session by token hash regardless of state.
func (s *Store) GetSessionByHash(ctx context.Context, hash string) (*model.Session, error) {
	var sess model.Session
	if err := s.db.GetContext(ctx, &sess, "SELECT * FROM sessions WHERE token_hash = ?", hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session by hash: %w", err)
	}
	return &sess, nil
}

// TouchSession sets last_activity on a session that is still active and
// unexpired at now. It returns ErrNotFound when no such session exists.
func (s *Store) TouchSession(ctx context.Context, hash string, now time.Time) error {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ?
		 WHERE token_hash = ? AND active = 1 AND expires_at > ?`,
		now, hash, now)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return requireRows(result, "touch session")
}

// RotateSession replaces the token and expiry of the active session keyed by
// oldHash in a single statement, provided it expires after notBefore. When
// another refresh or a logout got there first the statement matches no row
// and ErrNotFound is returned.
func (s *Store) RotateSession(ctx context.Context, oldHash, newHash string, newExpiry, now, notBefore time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET token_hash = ?, expires_at = ?, last_activity = ?
		 WHERE token_hash = ? AND active = 1 AND expires_at > ?`,
		newHash, newExpiry.UTC(), now.UTC(), oldHash, notBefore.UTC())
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	return requireRows(result, "rotate session")
}

// DeactivateSession marks a session inactive. Unknown and already inactive
// tokens are not an error.
func (s *Store) DeactivateSession(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE sessions SET active = 0 WHERE token_hash = ?", hash); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// DeactivateIdentitySessions marks every session of an identity inactive and
// returns how many were still active.
func (s *Store) DeactivateIdentitySessions(ctx context.Context, identityID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET active = 0 WHERE identity_id = ? AND active = 1", identityID)
	if err != nil {
		return 0, fmt.Errorf("deactivate identity sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpiredSessions removes every session whose expiry is before now,
// active or not, and returns the number deleted.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// ListSessions returns the sessions of an identity, newest first.
func (s *Store) ListSessions(ctx context.Context, identityID int64) ([]model.Session, error) {
	var sessions []model.Session
	if err := s.db.SelectContext(ctx, &sessions,
		"SELECT * FROM sessions WHERE identity_id = ? ORDER BY created_at DESC", identityID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
