package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/store"
	"github.com/porticoapi/portico/internal/telemetry"
)

// Session lifetimes used when none are configured.
const (
	DefaultSessionTTL   = 24 * time.Hour
	DefaultRefreshGrace = time.Hour
)

var (
	// ErrSessionNotFound is returned by Validate for an unknown token or a
	// session that has been deactivated.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpiredAt is returned by Validate for a session whose expiry
	// has passed.
	ErrSessionExpiredAt = errors.New("session expired")
	// ErrSessionNotRefreshable is returned by Refresh when the session is
	// inactive, unknown, or expired for longer than the grace period.
	ErrSessionNotRefreshable = errors.New("session not refreshable")
)

// SessionManager creates, validates, refreshes and expires session tokens.
// Only token hashes are stored.
type SessionManager struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	ttl     time.Duration
	grace   time.Duration
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithClock overrides the clock.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// WithTTL sets how long new and refreshed sessions are valid.
func WithTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithGrace sets how long after expiry a session may still be refreshed.
func WithGrace(grace time.Duration) SessionOption {
	return func(m *SessionManager) {
		if grace >= 0 {
			m.grace = grace
		}
	}
}

// WithSessionMetrics records session events.
func WithSessionMetrics(metrics *telemetry.Metrics) SessionOption {
	return func(m *SessionManager) { m.metrics = metrics }
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(st *store.Store, logger *slog.Logger, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:  st,
		logger: logger,
		now:    time.Now,
		ttl:    DefaultSessionTTL,
		grace:  DefaultRefreshGrace,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TTL returns the validity window of new sessions.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Create opens a session for the identity and returns its token. The token
// is not retrievable afterwards.
func (m *SessionManager) Create(ctx context.Context, identityID int64, meta model.ClientMeta) (string, *model.Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate session token: %w", err)
	}
	now := m.now().UTC()
	sess := &model.Session{
		IdentityID:   identityID,
		TokenHash:    store.HashSecret(token),
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastActivity: now,
		Active:       true,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", nil, err
	}
	m.metrics.ObserveSession("created", 1)
	return token, sess, nil
}

// Validate returns the session for token when it is active and unexpired,
// recording the activity. Expiry is not extended.
func (m *SessionManager) Validate(ctx context.Context, token string) (*model.Session, error) {
	hash := store.HashSecret(token)
	sess, err := m.store.GetSessionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !sess.Active {
		return nil, ErrSessionNotFound
	}
	now := m.now()
	if !sess.Valid(now) {
		return nil, ErrSessionExpiredAt
	}
	// The touch is conditional on the session still being valid, so a
	// concurrent logout or refresh shows up as zero rows.
	if err := m.store.TouchSession(ctx, hash, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	sess.LastActivity = now.UTC()
	return sess, nil
}

// Refresh replaces the token and expiry of an active session whose expiry is
// less than the grace period in the past. The old token stops working
// immediately. Of two concurrent refreshes of one token exactly one wins.
func (m *SessionManager) Refresh(ctx context.Context, token string) (string, time.Time, error) {
	newToken, err := NewSessionToken()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	err = m.store.RotateSession(ctx, store.HashSecret(token), store.HashSecret(newToken), expires, now, now.Add(-m.grace))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", time.Time{}, ErrSessionNotRefreshable
		}
		return "", time.Time{}, err
	}
	m.metrics.ObserveSession("refreshed", 1)
	return newToken, expires, nil
}

// Invalidate deactivates the session. Unknown and already inactive tokens
// are not an error.
func (m *SessionManager) Invalidate(ctx context.Context, token string) error {
	if err := m.store.DeactivateSession(ctx, store.HashSecret(token)); err != nil {
		return err
	}
	m.metrics.ObserveSession("invalidated", 1)
	return nil
}

// InvalidateAll deactivates every session of an identity.
func (m *SessionManager) InvalidateAll(ctx context.Context, identityID int64) (int64, error) {
	n, err := m.store.DeactivateIdentitySessions(ctx, identityID)
	if err != nil {
		return 0, err
	}
	m.metrics.ObserveSession("invalidated", int(n))
	return n, nil
}

// Sweep deletes every session whose expiry has passed, active or not.
func (m *SessionManager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredSessions(ctx, m.now())
	if err != nil {
		return 0, err
	}
	m.metrics.ObserveSession("swept", int(n))
	return n, nil
}
