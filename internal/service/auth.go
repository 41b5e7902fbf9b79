package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/recordstore"
	"github.com/porticoapi/portico/internal/store"
	"github.com/porticoapi/portico/internal/telemetry"
)

// Authentication schemes.
const (
	SchemeSession = "session"
	SchemeAPIKey  = "api_key"
)

// Credentials are the raw credentials carried by one request.
type Credentials struct {
	SessionToken string
	APIKey       string
}

// Principal is the authenticated identity of a request.
type Principal struct {
	Identity *model.Identity
	Scheme   string
	Session  *model.Session // set for SchemeSession
	Key      *model.APIKey  // set for SchemeAPIKey
}

// Actor returns the record store actor for the principal.
func (p *Principal) Actor() recordstore.Actor {
	return recordstore.ActorFor(p.Identity)
}

// LoginResult is returned by a successful password login or session refresh.
type LoginResult struct {
	Token     string          `json:"session_token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Identity  *model.Identity `json:"user"`
}

// Authenticator resolves request credentials to an identity. Session tokens
// take precedence over API keys.
type Authenticator struct {
	store    *store.Store
	creds    *CredentialStore
	sessions *SessionManager
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(st *store.Store, creds *CredentialStore, sessions *SessionManager, logger *slog.Logger, metrics *telemetry.Metrics) *Authenticator {
	return &Authenticator{store: st, creds: creds, sessions: sessions, logger: logger, metrics: metrics}
}

// Authenticate tries the session token first and falls back to the API key
// when the token is absent or rejected. It returns either a principal or an
// *Error, never both.
func (a *Authenticator) Authenticate(ctx context.Context, c Credentials) (*Principal, error) {
	if c.SessionToken == "" && c.APIKey == "" {
		a.metrics.ObserveAuth("none", telemetry.OutcomeMissing)
		return nil, ErrMissingCredential
	}
	if c.SessionToken != "" {
		p, err := a.AuthenticateSession(ctx, c.SessionToken)
		if err == nil || c.APIKey == "" || KindOf(err) == KindInternal {
			return p, err
		}
	}
	return a.AuthenticateAPIKey(ctx, c.APIKey)
}

// AuthenticateSession resolves a session token.
func (a *Authenticator) AuthenticateSession(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		a.metrics.ObserveAuth(SchemeSession, telemetry.OutcomeMissing)
		return nil, ErrMissingSession
	}
	sess, err := a.sessions.Validate(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			a.metrics.ObserveAuth(SchemeSession, telemetry.OutcomeInvalid)
			return nil, ErrInvalidSession
		case errors.Is(err, ErrSessionExpiredAt):
			a.metrics.ObserveAuth(SchemeSession, telemetry.OutcomeExpired)
			return nil, ErrSessionExpired
		}
		return nil, a.fault(SchemeSession, err)
	}
	ident, err := a.store.GetIdentity(ctx, sess.IdentityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.metrics.ObserveAuth(SchemeSession, telemetry.OutcomeInvalid)
			return nil, ErrInvalidSession
		}
		return nil, a.fault(SchemeSession, err)
	}
	return a.accept(SchemeSession, &Principal{Identity: ident, Scheme: SchemeSession, Session: sess})
}

// AuthenticateAPIKey resolves an API key.
func (a *Authenticator) AuthenticateAPIKey(ctx context.Context, secret string) (*Principal, error) {
	if secret == "" {
		a.metrics.ObserveAuth(SchemeAPIKey, telemetry.OutcomeMissing)
		return nil, ErrMissingAPIKey
	}
	ident, key, err := a.creds.FindByKey(ctx, secret)
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyExpired):
			a.metrics.ObserveAuth(SchemeAPIKey, telemetry.OutcomeExpired)
			return nil, ErrExpiredAPIKey
		case errors.Is(err, ErrKeyNotFound):
			a.metrics.ObserveAuth(SchemeAPIKey, telemetry.OutcomeInvalid)
			return nil, ErrInvalidAPIKey
		}
		return nil, a.fault(SchemeAPIKey, err)
	}
	return a.accept(SchemeAPIKey, &Principal{Identity: ident, Scheme: SchemeAPIKey, Key: key})
}

func (a *Authenticator) accept(scheme string, p *Principal) (*Principal, error) {
	if !p.Identity.Active {
		a.metrics.ObserveAuth(scheme, telemetry.OutcomeInactive)
		return nil, ErrInactiveIdentity
	}
	a.metrics.ObserveAuth(scheme, telemetry.OutcomeSuccess)
	return p, nil
}

func (a *Authenticator) fault(scheme string, err error) *Error {
	a.metrics.ObserveAuth(scheme, telemetry.OutcomeError)
	a.logger.Error("authentication failed", "scheme", scheme, "error", err)
	return &Error{Kind: KindInternal, Code: CodeAuthError, Message: "authentication failed", Err: err}
}

// Login verifies a login/password pair and opens a session. Unknown logins
// and wrong passwords fail identically.
func (a *Authenticator) Login(ctx context.Context, login, password string, meta model.ClientMeta) (*LoginResult, error) {
	if login == "" || password == "" {
		return nil, newError(KindValidation, CodeMissingCredentials, "username and password are required")
	}
	ident, err := a.store.VerifyCredentials(ctx, login, password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			a.metrics.ObserveAuth("password", telemetry.OutcomeInvalid)
			return nil, ErrBadLogin
		}
		return nil, a.fault("password", err)
	}
	if !ident.Active {
		a.metrics.ObserveAuth("password", telemetry.OutcomeInactive)
		return nil, ErrInactiveIdentity
	}

	token, sess, err := a.sessions.Create(ctx, ident.ID, meta)
	if err != nil {
		return nil, internal("create session", err)
	}
	if err := a.store.TouchLogin(ctx, ident.ID, sess.CreatedAt); err != nil {
		a.logger.Warn("failed to record login date", "identity_id", ident.ID, "error", err)
	}
	a.metrics.ObserveAuth("password", telemetry.OutcomeSuccess)
	a.logger.Info("login", "identity_id", ident.ID, "ip", meta.IPAddress)
	return &LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, Identity: ident}, nil
}

// Refresh rotates a session token. The session's identity is loaded and
// checked before the rotation, so a refresh for an inactive identity leaves
// the old token in place.
func (a *Authenticator) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	if token == "" {
		return nil, ErrMissingSession
	}
	sess, err := a.store.GetSessionByHash(ctx, store.HashSecret(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotRefreshable
		}
		return nil, internal("refresh session", err)
	}
	ident, err := a.store.GetIdentity(ctx, sess.IdentityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotRefreshable
		}
		return nil, internal("refresh session", err)
	}
	if !ident.Active {
		a.metrics.ObserveAuth(SchemeSession, telemetry.OutcomeInactive)
		return nil, ErrInactiveIdentity
	}

	newToken, expires, err := a.sessions.Refresh(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotRefreshable) {
			return nil, ErrNotRefreshable
		}
		return nil, internal("refresh session", err)
	}
	return &LoginResult{Token: newToken, ExpiresAt: expires, Identity: ident}, nil
}

// Logout deactivates a session. It is idempotent.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingSession
	}
	if err := a.sessions.Invalidate(ctx, token); err != nil {
		return internal("logout", err)
	}
	return nil
}
