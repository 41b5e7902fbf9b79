package middleware

import (
	"context"
	"net/http"

	"github.com/porticoapi/portico/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// ErrorFunc writes err as an error response.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Headers names the request headers that carry credentials.
type Headers struct {
	APIKey  string
	Session string
}

// Authenticate returns an HTTP middleware that resolves the request's
// credentials through auth. Two headers are recognised, one carrying an API
// key and one carrying a session token; the session token wins when both
// are present.
//
// On success the principal is attached to the request context. On failure
// onError writes the response and the chain stops.
func Authenticate(auth *service.Authenticator, h Headers, onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := auth.Authenticate(r.Context(), service.Credentials{
				APIKey:       r.Header.Get(h.APIKey),
				SessionToken: r.Header.Get(h.Session),
			})
			if err != nil {
				onError(w, r, err)
				return
			}
			annotateIdentity(r.Context(), p.Identity.ID)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireUserManager returns an HTTP middleware that lets only user managers
// and admins through. It must be used after Authenticate in the middleware
// chain.
func RequireUserManager(onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil || !p.Identity.CanManageUsers() {
				onError(w, r, &service.Error{
					Kind:    service.KindAccessDenied,
					Code:    service.CodeAccessDenied,
					Message: "user manager access required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *service.Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}
