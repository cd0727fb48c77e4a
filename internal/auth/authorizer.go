package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

var ErrNotAuthorized = errors.New("caller is not authorized for identity")

type identityKey struct{}

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the authenticated identity of ctx, if any.
func IdentityFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(identityKey{}).(uuid.UUID)
	return id, ok
}

// ContextAuthorizer accepts a request on behalf of id only when the context
// was authenticated as id.
type ContextAuthorizer struct{}

func (ContextAuthorizer) RequireAuthorization(ctx context.Context, id uuid.UUID) error {
	caller, ok := IdentityFrom(ctx)
	if !ok || caller != id {
		return ErrNotAuthorized
	}
	return nil
}

// AllowAll authorizes every identity. Used by tests and trusted tooling.
type AllowAll struct{}

func (AllowAll) RequireAuthorization(context.Context, uuid.UUID) error {
	return nil
}

// Middleware authenticates "Authorization: Bearer <jwt>" headers. Requests
// without the header pass through unauthenticated; a malformed or invalid
// token is rejected with 401.
func Middleware(tokens *TokenService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			http.Error(w, `{"code":12,"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		id, err := tokens.Verify(strings.TrimSpace(raw))
		if err != nil {
			http.Error(w, `{"code":12,"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
