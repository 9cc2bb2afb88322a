// Package auth resolves the acting user of a request. Identity issuance is an
// external concern; this package only maps a presented credential to a user id.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when no user can be resolved.
var ErrUnauthenticated = errors.New("unauthenticated")

// Resolver maps a request credential to a user id.
type Resolver interface {
	ResolveUser(r *http.Request) (string, error)
}

// TokenResolver looks bearer tokens up in a static table.
type TokenResolver struct {
	tokens map[string]string
}

// NewTokenResolver creates a resolver over token -> user id.
func NewTokenResolver(tokens map[string]string) *TokenResolver {
	copied := make(map[string]string, len(tokens))
	for k, v := range tokens {
		copied[k] = v
	}
	return &TokenResolver{tokens: copied}
}

// ResolveUser implements Resolver using the Authorization: Bearer header.
func (t *TokenResolver) ResolveUser(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrUnauthenticated
	}
	userID, ok := t.tokens[strings.TrimSpace(token)]
	if !ok {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// HeaderUserIDHeader is read by HeaderResolver.
const HeaderUserIDHeader = "X-User-ID"

// HeaderResolver trusts an identity proxy that has already authenticated the
// caller and set X-User-ID.
type HeaderResolver struct{}

// ResolveUser implements Resolver.
func (HeaderResolver) ResolveUser(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserIDHeader))
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

type contextKey struct{}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the user resolved by Middleware, or "" outside it.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(contextKey{}).(string)
	return userID
}

// Middleware rejects requests without a resolvable user with 401 and stores
// the user id in the request context otherwise.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.ResolveUser(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated","kind":"unauthenticated"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
