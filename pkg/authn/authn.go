// Package authn resolves the calling principal from a request.
package authn

import (
	"context"
	"net/http"
	"strings"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/identity"
)

const Scheme = "Principal"

type ctxKey struct{}

// CallerFromRequest reads "Authorization: Principal <id>". A request without
// the header is Anonymous; a header in any other scheme is rejected.
func CallerFromRequest(r *http.Request) (identity.Identity, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return identity.Anonymous, nil
	}
	id, ok := parsePrincipal(header)
	if !ok {
		return "", apierr.Unauthenticatedf("authorization header must use the %s scheme", Scheme)
	}
	return id, nil
}

// SetCaller sets the header CallerFromRequest reads. Anonymous leaves the
// request untouched.
func SetCaller(h http.Header, id identity.Identity) {
	if id.IsAnonymous() {
		return
	}
	h.Set("Authorization", Scheme+" "+id.String())
}

// Middleware resolves the caller once and stores it on the request context.
func Middleware(onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := CallerFromRequest(r)
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), id)))
		})
	}
}

func WithCaller(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Caller returns the principal stored by Middleware, or Anonymous.
func Caller(ctx context.Context) identity.Identity {
	if id, ok := ctx.Value(ctxKey{}).(identity.Identity); ok {
		return id
	}
	return identity.Anonymous
}

func parsePrincipal(header string) (identity.Identity, bool) {
	const prefix = Scheme + " "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if raw == "" {
		return "", false
	}
	return identity.Parse(raw), true
}
