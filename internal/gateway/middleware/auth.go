package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"vtoframes/internal/auth"
)

type principalKey struct{}

// Principal is the verified caller of a request.
type Principal struct {
	User  auth.User
	Token string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.User.UID != ""
}

// Auth verifies the bearer token of every request and stores the caller in
// the request context. Requests without a valid token pass through
// unauthenticated; handlers decide what that means. Browsers cannot set
// headers on websocket upgrades, so a "token" query parameter is accepted too.
func Auth(verifier auth.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		user, err := verifier.Verify(r.Context(), token)
		if err != nil {
			log.Printf("auth: rejected token for %s: %v", r.URL.Path, err)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{User: user, Token: token})))
	})
}

func bearerToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
