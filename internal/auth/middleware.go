package auth

import (
	"context"
	"net/http"
	"strings"
)

const (
	// HeaderAdminToken carries the admin credential.
	HeaderAdminToken = "X-Admin-Token"

	// QueryAdminToken carries the admin credential in the query string.
	QueryAdminToken = "admin_token"
)

type contextKey struct{}

// Middleware stores the admin credential presented in the header or query
// string on the request context. It never rejects a request; authorization is
// decided per operation.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if credential := credentialFromRequest(r); credential != "" {
			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, credential))
		}
		next.ServeHTTP(w, r)
	})
}

func credentialFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderAdminToken)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryAdminToken))
}

// CredentialFromContext returns the credential stored by Middleware, or "".
func CredentialFromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKey{}).(string)
	return v
}

// Credential prefers an explicit body credential over the request-level one.
func Credential(ctx context.Context, body string) string {
	if body = strings.TrimSpace(body); body != "" {
		return body
	}
	return CredentialFromContext(ctx)
}
