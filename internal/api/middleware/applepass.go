package middleware

import (
	"context"
	"net/http"
	"strings"
)

// applePassTokenKey is the context key for the ApplePass bearer credential.
type applePassTokenKey struct{}

// applePassScheme is the authorization scheme Wallet uses on per-pass
// operations: "Authorization: ApplePass <authenticationToken>".
const applePassScheme = "ApplePass "

// ApplePassAuth extracts the ApplePass bearer credential into the request
// context. A missing or malformed header is rejected with a bare 401, per
// the web-service contract; comparing the credential against the pass's
// stored token is the service layer's job.
func ApplePassAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) < len(applePassScheme) ||
			!strings.EqualFold(header[:len(applePassScheme)], applePassScheme) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(header[len(applePassScheme):])
		if token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), applePassTokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetApplePassToken retrieves the ApplePass credential from the context.
// Returns an empty string when the request carried none.
func GetApplePassToken(ctx context.Context) string {
	if token, ok := ctx.Value(applePassTokenKey{}).(string); ok {
		return token
	}
	return ""
}
