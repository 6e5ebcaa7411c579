package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/passrelay/passrelay/internal/api/models"
)

// APIKeyAuth guards the operator endpoints with a static bearer key.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "

			header := r.Header.Get("Authorization")
			if len(header) < len(bearerPrefix) ||
				!strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			presented := header[len(bearerPrefix):]
			if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				writeUnauthorized(w, r, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized writes a 401 Problem response.
// Implemented here to avoid an import cycle with the response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}
