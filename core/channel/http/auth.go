package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/artpar/restmod/core/apierr"
)

// AuthStrategy guards a route. It either rejects the request or passes it on.
type AuthStrategy func(next http.Handler) http.Handler

// PassThrough accepts every request.
func PassThrough(next http.Handler) http.Handler {
	return next
}

// BearerTokens accepts requests carrying one of tokens as a bearer token.
func BearerTokens(tokens ...string) AuthStrategy {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || given == "" {
				writeUnauthorized(w, "Missing authentication")
				return
			}
			for _, t := range tokens {
				if subtle.ConstantTimeCompare([]byte(given), []byte(t)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeUnauthorized(w, "Invalid token")
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, &apierr.Error{Kind: apierr.KindValidation, Status: http.StatusUnauthorized, Message: message})
}
