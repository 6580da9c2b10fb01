// Package middleware provides HTTP middleware for the relayd API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// Auth returns middleware that validates the daemon's bearer token. The token
// is generated at startup and recorded in the state file; clients read it
// from there. Streaming endpoints (SSE via EventSource, WebSocket) cannot set
// headers, so a ?token= query parameter is accepted as well. Comparison is
// constant-time.
func Auth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			presented := ""
			if h := r.Header.Get("Authorization"); h != "" {
				presented = strings.TrimPrefix(h, "Bearer ")
				if presented == h {
					http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
					return
				}
			} else {
				presented = r.URL.Query().Get("token")
			}
			if presented == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
