package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// readAuth guards the read API with HS256 bearer tokens when API_TOKEN_SECRET
// is configured. Without a secret the read API is open; the webhook entry
// point is never guarded by this middleware — it has its own HMAC check.
func (s *Server) readAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APITokenSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			respondError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		raw := strings.TrimSpace(authz[7:])

		_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.APITokenSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
