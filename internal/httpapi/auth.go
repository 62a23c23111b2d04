package httpapi

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/habridge/bridge-server/internal/observability"
)

// APIKeyMiddleware guards the voice path with the static shared secret
// carried in X-API-Key. Comparison is constant time.
func APIKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !apiKeyMatches(r, expected) {
				observability.RequestsTotal.WithLabelValues("unauthorized").Inc()
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMatches(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	got := r.Header.Get("X-API-Key")
	if got == "" {
		// WebSocket clients in browsers cannot set headers.
		got = r.URL.Query().Get("api_key")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// Claims represents JWT claims on admin routes
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type contextKey string

const claimsKey contextKey = "claims"

// JWTAuthMiddleware validates JWT tokens
func JWTAuthMiddleware(pubKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := extractToken(r)
			if tokenStr == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing token")
				return
			}

			token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
				return pubKey, nil
			})
			if err != nil || !token.Valid {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(*Claims)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "invalid claims")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoleMiddleware enforces a minimum role on admin routes.
func RequireRoleMiddleware(required string) func(http.Handler) http.Handler {
	roleRank := map[string]int{
		"user":    1,
		"admin":   3,
		"service": 4,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			reqRank, ok := roleRank[required]
			if !ok {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}

			if roleRank[claims.Role] < reqRank {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims extracts claims from context
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return ""
}
