package httpapi_test

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/habridge/bridge-server/internal/httpapi"
	"github.com/habridge/bridge-server/internal/observability"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		expected   string
		header     string
		query      string
		wantStatus int
	}{
		{"valid header", "secret", "secret", "", http.StatusOK},
		{"valid query param", "secret", "", "secret", http.StatusOK},
		{"wrong key", "secret", "nope", "", http.StatusUnauthorized},
		{"missing key", "secret", "", "", http.StatusUnauthorized},
		{"header wins over query", "secret", "nope", "secret", http.StatusUnauthorized},
		{"empty expected rejects everything", "", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := httpapi.APIKeyMiddleware(tt.expected)(okHandler())

			url := "/process"
			if tt.query != "" {
				url += "?api_key=" + tt.query
			}
			req := httptest.NewRequest(http.MethodPost, url, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAPIKeyMiddleware_CountsRejections(t *testing.T) {
	unauthorized := observability.RequestsTotal.WithLabelValues("unauthorized")
	before := testutil.ToFloat64(unauthorized)

	handler := httpapi.APIKeyMiddleware("secret")(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if after := testutil.ToFloat64(unauthorized); after != before+1 {
		t.Errorf("unauthorized count = %v, want %v", after, before+1)
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, role string, expiry time.Duration) string {
	t.Helper()
	claims := &httpapi.Claims{
		Role: role,
		Name: "tester",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestJWTAuthMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	handler := httpapi.JWTAuthMiddleware(&key.PublicKey)(
		httpapi.RequireRoleMiddleware("admin")(okHandler()))

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"admin role", signToken(t, key, "admin", time.Hour), http.StatusOK},
		{"service role outranks admin", signToken(t, key, "service", time.Hour), http.StatusOK},
		{"user role forbidden", signToken(t, key, "user", time.Hour), http.StatusForbidden},
		{"expired token", signToken(t, key, "admin", -time.Hour), http.StatusUnauthorized},
		{"wrong signing key", signToken(t, otherKey, "admin", time.Hour), http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not.a.jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/bridge/admin/status", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
