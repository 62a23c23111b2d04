package httpapi

import (
	"crypto/rsa"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/habridge/bridge-server/internal/config"
	"github.com/habridge/bridge-server/internal/observability"
	"github.com/habridge/bridge-server/internal/ratelimit"
)

// NewRouter creates the HTTP router. limiter may be nil (no rate limiting).
func NewRouter(h *Handler, cfg *config.Config, limiter *ratelimit.Limiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)

	// Public
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Method("GET", "/metrics", observability.MetricsHandler())

	// Voice path, guarded by the shared secret
	r.Group(func(r chi.Router) {
		r.Use(APIKeyMiddleware(cfg.BridgeAPIKey))
		if limiter != nil {
			r.Use(limiter.Middleware(ratelimit.KeyByIP))
		}
		r.Post("/process", h.ProcessCommand)
		r.Get("/ws/console", h.HandleConsole)
	})

	// Admin routes
	pubKey, err := loadRSAPublicKey(cfg.JWTPublicKeyPath)
	if err != nil {
		if cfg.JWTPublicKeyPath != "" {
			h.logger.Error("failed to load jwt public key, admin routes disabled",
				"path", cfg.JWTPublicKeyPath, "error", err)
		}
		pubKey = nil
	}
	if pubKey != nil {
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(pubKey))
			r.Use(RequireRoleMiddleware("admin"))

			r.Get("/api/bridge/admin/status", h.AdminStatus)
			r.Get("/api/bridge/admin/transcripts", h.AdminTranscripts)
		})
	}

	return r
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyData)
}

// CORSMiddleware handles CORS
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
