package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

// RouterConfig collects what the HTTP surface is built from
type RouterConfig struct {
	Formatter *entityfields.Formatter
	Fields    FieldLookup

	// Admin routes are mounted only when Store is set
	Store    Store
	Displays DisplayWriter

	// Auth verifies viewer tokens. Without it every request is anonymous.
	Auth *jwtauth.JWTAuth

	CORSOrigins  []string
	MaxBodyBytes int64
}

// NewRouter assembles the service routes
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}
	if cfg.MaxBodyBytes > 0 {
		r.Use(MaxBodySize(cfg.MaxBodyBytes))
	}

	if cfg.Auth != nil {
		r.Use(jwtauth.Verifier(cfg.Auth))
		r.Use(ViewerMiddleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Mount("/", NewRenderHandler(cfg.Formatter, cfg.Fields).Routes())

	if cfg.Store != nil && cfg.Displays != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequirePermission(PermissionAdminister))
			r.Mount("/", NewAdminHandler(cfg.Store, cfg.Displays).Routes())
		})
	}

	return r
}

// NewHS256Auth creates the token verifier for a shared secret
func NewHS256Auth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}
