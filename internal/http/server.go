package httpx

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/beaconsoft/botgate/internal/assets"
)

// BeaconScript serves the embedded client library.
func BeaconScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(assets.BeaconJS)
}

// NewRouter assembles the API routes and middleware chain.
func NewRouter(env Env) chi.Router {
	r := chi.NewRouter()

	r.Use(RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   env.Cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if env.Cfg.Server.RateLimitRPS > 0 {
		rl := NewRateLimiter(env.Cfg.Server.RateLimitRPS, env.Cfg.Server.RateBurst, env.Cfg.Server.TrustProxy)
		r.Use(rl.Middleware)
	}

	r.Get("/healthz", env.Healthz)
	r.Get("/readyz", env.Readyz)
	r.Get("/botgate.js", BeaconScript)
	r.Post("/collect", env.Collect)

	r.Route("/api", func(r chi.Router) {
		r.Post("/detect", env.Detect)
		r.Post("/purchase/check", env.PurchaseCheck)
		r.Get("/scores/{sessionID}", env.ScoresHandler)
	})

	return r
}

// Server wraps the API listener with graceful shutdown.
type Server struct {
	srv *http.Server
}

func NewServer(env Env) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         env.Cfg.Server.Addr,
			Handler:      NewRouter(env),
			ReadTimeout:  env.Cfg.Server.ReadTimeout,
			WriteTimeout: env.Cfg.Server.WriteTimeout,
		},
	}
}

// Start blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	log.Printf("httpx: listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
