package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/engine"
	"github.com/mattjoyce/herald/internal/log"
)

// Server is the embedded introspection/admin HTTP API. It is optional and
// off by default; the engine itself is a library and needs no network
// surface.
type Server struct {
	cfg    config.APIConfig
	engine *engine.Engine
	logger *slog.Logger
	http   *http.Server
}

func NewServer(cfg config.APIConfig, eng *engine.Engine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		logger: log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Delete("/queue/items/{id}", s.handleCancelItem)
		r.Get("/rules", s.handleListRules)
		r.Put("/rules/{id}/active", s.handleSetRuleActive)
		r.Post("/events", s.handleSubmitEvent)
		r.Get("/events", s.handleEventStream)
		r.Post("/profiles", s.handleUpsertProfile)
	})

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.cfg.Listen)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requireAuth enforces the configured bearer token on every /v1 endpoint.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.APIKey == "" {
			writeError(w, http.StatusUnauthorized, "api key not configured")
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Auth.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
