package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/25x8/smm-reseller/internal/reseller/config"
	"github.com/25x8/smm-reseller/internal/reseller/handlers"
	"github.com/25x8/smm-reseller/internal/reseller/middleware"
	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/respond"
)

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	core       *Components
	handler    *handlers.Handler
	httpServer *http.Server
}

// NewServer creates a new server
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	core, err := NewComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		core:    core,
		handler: handlers.NewHandler(core.Providers, core.Orders),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.health)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(&middleware.JWTConfig{
			SecretKey: s.cfg.JWTSecret,
			Users:     s.core.Repo,
		}))
		r.Use(middleware.RateLimit(s.core.Limiter, s.cfg.RateLimit, s.cfg.RateWindow))

		r.Post("/orders", s.handler.Orders)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin))

			r.Post("/providers", s.handler.Providers)
			r.Get("/sync-service-catalog", s.handler.SyncServiceCatalog)
			r.Get("/sync-order-status", s.handler.SyncOrderStatus)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.core.Repo.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check: database")
		respond.Fail(w, http.StatusServiceUnavailable, "unhealthy", "database unreachable")
		return
	}
	if s.core.Redis != nil {
		if err := s.core.Redis.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("health check: redis")
			respond.Fail(w, http.StatusServiceUnavailable, "unhealthy", "redis unreachable")
			return
		}
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run starts the scheduler and the HTTP server. It returns nil after a
// graceful shutdown.
func (s *Server) Run() error {
	s.core.Scheduler.Start()

	log.Info().Str("addr", s.cfg.RunAddress).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}

	// Stop background jobs after in-flight requests drain
	if s.core.Scheduler != nil {
		s.core.Scheduler.Stop()
	}

	errs = append(errs, s.core.Close())
	return errors.Join(errs...)
}
