package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/auroraid/apiserver/config"
	"github.com/auroraid/apiserver/internal/handlers"
	"github.com/auroraid/apiserver/internal/logging"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	deps       *Dependencies
	logger     zerolog.Logger
}

// New wires the configured store and mail delivery and builds the router.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	deps, err := Wire(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	router := NewRouter(deps, cfg.CORSOrigins, logger)

	port := cfg.ServerPort
	if port == 0 {
		port = 5002
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		deps:       deps,
		logger:     logger,
	}, nil
}

// NewRouter mounts the auth and health routes behind the standard middleware.
// Browsers on corsOrigins may call the API cross-origin.
func NewRouter(deps *Dependencies, corsOrigins []string, logger zerolog.Logger) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}),
		logging.Middleware(logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(deps.Store))
	handlers.AuthRouter(router, deps.Auth)
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the store and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.deps.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
