// Package api serves the step graph over HTTP: step construction, output
// resolution, recompute, metapath reports, CWL export and an SSE event
// stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/pwb/internal/auth"
	"github.com/mattjoyce/pwb/internal/engine"
	"github.com/mattjoyce/pwb/internal/events"
	"github.com/mattjoyce/pwb/internal/graph"
	"github.com/mattjoyce/pwb/internal/metanode"
)

// SessionHeader selects the execution cache a request works against.
const SessionHeader = "X-Session-ID"

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// Image and Version pin the runtime image written into exported tools.
	Image   string
	Version string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	authn     *auth.Authenticator
	registry  *metanode.Registry
	store     graph.Store
	engines   *engine.Pool
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, registry *metanode.Registry, store graph.Store, engines *engine.Pool, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		authn:     auth.NewAuthenticator(config.APIKey, config.Tokens),
		registry:  registry,
		store:     store,
		engines:   engines,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // output resolution may wait on slow resolvers
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		read := s.requireScopes(auth.ScopeGraphRead)
		write := s.requireScopes(auth.ScopeGraphWrite)

		r.With(read).Get("/api/nodes", s.handleListNodes)
		r.Route("/api/db/process", func(r chi.Router) {
			r.With(write).Post("/", s.handleCreateStep)
			r.With(read).Get("/{id}", s.handleGetStep)
			r.With(read).Get("/{id}/output", s.handleGetOutput)
			r.With(write).Post("/{id}/output/delete", s.handleDeleteOutput)
			r.With(read).Get("/{id}/metapath", s.handleMetapath)
			r.With(read).Get("/{id}/cwl", s.handleCWL)
		})
		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
	})

	return r
}

// engineFor returns the execution cache for the request's session.
func (s *Server) engineFor(r *http.Request) *engine.Engine {
	return s.engines.Get(r.Header.Get(SessionHeader))
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"session_id", r.Header.Get(SessionHeader),
		)
	})
}
