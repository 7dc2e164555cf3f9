// Package api serves the package store over HTTP and bakes submitted
// documents on request.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/schema"
	"github.com/mattjoyce/honeycomb/internal/store"
)

// PackageStore is the part of the store the server reads and writes.
type PackageStore interface {
	bake.Fetcher
	Put(ctx context.Context, pkg *bake.Package) error
	ByTag(ctx context.Context, kind schema.DependencyKind, name, tag string) (*bake.Package, error)
	ByDigest(ctx context.Context, digest string) (*bake.Package, error)
	List(ctx context.Context, kind schema.DependencyKind) ([]store.Entry, error)
	RecordBake(ctx context.Context, rec store.BakeRecord, cause error) (string, error)
	Bakes(ctx context.Context, limit int) ([]store.BakeRecord, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// Token guards POST /bake. Empty leaves the endpoint open.
	Token           string
	MaxBodyBytes    int64
	MaxDepth        int
	ShutdownTimeout time.Duration
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	store     PackageStore
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance.
func New(config Config, packages PackageStore, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 4 << 20
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		store:     packages,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/packages", s.handleListPackages)
	r.Get("/packages/{kind}/{name}/{tag}", s.handleGetPackage)
	r.Get("/digests/{digest}", s.handleGetDigest)
	r.Get("/bakes", s.handleListBakes)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/bake", s.handleBake)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
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
		)
	})
}
