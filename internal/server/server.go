// Package server provides the HTTP API for the index config catalog.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/hyperjump/indexdef/internal/catalog"
	"github.com/hyperjump/indexdef/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// WatchService manages the directories whose config files are kept in sync.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the catalog API.
type Server struct {
	catalog    *catalog.Catalog
	config     *config.Config
	logger     *zap.Logger
	watch      WatchService // nil when watching is disabled
	configPath string       // where watch changes are persisted; empty disables it
	version    string
	configMu   sync.Mutex
	server     *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	cat *catalog.Catalog,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
	version string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		catalog:    cat,
		config:     cfg,
		logger:     logger,
		watch:      watch,
		configPath: configPath,
		version:    version,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.config.Debug {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/indexes", s.handleListIndexes)
		r.Get("/indexes/{id}", s.handleGetIndex)
		r.Get("/indexes/{id}/describe", s.handleDescribeIndex)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit())
			r.Post("/validate", s.handleValidate)
			r.Post("/indexes", s.handleCreateIndex)
			r.Put("/indexes/{id}", s.handleUpdateIndex)
			r.Delete("/indexes/{id}", s.handleDeleteIndex)
			r.Post("/indexes/{id}/parse", s.handleParseDocuments)
			r.Post("/indexes/{id}/preview", s.handlePreview)
			r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
			r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
		})
	})
	return r
}

// rateLimit limits mutating requests per client IP.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	window := time.Minute
	return httprate.Limit(
		s.config.API.RateLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
