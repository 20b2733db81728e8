// Package server provides the HTTP API for causa.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/causa/internal/config"
	"github.com/hyperjump/causa/internal/runner"
	"github.com/hyperjump/causa/internal/storage"
	"github.com/hyperjump/causa/pkg/utils"
)

// Server is the HTTP server for the causa API.
type Server struct {
	runner  *runner.Runner
	storage storage.Storage // optional; run endpoints answer 501 without it
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. store may be nil.
func NewServer(r *runner.Runner, store storage.Storage, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		runner:  r,
		storage: store,
		config:  cfg,
		logger:  utils.OrNop(logger),
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/trim", s.handleTrim)
		r.Post("/normalize", s.handleNormalize)
		r.Post("/process", s.handleProcess)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/latest/hypotheses", s.handleLatestHypotheses)
		r.Get("/hypotheses/{id}", s.handleGetHypothesis)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
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
