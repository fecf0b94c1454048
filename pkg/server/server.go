package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fde-io/fde/pkg/chunks"
	"github.com/fde-io/fde/pkg/config"
	"github.com/fde-io/fde/pkg/deploy"
	"github.com/fde-io/fde/pkg/log"
	"github.com/fde-io/fde/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// idleTimeout is generous so long-running deploys with quiet output do
// not lose their stream.
const idleTimeout = 255 * time.Second

// Server ties the HTTP surface to the chunk store and the deploy state
// machine.
type Server struct {
	cfg     *config.Config
	chunks  *chunks.Store
	deploys *deploy.Manager
	logger  zerolog.Logger
	http    *http.Server
}

// New creates a server over a resolved configuration.
func New(cfg *config.Config, chunkStore *chunks.Store, deployMgr *deploy.Manager) *Server {
	return &Server{
		cfg:     cfg,
		chunks:  chunkStore,
		deploys: deployMgr,
		logger:  log.WithComponent("server"),
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID", "X-Chunk-MD5"},
	}))
	r.Use(requestLogger)

	// Unauthenticated probes
	r.Get("/ping", s.handlePing)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Protected routes; each handler runs the shared validator.
	r.Post("/verify", s.handleVerify)
	r.Post("/upload", s.handleUpload)
	r.Post("/upload/init", s.handleUploadInit)
	r.Post("/upload/chunk", s.handleUploadChunk)
	r.Post("/upload/complete", s.handleUploadComplete)
	r.Get("/upload/status", s.handleUploadStatus)
	r.Delete("/upload/cancel", s.handleUploadCancel)
	r.Post("/deploy", s.handleDeploy)
	r.Get("/deploy/status", s.handleDeployStatus)

	return r
}

// Start begins serving on addr and blocks until the listener fails or
// Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       idleTimeout,
		// WriteTimeout stays zero: SSE responses are open-ended.
	}

	s.chunks.StartSweeper()
	s.logger.Info().Str("addr", addr).Msg("server listening")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.chunks.StopSweeper()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
