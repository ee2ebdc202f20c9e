package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"tubeget/internal/config"
	"tubeget/internal/download"
	"tubeget/internal/logging"
	"tubeget/internal/registry"
)

const defaultKeepAliveInterval = 15 * time.Second

// Server exposes the download broker over HTTP: the submission stream, the
// token delivery endpoint, the status endpoint and the embedded form page.
type Server struct {
	bind       string
	stagingDir string
	logger     *slog.Logger
	svc        *download.Service
	reg        *registry.Registry
	metrics    *metrics
	keepAlive  time.Duration

	// jobCtx outlives individual requests: a client disconnect must not
	// cancel its job, only process shutdown does.
	jobCtx    context.Context
	jobCancel context.CancelFunc

	listener net.Listener
	server   *http.Server
	stopOnce sync.Once
}

// New wires the HTTP server. It does not start listening.
func New(cfg *config.Config, svc *download.Service, reg *registry.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:       cfg.Paths.Bind,
		stagingDir: cfg.Paths.StagingDir,
		logger:     logging.WithComponent(logger, "server"),
		svc:        svc,
		reg:        reg,
		metrics:    newMetrics(reg),
		keepAlive:  defaultKeepAliveInterval,
	}
	s.jobCtx, s.jobCancel = context.WithCancel(context.Background())

	router := chi.NewRouter()
	router.Get("/", s.handleIndex)
	router.Get("/api/download/stream", s.handleStream)
	router.Post("/api/download", s.handleDownload)
	router.Get("/api/files/{token}", s.handleFiles)
	router.Get("/api/status", s.handleStatus)
	router.Method(http.MethodGet, "/metrics", s.metrics.handler())

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays zero: the event stream and large file
		// deliveries are legitimately long-lived.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the route tree, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving in the background until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.bind, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", logging.Args(logging.Error(err))...)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("listening", logging.Args(logging.String("address", listener.Addr().String()))...)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and cancels all running jobs. It is safe to
// call from multiple goroutines; the context watcher in Start and a caller's
// deferred Stop both reach here.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.jobCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		if s.listener != nil {
			_ = s.listener.Close()
			s.listener = nil
		}
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Args(logging.Error(err))...)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
