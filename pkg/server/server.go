package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/objectives/pkg/config"
	"mercator-hq/objectives/pkg/telemetry/health"
	"mercator-hq/objectives/pkg/telemetry/tracing"
)

// Options are the handlers the server mounts.
type Options struct {
	// Metrics is served at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string

	// Checker backs /health and /ready. Required.
	Checker *health.Checker

	Version health.VersionInfo

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the operational HTTP server: metrics, health and readiness.
type Server struct {
	config     *config.ServerConfig
	options    Options
	logger     *slog.Logger
	httpServer *http.Server

	mu           sync.RWMutex
	isRunning    bool
	addr         string
	shutdownOnce sync.Once
}

// NewServer creates a server. It does not listen until Start.
func NewServer(cfg *config.ServerConfig, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is nil")
	}
	if opts.Checker == nil {
		return nil, errors.New("health checker is required")
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultPrometheusPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  cfg,
		options: opts,
		logger:  logger.With("component", "server"),
	}, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	health.Register(mux, s.options.Checker, s.options.Version)
	if s.options.Metrics != nil {
		mux.Handle(s.options.MetricsPath, s.options.Metrics)
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware(s.logger)(handler)
	handler = tracing.HTTPMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully. It returns nil after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.addr = ln.Addr().String()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting operational server", "address", s.addr)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown gracefully stops the server within ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.mu.Unlock()
		if !running {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("operational server stopped")
	})
	return shutdownErr
}

// IsRunning returns true while the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound address once Start has begun listening. It is
// useful when ListenAddress uses port 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}
