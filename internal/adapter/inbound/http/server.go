package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultProtectedPath is where the contact endpoint is mounted.
const DefaultProtectedPath = "/api/contact"

// Server is the inbound HTTP adapter: it mounts the protected handler
// behind the edge limiter, plus health, metrics and the admin API.
type Server struct {
	server          *http.Server
	addr            string
	logger          *slog.Logger
	limiter         Limiter
	edgeOpts        []EdgeOption
	protected       http.Handler
	protectedPath   string
	adminHandler    http.Handler
	healthChecker   *HealthChecker
	registry        *prometheus.Registry
	metrics         *Metrics
	shutdownTimeout time.Duration
	listener        net.Listener
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProtectedPath sets the path guarded by the limiter. Sub-paths are guarded too.
func WithProtectedPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.protectedPath = path
		}
	}
}

// WithProtectedHandler sets the handler reached by admitted requests.
func WithProtectedHandler(h http.Handler) Option {
	return func(s *Server) {
		s.protected = h
	}
}

// WithEdgeOptions configures the rate limit middleware.
func WithEdgeOptions(opts ...EdgeOption) Option {
	return func(s *Server) {
		s.edgeOpts = append(s.edgeOpts, opts...)
	}
}

// WithAdminHandler mounts h under /admin/.
func WithAdminHandler(h http.Handler) Option {
	return func(s *Server) {
		s.adminHandler = h
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// WithMetrics shares a registry and metrics built by the caller, so other
// components can record into the same /metrics output.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(s *Server) {
		s.registry = reg
		s.metrics = m
	}
}

// WithShutdownTimeout bounds graceful shutdown. Default 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithListener serves on an existing listener instead of addr. Used by tests.
func WithListener(l net.Listener) Option {
	return func(s *Server) {
		s.listener = l
	}
}

// NewServer creates a server whose protected route is guarded by limiter.
func NewServer(limiter Limiter, opts ...Option) *Server {
	s := &Server{
		addr:            "127.0.0.1:8080",
		logger:          slog.Default(),
		limiter:         limiter,
		protectedPath:   DefaultProtectedPath,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry, s.metrics = NewRegistry()
	}
	if s.protected == nil {
		s.protected = NewContactHandler()
	}
	return s
}

// NewRegistry creates a registry with Go and process collectors plus contactguard metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, NewMetrics(reg)
}

// Handler builds the routing tree.
func (s *Server) Handler() http.Handler {
	// Middleware order (outermost first):
	// 1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
	// 2. RequestID - Extract/generate request ID and enrich logger
	// 3. RateLimit - Identity, decision, headers, 429
	// 4. Handler - Upstream proxy or lead intake
	edgeOpts := append([]EdgeOption{WithEdgeMetrics(s.metrics)}, s.edgeOpts...)
	var protected http.Handler = s.protected
	protected = RateLimitMiddleware(s.limiter, edgeOpts...)(protected)
	protected = RequestIDMiddleware(s.logger)(protected)
	protected = MetricsMiddleware(s.metrics)(protected)

	mux := http.NewServeMux()
	if s.adminHandler != nil {
		mux.Handle("/admin/", s.adminHandler)
	}
	if s.healthChecker != nil {
		mux.Handle("/health", s.healthChecker.Handler())
	} else {
		mux.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		}))
	}
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
	mux.Handle(s.protectedPath, protected)
	mux.Handle(s.protectedPath+"/", protected)
	return mux
}

// Start serves until ctx is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info("starting HTTP server", "addr", s.listener.Addr().String(), "protected_path", s.protectedPath)
			err = s.server.Serve(s.listener)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr, "protected_path", s.protectedPath)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}
