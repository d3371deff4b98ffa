// Package server wires the HTTP API: job endpoints, health checks and
// version info on a chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/texttailor/internal/server/handlers"
	"github.com/3leaps/texttailor/internal/server/middleware"
	"github.com/3leaps/texttailor/pkg/jobregistry"
)

// Server is the texttailor HTTP server.
type Server struct {
	host string
	port int

	router     chi.Router
	httpServer *http.Server

	registry     *jobregistry.Registry
	ownsRegistry bool

	logger       *zap.Logger
	corsOrigins  []string
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	jobsOptions  []handlers.JobsOption
	debug        bool
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry runs jobs on reg. The caller keeps ownership.
func WithRegistry(reg *jobregistry.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithLogger sets the request and job logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCORSOrigins sets the allowed browser origins. Default: any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithTimeouts sets the http.Server timeouts. Zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithJobsOptions passes options to the job endpoints.
func WithJobsOptions(opts ...handlers.JobsOption) Option {
	return func(s *Server) { s.jobsOptions = append(s.jobsOptions, opts...) }
}

// WithDebug mounts the pprof endpoints under /debug.
func WithDebug(enabled bool) Option {
	return func(s *Server) { s.debug = enabled }
}

// New builds a server for host:port. Without WithRegistry it owns a
// registry of its own and closes it on Shutdown.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		corsOrigins:  []string{"*"},
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = jobregistry.New(jobregistry.WithLogger(s.logger))
		s.ownsRegistry = true
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.ErrorHandler)
	r.Use(middleware.CORS(s.corsOrigins))

	r.NotFound(handlers.NotFoundHandler)
	r.MethodNotAllowed(handlers.MethodNotAllowedHandler)

	r.Get("/", handlers.WelcomeHandler)
	r.Get("/version", handlers.VersionHandler)

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)

	if s.debug {
		r.Mount("/debug", chimw.Profiler())
	}

	opts := append([]handlers.JobsOption{handlers.WithJobsLogger(s.logger)}, s.jobsOptions...)
	handlers.NewJobsHandler(s.registry, opts...).Routes(r)

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the job registry behind the server.
func (s *Server) Registry() *jobregistry.Registry {
	return s.registry
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels running jobs of an owned
// registry and waits for both until ctx expires. Open progress streams end
// with a cancel event when their job is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.ownsRegistry {
		if err := s.registry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	return errors.Join(errs...)
}
