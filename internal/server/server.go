// Package server wires the HTTP routes for the directory browser.
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
	"go.uber.org/zap"

	apperrors "github.com/3leaps/lakeview/internal/errors"
	"github.com/3leaps/lakeview/internal/observability"
	"github.com/3leaps/lakeview/internal/server/handlers"
	"github.com/3leaps/lakeview/internal/server/middleware"
)

// Default timeouts, overridden by WithTimeouts.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 120 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
)

// Server is the lakeview HTTP server.
type Server struct {
	host    string
	port    int
	router  chi.Router
	browser handlers.Browser

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithBrowser mounts the listing API and HTML browser over b. Without it the
// listing routes answer 503.
func WithBrowser(b handlers.Browser) Option {
	return func(s *Server) { s.browser = b }
}

// WithTimeouts sets the http.Server timeouts. Zero values keep the defaults.
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

// New creates a server listening on host:port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		idleTimeout:  DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, handlers.BrowsePathPrefix, http.StatusFound)
	})

	if s.browser == nil {
		r.Get("/api/v1/list", handlers.Unavailable)
		r.Post("/api/v1/refresh", handlers.Unavailable)
		r.Get("/api/v1/cache", handlers.Unavailable)
		r.Get("/browse/*", handlers.Unavailable)
		return r
	}

	h := handlers.NewListingHandler(s.browser)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/list", h.List)
		r.Post("/refresh", h.Refresh)
		r.Get("/cache", h.CacheStats)
	})
	r.Get("/browse", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, handlers.BrowsePathPrefix, http.StatusMovedPermanently)
	})
	r.Get("/browse/*", h.Browse)
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

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	observability.ServerLogger.Info("HTTP server listening", zap.String("addr", s.Addr()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.ServerLogger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
