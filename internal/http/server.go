// Package http serves tvrec's control API: recordings, channels, jobs,
// health probes and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/jmylchreest/tvrec/internal/http/middleware"
)

// apiPrefix marks the routes subject to per-IP rate limiting and token
// auth. Probes and /metrics are scraped on a schedule and stay open.
const apiPrefix = "/api/"

// ServerConfig holds listener and middleware settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// CORSOrigins lists allowed origins. "*" allows all.
	CORSOrigins []string
	// RateLimit is API requests per minute per client IP. Zero disables it.
	RateLimit int
	// APIToken is the bearer token required on API routes. Empty leaves
	// them open, which is only safe on a loopback listener.
	APIToken string
}

// DefaultServerConfig returns the listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"*"},
		RateLimit:       60,
	}
}

// Server owns the router, the huma API and the listener.
type Server struct {
	cfg    ServerConfig
	router *chi.Mux
	api    huma.API
	srv    *http.Server
	logger *slog.Logger
	ready  chan net.Addr
}

// NewServer builds the router with tvrec's middleware chain. version is
// published in the OpenAPI document.
func NewServer(cfg ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	def := DefaultServerConfig()
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		cors.AllowedOrigins = cfg.CORSOrigins
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORSWithConfig(cors))
	r.Use(chimiddleware.Compress(5))
	if cfg.RateLimit > 0 {
		r.Use(apiOnly(httprate.LimitByIP(cfg.RateLimit, time.Minute)))
	}
	r.Use(apiOnly(middleware.BearerToken(cfg.APIToken)))

	hc := huma.DefaultConfig("tvrec API", version)
	hc.Info.Description = "Schedule IPTV recordings, search channels and run maintenance jobs"
	if cfg.APIToken != "" {
		if hc.Components.SecuritySchemes == nil {
			hc.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
		}
		hc.Components.SecuritySchemes["bearer"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer"}
		hc.Security = []map[string][]string{{"bearer": {}}}
	}

	s := &Server{
		cfg:    cfg,
		router: r,
		api:    humachi.New(r, hc),
		logger: logger.With(slog.String("component", "http")),
		ready:  make(chan net.Addr, 1),
	}
	s.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// apiOnly applies mw to API routes only.
func apiOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, apiPrefix) {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// API returns the huma API for registering operations.
func (s *Server) API() huma.API { return s.api }

// Router returns the chi router for plain handlers such as /metrics.
func (s *Server) Router() *chi.Mux { return s.router }

// Ready yields the bound address once the listener is open.
func (s *Server) Ready() <-chan net.Addr { return s.ready }

// ListenAndServe binds the listener and serves until ctx is cancelled, then
// drains connections for up to ShutdownTimeout. A bind failure is returned
// immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.logger.Info("HTTP server listening", slog.String("address", ln.Addr().String()))
	s.ready <- ln.Addr()

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving HTTP: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
