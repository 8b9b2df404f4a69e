// Package server wires the HTTP surface: the chi router, global middleware,
// the administrative and protected route groups, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/handler"
	"github.com/faucetdb/keygate/internal/mcp"
	"github.com/faucetdb/keygate/internal/openapi"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes

	// Secret gates the administrative routes, sent in the SecretHeader header.
	Secret       string
	SecretHeader string
	// APIKeyName is the query parameter and header carrying client keys.
	APIKeyName string
	HideDocs   bool
	Version    string
}

// DefaultConfig returns a Config with production defaults. Secret is left
// empty and must be set.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 15 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20,
		SecretHeader:    "secret-key",
		APIKeyName:      "api-key",
	}
}

// ConfigFrom builds the server Config from the application configuration.
// secret is the resolved administrative secret.
func ConfigFrom(cfg *config.Config, secret, version string) Config {
	c := DefaultConfig()
	c.Host = cfg.Server.Host
	c.Port = cfg.Server.Port
	c.ShutdownTimeout = cfg.ShutdownTimeout()
	if len(cfg.Server.CORS.Origins) > 0 {
		c.CORSOrigins = cfg.Server.CORS.Origins
	}
	c.Secret = secret
	c.SecretHeader = cfg.Auth.SecretHeader
	c.APIKeyName = cfg.Auth.APIKeyName
	c.HideDocs = cfg.Auth.HideDocs
	c.Version = version
	return c
}

// Server is the keygate HTTP server. It owns the router and runs the
// registered shutdown hooks once in-flight requests have drained.
type Server struct {
	cfg        Config
	router     chi.Router
	keys       *service.KeyService
	metrics    *telemetry.Metrics
	httpServer *http.Server
	logger     *slog.Logger
	onShutdown []func()
}

// New creates a new Server with all routes and middleware wired. A nil
// metrics disables the /metrics endpoint.
func New(cfg Config, keys *service.KeyService, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		cfg:     cfg,
		keys:    keys,
		metrics: metrics,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics(s.metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type", "X-Requested-With", middleware.RequestIDHeader,
			s.cfg.APIKeyName, s.cfg.SecretHeader, "Mcp-Session-Id",
		},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Mcp-Session-Id"},
		MaxAge:         300,
	}))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	sysHandler := handler.NewSystemHandler(s.keys, s.openAPIDocument)
	keyHandler := handler.NewKeyHandler(s.keys, s.cfg.APIKeyName, s.logger)
	gateway := service.NewGateway(s.keys)

	// --- Probes and documents (no auth required) ---
	r.Get("/healthz", sysHandler.Healthz)
	r.Get("/readyz", sysHandler.Readyz)
	r.Get("/openapi.json", sysHandler.OpenAPI)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Key management, gated by the administrative secret. The GET
		// aliases keep link-style clients of the original endpoints working.
		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.RequireSecret(s.cfg.Secret, s.cfg.SecretHeader))

			r.Post("/new", keyHandler.Create)
			r.Get("/new", keyHandler.Create)
			r.Post("/revoke", keyHandler.Revoke)
			r.Get("/revoke", keyHandler.Revoke)
			r.Post("/renew", keyHandler.Renew)
			r.Get("/renew", keyHandler.Renew)
			r.Get("/logs", keyHandler.Logs)
		})

		r.With(middleware.RequireAPIKey(gateway, s.cfg.APIKeyName)).Get("/secure", sysHandler.Secure)
		r.Get("/unsecure", sysHandler.Unsecure)
	})

	// --- MCP over Streamable HTTP, an administrative channel ---
	mcpHandler := mcp.NewMCPServer(s.keys, s.cfg.Version, s.logger).Handler()
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSecret(s.cfg.Secret, s.cfg.SecretHeader))
		r.Post("/mcp", mcpHandler.ServeHTTP)
		r.Get("/mcp", mcpHandler.ServeHTTP)
		r.Delete("/mcp", mcpHandler.ServeHTTP)
	})

	s.router = r
}

func (s *Server) openAPIDocument() *openapi3.T {
	return openapi.Generate(openapi.Options{
		Version:      s.cfg.Version,
		APIKeyName:   s.cfg.APIKeyName,
		SecretHeader: s.cfg.SecretHeader,
		HideAdmin:    s.cfg.HideDocs,
	})
}

// OnShutdown registers fn to run after the HTTP server has drained, in
// registration order.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then drains in-flight requests and runs the shutdown hooks.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.runShutdownHooks()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.runShutdownHooks()
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) runShutdownHooks() {
	for _, fn := range s.onShutdown {
		fn()
	}
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
