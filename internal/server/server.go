// Package server owns the HTTP surface: the admin API, the protected gateway
// routes, health probes, and the OpenAPI document.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
	"github.com/gatekeeperhq/gatekeeper/internal/counter"
	"github.com/gatekeeperhq/gatekeeper/internal/handler"
	"github.com/gatekeeperhq/gatekeeper/internal/openapi"
	"github.com/gatekeeperhq/gatekeeper/internal/pipeline"
	"github.com/gatekeeperhq/gatekeeper/internal/server/middleware"
	"github.com/gatekeeperhq/gatekeeper/internal/service"
	"github.com/gatekeeperhq/gatekeeper/internal/store"
	"github.com/gatekeeperhq/gatekeeper/internal/usage"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// LoginRequestsPerMinute caps POST /admin/session per client IP so the
	// operator login cannot be brute-forced through the front door.
	LoginRequestsPerMinute int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Host:                   "0.0.0.0",
		Port:                   8080,
		ShutdownTimeout:        30 * time.Second,
		CORSOrigins:            []string{"*"},
		LoginRequestsPerMinute: 10,
	}
}

// Server is the top-level HTTP server. It owns the Chi router and wires the
// admission pipeline in front of the gateway routes.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	counters   counter.Store
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes and middleware wired, ready to listen.
func New(cfg Config, st *store.Store, counters counter.Store, blocks blocklist.List,
	pipe *pipeline.Pipeline, adminAuth *service.AdminAuth, aggregator *usage.Aggregator,
	logger *slog.Logger) (*Server, error) {

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.LoginRequestsPerMinute <= 0 {
		cfg.LoginRequestsPerMinute = 10
	}

	s := &Server{
		cfg:      cfg,
		store:    st,
		counters: counters,
		logger:   logger,
	}

	specHandler, err := openapi.New()
	if err != nil {
		return nil, fmt.Errorf("openapi: %w", err)
	}
	adminHandler := handler.NewAdminHandler(st, adminAuth, blocks, aggregator)

	s.setupRouter(pipe, adminAuth, adminHandler, specHandler)
	return s, nil
}

func (s *Server) setupRouter(pipe *pipeline.Pipeline, adminAuth *service.AdminAuth,
	admin *handler.AdminHandler, spec *openapi.Handler) {

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks and the API document are open.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", spec.ServeSpec)

	// Operator surface.
	r.Route("/admin", func(r chi.Router) {
		// Login is unauthenticated but throttled per IP.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.cfg.LoginRequestsPerMinute, time.Minute))
			r.Post("/session", admin.Login)
		})
		r.Delete("/session", admin.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(adminAuth))

			r.Get("/tenants", admin.ListTenants)
			r.Post("/tenants", admin.CreateTenant)
			r.Get("/tenants/{tenantID}/keys", admin.ListKeys)
			r.Post("/tenants/{tenantID}/keys", admin.CreateKey)
			r.Post("/keys/{keyID}/revoke", admin.RevokeKey)

			r.Post("/blocks", admin.BlockIP)
			r.Delete("/blocks/{ip}", admin.UnblockIP)

			r.Get("/tenants/{tenantID}/usage/summary", admin.UsageSummary)
			r.Get("/tenants/{tenantID}/usage/top-endpoints", admin.TopEndpoints)
			r.Get("/tenants/{tenantID}/usage/by-key", admin.UsageByKey)
		})
	})

	// Everything under /api goes through the admission pipeline.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Admission(pipe))
		r.Get("/protected", handler.Protected)
		r.Handle("/*", http.HandlerFunc(handler.Protected))
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the SQL store and the
// counter backend both answer pings, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}
	if err := s.counters.Ping(r.Context()); err != nil {
		checks["counters"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["counters"] = "ok"
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until SIGINT or SIGTERM,
// then drains in-flight requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
