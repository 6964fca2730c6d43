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

	"github.com/ubiwhere/keygate/internal/config"
	"github.com/ubiwhere/keygate/internal/handler"
	"github.com/ubiwhere/keygate/internal/hash"
	"github.com/ubiwhere/keygate/internal/openapi"
	"github.com/ubiwhere/keygate/internal/server/middleware"
	"github.com/ubiwhere/keygate/internal/service"
	"github.com/ubiwhere/keygate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RatePerMinute   int
	JWTSecret       string
	JWTExpiry       time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RatePerMinute:   300,
		JWTExpiry:       24 * time.Hour,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the store,
// and the issuing/verification/authorization services.
type Server struct {
	cfg        Config
	keys       config.Keys
	router     chi.Router
	store      *store.Store
	verifier   *service.Verifier
	authz      *service.Authorizer
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, keys config.Keys, st *store.Store, logger *slog.Logger) (*Server, error) {
	hasher, err := hash.NewBcrypt(keys.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("init hasher: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		keys:     keys,
		store:    st,
		verifier: service.NewVerifier(st, hasher, keys, logger),
		authz:    service.NewAuthorizer(st, logger),
		logger:   logger,
	}

	adminAuth := service.NewAdminAuth(st, hasher, cfg.JWTSecret, logger)
	issuer := service.NewIssuer(st, hasher, keys, logger)
	s.setupRouter(adminAuth, issuer, hasher)
	return s, nil
}

func (s *Server) setupRouter(adminAuth *service.AdminAuth, issuer *service.Issuer, hasher *hash.Bcrypt) {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if s.cfg.RatePerMinute > 0 {
		r.Use(middleware.RateLimit(s.cfg.RatePerMinute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI document (no auth required) ---
	r.Get("/openapi.json", openapi.Handler(s.keys))

	sysHandler := handler.NewSystemHandler(s.store, adminAuth, issuer, hasher, s.cfg.JWTExpiry)
	gateHandler := handler.NewGateHandler(s.verifier, s.authz)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// System API (admin surface)
		r.Route("/system", func(r chi.Router) {
			// Session endpoints are unauthenticated (login) or
			// self-authenticated (logout).
			r.Post("/session", sysHandler.Login)
			r.Delete("/session", sysHandler.Logout)

			// Everything else requires an admin session.
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthenticateAdmin(adminAuth))
				r.Use(middleware.RequireAdmin())

				// API key lifecycle
				r.Get("/keys", sysHandler.ListAPIKeys)
				r.Post("/keys", sysHandler.CreateAPIKey)
				r.Delete("/keys/{keyID}", sysHandler.DeleteAPIKey)
				r.Get("/keys/{keyID}/grants", sysHandler.GetKeyGrants)
				r.Put("/keys/{keyID}/grants", sysHandler.SetKeyGrants)
				r.Get("/keys/{keyID}/log", sysHandler.ListKeyUsage)

				// Resource type catalog
				r.Get("/resource-types", sysHandler.ListResourceTypes)
				r.Post("/resource-types", sysHandler.CreateResourceType)
				r.Delete("/resource-types/{typeID}", sysHandler.DeleteResourceType)
				r.Get("/operations", sysHandler.ListOperations)

				// Admin accounts
				r.Get("/admins", sysHandler.ListAdmins)
				r.Post("/admins", sysHandler.CreateAdmin)
			})
		})

		// Gate: key-authenticated decision endpoint, any method. Rate
		// limited per credential rather than per IP, since gate callers
		// are typically a handful of backend hosts.
		r.Route("/gate/{resourceType}", func(r chi.Router) {
			if s.cfg.RatePerMinute > 0 {
				r.Use(middleware.RateLimitByHeader("Authorization", s.cfg.RatePerMinute))
			}
			r.Use(middleware.AuthenticateKey(s.verifier, s.keys))
			r.Use(middleware.RequireScope(s.authz))
			r.HandleFunc("/", gateHandler.Decide)
			r.HandleFunc("/*", gateHandler.Decide)
		})

		// Introspection: the key travels in the body, no middleware auth.
		r.Post("/auth/introspect", gateHandler.Introspect)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
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
