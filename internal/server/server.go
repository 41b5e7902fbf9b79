package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/porticoapi/portico/internal/config"
	"github.com/porticoapi/portico/internal/handler"
	"github.com/porticoapi/portico/internal/mcp"
	"github.com/porticoapi/portico/internal/openapi"
	"github.com/porticoapi/portico/internal/recordstore"
	"github.com/porticoapi/portico/internal/server/middleware"
	"github.com/porticoapi/portico/internal/service"
	"github.com/porticoapi/portico/internal/store"
	"github.com/porticoapi/portico/internal/telemetry"
)

// Deps are the components the server routes requests to.
type Deps struct {
	Store   *store.Store
	Records *recordstore.SQLStore
	Sources *service.SourceManager
	Core    *service.Core
	Metrics *telemetry.Metrics
	Version string
}

// Server is the top-level HTTP server. It owns the chi router and the
// session sweeper.
type Server struct {
	cfg        *config.Config
	deps       Deps
	router     chi.Router
	sweeper    *service.Sweeper
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with every route and middleware wired. Call
// ListenAndServe to start accepting connections.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		sweeper: service.NewSweeper(deps.Core.Sessions, cfg.Auth.SweepInterval, logger),
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	onError := handler.ErrorWriter(s.logger)
	limit := s.cfg.BodyLimit()
	core := s.deps.Core

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORS.Origins,
		AllowedMethods: s.cfg.Server.CORS.Methods,
		AllowedHeaders: []string{
			"Accept", "Content-Type", "X-Requested-With", middleware.RequestIDHeader,
			s.cfg.Auth.APIKeyHeader, s.cfg.Auth.SessionHeader,
		},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(s.deps.Metrics.Instrument(routePattern))
	if rpm := s.cfg.Server.RatePerMinute; rpm > 0 {
		r.Use(middleware.RateLimitByHeader(s.cfg.Auth.APIKeyHeader, rpm, handler.RateLimited))
	}

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.deps.Metrics.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)

	authenticate := middleware.Authenticate(core.Auth, middleware.Headers{
		APIKey:  s.cfg.Auth.APIKeyHeader,
		Session: s.cfg.Auth.SessionHeader,
	}, onError)

	if s.cfg.MCP.Enabled {
		tools := mcp.New(core.Records, mcp.RequestPrincipal, s.deps.Version, s.logger)
		r.With(authenticate).Handle(s.cfg.MCP.Path, tools.HTTPHandler())
	}

	authH := handler.NewAuthHandler(core.Auth, s.cfg.Auth.SessionHeader, limit, s.logger)
	recordH := handler.NewRecordHandler(core.Records, limit, s.logger)
	userH := handler.NewUserHandler(core.Identities, core.Records, limit, s.logger)

	r.Route(openapi.BasePath, func(r chi.Router) {
		r.Get("/test", authH.Test)

		r.Group(func(r chi.Router) {
			if rpm := s.cfg.Auth.LoginRatePerMinute; rpm > 0 {
				r.Use(middleware.RateLimit(rpm, handler.RateLimited))
			}
			r.Post("/auth/login", authH.Login)
		})
		r.Post("/auth/refresh", authH.Refresh)
		r.Post("/auth/logout", authH.Logout)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/auth/test", authH.AuthTest)
			r.Get("/auth/me", authH.Me)
			r.Get("/user/info", authH.UserInfo)
			r.With(middleware.RequireUserManager(onError)).Get("/groups", userH.Groups)

			r.Get("/collections", recordH.Collections)
			r.Get("/search/{collection}", recordH.Search)
			r.Get("/fields/{collection}", recordH.Fields)
			r.Get("/read/{collection}", recordH.Read)
			r.Post("/create/{collection}", recordH.Create)
			r.Put("/write/{collection}", recordH.Write)

			r.Get("/users", userH.List)
			r.Get("/users/{id}", userH.Get)
			r.Put("/users/{id}", userH.Update)
			r.Put("/users/{id}/password", userH.ChangePassword)
			r.Post("/users/{id}/reset-password", userH.ResetPassword)
			r.Post("/users/{id}/api-key", userH.IssueKey)
			r.Delete("/users/{id}/api-key", userH.RevokeKey)
		})
	})

	s.router = r
}

// routePattern labels metrics with the matched chi pattern so ids in paths
// do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the system store and
// every connected source answer a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := map[string]string{"store": "ok"}

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
	}
	if s.deps.Sources != nil {
		failures := s.deps.Sources.Ping(r.Context())
		for name, err := range failures {
			checks[name] = "error: " + err.Error()
			status = "degraded"
		}
	}

	httpStatus := http.StatusOK
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

// handleOpenAPI serves the API document, regenerated on each request so it
// reflects the currently mounted collections.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	collections, err := openapi.Describe(r.Context(), s.deps.Records)
	if err != nil {
		handler.ErrorWriter(s.logger)(w, r, err)
		return
	}
	doc := openapi.Generate(s.OpenAPIOptions(), collections)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// OpenAPIOptions describes this server for the API document.
func (s *Server) OpenAPIOptions() openapi.Options {
	return OpenAPIOptions(s.cfg, s.deps.Version)
}

// OpenAPIOptions describes a server configured by cfg.
func OpenAPIOptions(cfg *config.Config, version string) openapi.Options {
	return openapi.Options{
		Title:         "Portico API",
		Version:       version,
		APIKeyHeader:  cfg.Auth.APIKeyHeader,
		SessionHeader: cfg.Auth.SessionHeader,
	}
}

// ListenAndServe starts the session sweeper and the HTTP server and blocks
// until SIGINT or SIGTERM. It then drains in-flight requests, stops the
// sweeper and closes every source connection.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.sweeper.Start()
	defer s.sweeper.Shutdown()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.deps.Sources != nil {
		s.deps.Sources.Close()
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
