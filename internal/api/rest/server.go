// Package rest provides the REST API of the audit pipeline
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/audit"
	"github.com/glueful/audit-engine/internal/ratelimit"
	"github.com/glueful/audit-engine/pkg/middleware"
)

// Server is the REST API server
type Server struct {
	audit      *audit.Service
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	config     Config
	startTime  time.Time
}

// Config configures the REST API server
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableCORS   bool

	// Auth protects the /v1 routes when set
	Auth *Authenticator
	// Limiter throttles the /v1 routes when set
	Limiter ratelimit.Limiter
	// Metrics is served on /metrics when set
	Metrics http.Handler

	// TrustProxy takes client addresses from forwarding headers
	TrustProxy bool
	Version    string
}

// DefaultConfig returns default REST server configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
		Version:      "1.0.0",
	}
}

// New creates a new REST API server
func New(cfg Config, svc *audit.Service, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("audit service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		audit:     svc,
		router:    mux.NewRouter(),
		logger:    logger,
		config:    cfg,
		startTime: time.Now(),
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// registerRoutes registers all REST API routes
func (s *Server) registerRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}

	// Every API call is itself audited as an api_access event
	s.router.Use(middleware.HTTP(s.audit, middleware.Options{
		SkipPaths:  []string{"/health", "/metrics"},
		TrustProxy: s.config.TrustProxy,
	}))

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	if s.config.Metrics != nil {
		s.router.Handle("/metrics", s.config.Metrics).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1/audit").Subrouter()
	if s.config.Auth != nil {
		v1.Use(s.config.Auth.Middleware)
	}
	if s.config.Limiter != nil {
		v1.Use(s.rateLimitMiddleware)
	}

	v1.HandleFunc("/events", s.ingestHandler).Methods("POST")
	v1.HandleFunc("/events", s.searchHandler).Methods("GET")
	v1.HandleFunc("/events/export", s.exportHandler).Methods("GET")

	v1.HandleFunc("/reports", s.reportTypesHandler).Methods("GET")
	v1.HandleFunc("/reports/{type}", s.reportHandler).Methods("GET")

	v1.HandleFunc("/retention/enforce", s.requireRole(RoleAdmin, s.retentionHandler)).Methods("POST")
}

// Start starts the REST API server
func (s *Server) Start() error {
	s.logger.Info("Starting REST API server",
		zap.String("addr", s.config.Addr),
		zap.Bool("auth_enabled", s.config.Auth != nil),
		zap.Bool("rate_limit_enabled", s.config.Limiter != nil),
		zap.Bool("cors_enabled", s.config.EnableCORS),
	)

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the REST API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler interface for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrappedWriter := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrappedWriter, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrappedWriter.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Session-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// healthCheckHandler reports 503 when the store is unreachable
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	checks := s.audit.Health(r.Context())

	response := HealthResponse{
		Status:    "healthy",
		Version:   s.config.Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}

	status := http.StatusOK
	if !checks.Healthy() {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, response)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
