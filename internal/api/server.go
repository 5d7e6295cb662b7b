// Package api provides the read-only HTTP API of the scanner. It serves the
// discovered servers, store statistics, health checks and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/mcscan/internal/config"
	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/metrics"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// Reader is the read side of the store used by the API.
type Reader interface {
	ListServers(ctx context.Context, limit, offset int) ([]db.ServerView, error)
	CountServers(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (db.Stats, error)
	StatusCounts(ctx context.Context, limit int) ([]db.StatusCount, error)
	Ping(ctx context.Context) error
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	reader     Reader
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
}

// Config holds API server configuration.
type Config struct {
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins    []string      `yaml:"cors_origins" json:"cors_origins"`
}

// DefaultConfig returns default API server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
		EnableCORS:     false,
		CORSOrigins:    []string{"*"},
	}
}

// ConfigFrom extracts API configuration from the main config.
func ConfigFrom(cfg *config.APIConfig) Config {
	apiConfig := DefaultConfig()
	apiConfig.Host = cfg.ListenAddr
	apiConfig.Port = cfg.Port
	apiConfig.ReadTimeout = cfg.ReadTimeout
	apiConfig.WriteTimeout = cfg.WriteTimeout
	apiConfig.IdleTimeout = cfg.IdleTimeout
	apiConfig.EnableCORS = cfg.CORS.Enabled
	if len(cfg.CORS.AllowedOrigins) > 0 {
		apiConfig.CORSOrigins = cfg.CORS.AllowedOrigins
	}
	return apiConfig
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics collectors exposed on /metrics.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new API server instance.
func New(cfg Config, reader Reader, opts ...Option) *Server {
	server := &Server{
		router:    mux.NewRouter(),
		reader:    reader,
		logger:    logging.Default(),
		metrics:   metrics.GetGlobalMetrics(),
	}
	for _, opt := range opts {
		opt(server)
	}
	server.logger = server.logger.WithComponent("api")

	server.setupRoutes()
	server.setupMiddleware(&cfg)

	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:        server.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return server
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/liveness", s.livenessHandler).Methods(http.MethodGet)
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.HandleFunc("/statuses", s.statusesHandler).Methods(http.MethodGet)
	api.HandleFunc("/servers", s.serversHandler).Methods(http.MethodGet)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
}

// setupMiddleware configures middleware for the API server.
func (s *Server) setupMiddleware(cfg *Config) {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	if cfg.EnableCORS {
		s.router.Use(handlers.CORS(
			handlers.AllowedOrigins(cfg.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		))
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeError writes a standardized error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Error("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err,
		"remote_addr", r.RemoteAddr)

	s.writeJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic in API handler",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method)
				s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests and records request metrics. Paths
// are labelled by route template to bound label cardinality.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", duration,
			"remote_addr", r.RemoteAddr)

		s.metrics.IncrementHTTPRequests(r.Method, path, strconv.Itoa(wrapped.statusCode))
		s.metrics.RecordHTTPDuration(r.Method, path, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
