// Package api serves the coachpage billing HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// Server is the HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	deps    ServerDeps
	handler http.Handler
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// IdentityToken gates POST /api/v1/identities behind a bearer token.
	// Empty leaves the route open for local development.
	IdentityToken string
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ServerDeps are the handlers and collaborators behind the routes.
// Nil Webhook or MetricsHandler leaves that route unregistered.
type ServerDeps struct {
	Entitlements   *EntitlementHandler
	Webhook        http.Handler
	Health         *observability.HealthRegistry
	MetricsHandler http.Handler
	Metrics        observability.Metrics
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps ServerDeps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = observability.NewHealthRegistry()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NoopMetrics{}
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		deps:   deps,
	}
	s.registerRoutes(cfg.IdentityToken)
	s.handler = RequestContext(logger, deps.Metrics)(s.mux)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes(identityToken string) {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", s.deps.MetricsHandler)
	}
	if s.deps.Webhook != nil {
		s.mux.Handle("POST /webhooks/stripe", s.deps.Webhook)
	}

	if h := s.deps.Entitlements; h != nil {
		s.mux.Handle("POST /api/v1/identities",
			RequireServiceToken(identityToken, s.logger)(http.HandlerFunc(h.CreateIdentity)))
		s.mux.HandleFunc("GET /api/v1/entitlement", h.GetEntitlement)
		s.mux.Handle("GET /api/v1/analytics/ai-insights",
			RequirePro(h.service, FeatureAIInsights)(http.HandlerFunc(h.GetInsights)))
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth reports dependency health; unhealthy answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.deps.Health.GetOverallHealth(r.Context())
	status := http.StatusOK
	if health.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting billing API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down billing API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes an APIError as JSON.
func writeError(w http.ResponseWriter, apiErr *APIError) {
	writeJSON(w, apiErr.Status, apiErr)
}

// APIError represents an API error.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common API errors
var (
	ErrBadRequest = &APIError{
		Status:  http.StatusBadRequest,
		Code:    "bad_request",
		Message: "Invalid request",
	}
	ErrUnauthenticated = &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "unauthenticated",
		Message: "X-User-ID header with a valid user id is required",
	}
	ErrInvalidServiceToken = &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "invalid_service_token",
		Message: "A valid service bearer token is required",
	}
	ErrPaymentRequired = &APIError{
		Status:  http.StatusPaymentRequired,
		Code:    "pro_required",
		Message: "This feature requires a Pro plan",
	}
	ErrUnavailable = &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "unavailable",
		Message: "Service temporarily unavailable",
	}
	ErrInternalServer = &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "Internal server error",
	}
)
