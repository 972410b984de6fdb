package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/internal/billing/application"
	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

// Request headers.
const (
	HeaderUserID        = "X-User-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

// FeatureAIInsights names the Pro-gated analytics feature.
const FeatureAIInsights = "ai_insights"

const (
	metricHTTPRequests = "coachpage.http.requests"
	metricHTTPDuration = "coachpage.http.duration"
)

// ProGate answers whether a user may use a Pro feature.
type ProGate interface {
	RequirePro(ctx context.Context, userID uuid.UUID, feature string) error
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestContext stamps correlation and request ids on the context and
// response, and logs and counts every request.
func RequestContext(logger *slog.Logger, metrics observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := observability.NewRequestContext(r.Context(), r.Header.Get(HeaderCorrelationID))
			w.Header().Set(HeaderCorrelationID, observability.CorrelationIDFromContext(ctx))
			w.Header().Set(HeaderRequestID, observability.RequestIDFromContext(ctx))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			req := r.WithContext(ctx)
			next.ServeHTTP(rec, req)

			// ServeMux records the matched pattern on the request it serves.
			route := req.Pattern
			if route == "" {
				route = "unmatched"
			}
			tags := []observability.Tag{
				observability.T("route", route),
				observability.T("status", strconv.Itoa(rec.status)),
			}
			metrics.Counter(metricHTTPRequests, 1, tags...)
			metrics.Timing(metricHTTPDuration, time.Since(start), tags...)
			logger.DebugContext(ctx, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// RequirePro rejects callers without effective Pro with 402.
func RequirePro(gate ProGate, feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := userIDFromHeader(r)
			if !ok {
				writeError(w, ErrUnauthenticated)
				return
			}
			if err := gate.RequirePro(r.Context(), userID, feature); err != nil {
				writeError(w, toAPIError(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(observability.WithCallerID(r.Context(), userID)))
		})
	}
}

func userIDFromHeader(r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// userIDFromRequest prefers the id RequirePro already validated.
func userIDFromRequest(r *http.Request) (uuid.UUID, bool) {
	if id, ok := observability.CallerIDFromContext(r.Context()); ok {
		return id, true
	}
	return userIDFromHeader(r)
}

func toAPIError(err error) *APIError {
	switch {
	case errors.Is(err, domain.ErrProRequired):
		return ErrPaymentRequired
	case errors.Is(err, domain.ErrInvalidUserID):
		return ErrBadRequest
	case errors.Is(err, application.ErrUnavailable):
		return ErrUnavailable
	default:
		return ErrInternalServer
	}
}

// RequireServiceToken admits only requests carrying "Authorization: Bearer
// <token>". An empty token disables the check.
func RequireServiceToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				logger.WarnContext(r.Context(), "service token rejected", "path", r.URL.Path)
				writeError(w, ErrInvalidServiceToken)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
