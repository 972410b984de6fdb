package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/coachpage/internal/billing/domain"
)

// EntitlementService is the billing surface the HTTP API uses.
// *application.Service implements it.
type EntitlementService interface {
	ProGate
	GrantTrial(ctx context.Context, userID uuid.UUID) (*domain.EntitlementRecord, bool, error)
	Status(ctx context.Context, userID uuid.UUID) (domain.Status, error)
}

// InsightGenerator produces AI analytics for a coach. It is an external
// text-generation call; the API only gates access to it.
type InsightGenerator interface {
	Insights(ctx context.Context, userID uuid.UUID) (any, error)
}

// EntitlementHandler serves identity and entitlement routes.
type EntitlementHandler struct {
	service  EntitlementService
	insights InsightGenerator
	logger   *slog.Logger
}

func NewEntitlementHandler(service EntitlementService, insights InsightGenerator, logger *slog.Logger) *EntitlementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementHandler{service: service, insights: insights, logger: logger}
}

type createIdentityRequest struct {
	UserID string `json:"user_id"`
}

type createIdentityResponse struct {
	Created bool          `json:"created"`
	Status  domain.Status `json:"entitlement"`
}

// CreateIdentity handles POST /api/v1/identities. It grants the signup trial
// and answers 201 the first time and 200 on repeats.
func (h *EntitlementHandler) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, ErrBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil || userID == uuid.Nil {
		writeError(w, &APIError{Status: http.StatusBadRequest, Code: "invalid_user_id", Message: "user_id must be a UUID"})
		return
	}

	_, created, err := h.service.GrantTrial(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "grant trial failed", "user_id", userID, "error", err)
		writeError(w, toAPIError(err))
		return
	}
	st, err := h.service.Status(r.Context(), userID)
	if err != nil {
		writeError(w, toAPIError(err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, createIdentityResponse{Created: created, Status: st})
}

// GetEntitlement handles GET /api/v1/entitlement for the calling user.
func (h *EntitlementHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		writeError(w, ErrUnauthenticated)
		return
	}
	st, err := h.service.Status(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "entitlement lookup failed", "user_id", userID, "error", err)
		writeError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetInsights handles GET /api/v1/analytics/ai-insights behind RequirePro.
func (h *EntitlementHandler) GetInsights(w http.ResponseWriter, r *http.Request) {
	if h.insights == nil {
		writeError(w, &APIError{Status: http.StatusNotImplemented, Code: "not_configured", Message: "insight generator is not configured"})
		return
	}
	userID, _ := userIDFromRequest(r)
	out, err := h.insights.Insights(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "insight generation failed", "user_id", userID, "error", err)
		writeError(w, ErrInternalServer)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
