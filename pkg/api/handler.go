package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for entitlement inspection
type Handler struct {
	config Config
}

// GetEntitlements returns the project's plan, subscription state and flags.
// Only the owner may read them.
func (h *Handler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	// 1. Extract User ID
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	// 2. Extract Project ID
	projectID, err := h.config.GetProjectID(r)
	if err != nil {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}

	// 3. Load and authorize
	project, err := h.config.Store.GetProject(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, entitlement.ErrProjectNotFound) {
			h.handleError(w, r, err, http.StatusNotFound)
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to get project: %w", err), http.StatusInternalServerError)
		return
	}
	if project.OwnerUserID != userID {
		// same answer as a missing project so ids cannot be probed
		h.handleError(w, r, entitlement.ErrProjectNotFound, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(toResponse(project)); err != nil {
		return
	}
}

func toResponse(p *entitlement.Project) EntitlementsResponse {
	return EntitlementsResponse{
		ProjectID:         p.ID,
		Plan:              p.PlanType.DisplayName(),
		Status:            string(p.SubscriptionStatus),
		CurrentPeriodEnd:  p.CurrentPeriodEnd,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
		Entitlements: Flags{
			SEOStatus:     string(p.SEOStatus),
			IsFeatured:    p.IsFeatured,
			IsSponsored:   p.IsSponsored,
			SponsoredTier: string(p.SponsoredTier),
		},
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err, statusCode)
		return
	}

	msg := err.Error()
	if statusCode == http.StatusInternalServerError {
		msg = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
