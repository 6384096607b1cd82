package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

// UserIDHeader carries the authenticated caller, set by the auth layer in
// front of this service.
const UserIDHeader = "X-User-ID"

const maxRequestBody = 16 * 1024

type checkoutBody struct {
	Plan      string         `json:"plan" validate:"required"`
	ReturnURL string         `json:"return_url" validate:"omitempty,url"`
	Customer  *customerInput `json:"customer" validate:"omitempty"`
}

type customerInput struct {
	ID    string `json:"customer_id" validate:"omitempty,max=255"`
	Email string `json:"email" validate:"omitempty,email"`
	Name  string `json:"name" validate:"omitempty,max=255"`
}

type checkoutResponse struct {
	CheckoutURL    string `json:"checkout_url"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Plan           string `json:"plan"`
}

// Handler exposes the Service over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Routes mounts:
//
//	POST /v1/projects/{projectID}/checkout
//	POST /v1/projects/{projectID}/subscription/cancel
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1/projects/{projectID}", func(r chi.Router) {
		r.Post("/checkout", h.createCheckout)
		r.Post("/subscription/cancel", h.cancelSubscription)
	})
}

func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	httputil.SetSecurityHeaders(w)

	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	raw, err := httputil.ReadBodyStrict(w, r, maxRequestBody)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var body checkoutBody
	if err := json.Unmarshal(raw, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := Request{
		UserID:    r.Header.Get(UserIDHeader),
		ProjectID: projectID,
		Plan:      body.Plan,
		ReturnURL: body.ReturnURL,
	}
	if body.Customer != nil {
		req.Customer = Customer{ID: body.Customer.ID, Email: body.Customer.Email, Name: body.Customer.Name}
	}

	res, err := h.service.CreateCheckout(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, checkoutResponse{
		CheckoutURL:    res.CheckoutURL,
		SubscriptionID: res.SubscriptionID,
		Plan:           res.Plan.DisplayName(),
	})
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	httputil.SetSecurityHeaders(w)

	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelSubscription(r.Context(), r.Header.Get(UserIDHeader), projectID); err != nil {
		writeServiceError(w, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]bool{"cancel_at_period_end": true})
}

func projectIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid project id")
		return 0, false
	}
	return id, true
}

// StatusCode maps a Service error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, entitlement.ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPlanNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadySubscribed), errors.Is(err, ErrNoActiveSubscription):
		return http.StatusConflict
	case errors.Is(err, ErrNoCheckoutURL):
		return http.StatusBadGateway
	case errors.Is(err, ErrProductNotConfigured), errors.Is(err, ErrCheckoutNotConfigured), errors.Is(err, ErrCancellationDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	httputil.WriteError(w, code, msg)
}
