// Package checkout originates processor subscriptions for projects and
// handles user-initiated cancellation.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/processor"
)

// Metadata keys embedded on every processor subscription. The webhook
// engine reads them back to locate the project.
const (
	MetadataUserID    = "user_id"
	MetadataProjectID = "project_id"
	MetadataPlanType  = "plan_type"
)

var (
	ErrUnauthenticated       = errors.New("authentication required")
	ErrForbidden             = errors.New("project belongs to another user")
	ErrPlanNotAllowed        = errors.New("plan not available for checkout")
	ErrAlreadySubscribed     = errors.New("project already has an active subscription at this plan or higher")
	ErrNoCheckoutURL         = errors.New("processor returned no checkout URL")
	ErrProductNotConfigured  = errors.New("no processor product configured for plan")
	ErrNoActiveSubscription  = errors.New("project has no active subscription")
	ErrCancellationDisabled  = errors.New("cancellation not configured")
	ErrCheckoutNotConfigured = errors.New("checkout not configured")
)

// allowedPlans is the checkout allow-list.
var allowedPlans = map[entitlement.PlanType]bool{
	entitlement.PlanShowcase:  true,
	entitlement.PlanSpotlight: true,
}

// Config configures a Service.
type Config struct {
	Store     entitlement.ProjectStore
	Checkout  processor.CheckoutCreator
	Canceller processor.Canceller

	// Products maps each plan to the processor product (or price) id.
	Products map[entitlement.PlanType]string

	// ReturnURL is used when a request carries none.
	ReturnURL string

	Logger  entitlement.Logger
	Metrics entitlement.Metrics
}

// Customer identifies the payer to the processor.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// Request asks for a checkout session.
type Request struct {
	UserID    string
	ProjectID int64
	Plan      string
	Customer  Customer
	ReturnURL string
}

// Result is a created checkout session.
type Result struct {
	CheckoutURL    string
	SubscriptionID string
	Plan           entitlement.PlanType
}

// Service creates checkout sessions and cancels subscriptions.
type Service struct {
	store     entitlement.ProjectStore
	checkout  processor.CheckoutCreator
	canceller processor.Canceller
	products  map[entitlement.PlanType]string
	returnURL string
	logger    entitlement.Logger
	metrics   entitlement.Metrics
	now       func() time.Time
}

// NewService creates a checkout Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("checkout: project store is required")
	}
	s := &Service{
		store:     cfg.Store,
		checkout:  cfg.Checkout,
		canceller: cfg.Canceller,
		products:  cfg.Products,
		returnURL: cfg.ReturnURL,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
	if s.logger == nil {
		s.logger = &entitlement.NoopLogger{}
	}
	if s.metrics == nil {
		s.metrics = &entitlement.NoopMetrics{}
	}
	return s, nil
}

// CreateCheckout validates the caller and project, then asks the processor
// for a hosted checkout with the correlation metadata attached.
func (s *Service) CreateCheckout(ctx context.Context, req Request) (*Result, error) {
	res, err := s.createCheckout(ctx, req)
	s.metrics.RecordCheckout(planLabel(req.Plan), checkoutResult(err))
	return res, err
}

func (s *Service) createCheckout(ctx context.Context, req Request) (*Result, error) {
	if s.checkout == nil {
		return nil, ErrCheckoutNotConfigured
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrUnauthenticated
	}

	plan, ok := entitlement.ParsePlan(req.Plan)
	if !ok || !allowedPlans[plan] {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotAllowed, req.Plan)
	}
	productID := s.products[plan]
	if productID == "" {
		return nil, fmt.Errorf("%w: %s", ErrProductNotConfigured, plan)
	}

	project, err := s.ownedProject(ctx, req.UserID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if isSubscribed(project, s.now()) && project.PlanType.Rank() >= plan.Rank() {
		return nil, fmt.Errorf("%w: currently %s", ErrAlreadySubscribed, project.PlanType.DisplayName())
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = s.returnURL
	}
	customerID := req.Customer.ID
	if customerID == "" && project.ExternalCustomerID != nil {
		customerID = *project.ExternalCustomerID
	}

	session, err := s.checkout.CreateCheckout(ctx, processor.CheckoutRequest{
		ProductID:     productID,
		Quantity:      1,
		CustomerID:    customerID,
		CustomerEmail: req.Customer.Email,
		CustomerName:  req.Customer.Name,
		ReturnURL:     returnURL,
		Metadata:      Metadata(req.UserID, req.ProjectID, plan),
	})
	if err != nil {
		s.logger.Error("Checkout session creation failed",
			entitlement.Field{Key: "project_id", Value: req.ProjectID},
			entitlement.Field{Key: "plan", Value: string(plan)},
			entitlement.Field{Key: "error", Value: err},
		)
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	if session == nil || session.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	s.logger.Info("Checkout session created",
		entitlement.Field{Key: "project_id", Value: req.ProjectID},
		entitlement.Field{Key: "user_id", Value: req.UserID},
		entitlement.Field{Key: "plan", Value: string(plan)},
		entitlement.Field{Key: "subscription_id", Value: session.SubscriptionID},
	)
	return &Result{CheckoutURL: session.URL, SubscriptionID: session.SubscriptionID, Plan: plan}, nil
}

// Metadata builds the correlation envelope. Every value is a non-empty
// string; the project id is base-10 and the plan is its canonical name.
func Metadata(userID string, projectID int64, plan entitlement.PlanType) map[string]string {
	return map[string]string{
		MetadataUserID:    userID,
		MetadataProjectID: strconv.FormatInt(projectID, 10),
		MetadataPlanType:  string(plan),
	}
}

// CancelSubscription flags the project's subscription to end at the period
// end. Entitlements stay until the processor reports expiry.
func (s *Service) CancelSubscription(ctx context.Context, userID string, projectID int64) error {
	if s.canceller == nil {
		return ErrCancellationDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return ErrUnauthenticated
	}

	project, err := s.ownedProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if project.SubscriptionID == nil || *project.SubscriptionID == "" ||
		(project.SubscriptionStatus != entitlement.StatusActive && project.SubscriptionStatus != entitlement.StatusTrialing) {
		return ErrNoActiveSubscription
	}

	if err := s.canceller.CancelAtPeriodEnd(ctx, *project.SubscriptionID); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	cancel := true
	if err := s.store.UpdateProject(ctx, &entitlement.ProjectUpdate{
		ProjectID:         projectID,
		OwnerUserID:       userID,
		CancelAtPeriodEnd: &cancel,
	}); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}

	s.logger.Info("Subscription set to cancel at period end",
		entitlement.Field{Key: "project_id", Value: projectID},
		entitlement.Field{Key: "subscription_id", Value: *project.SubscriptionID},
	)
	return nil
}

func (s *Service) ownedProject(ctx context.Context, userID string, projectID int64) (*entitlement.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerUserID != userID {
		return nil, ErrForbidden
	}
	return project, nil
}

// planLabel keeps metric cardinality bounded for arbitrary input
func planLabel(plan string) string {
	if p, ok := entitlement.ParsePlan(plan); ok {
		return string(p)
	}
	return "invalid"
}

// isSubscribed reports whether a live subscription still covers the project.
// A cancelled subscription counts until its known period end.
func isSubscribed(p *entitlement.Project, now time.Time) bool {
	switch p.SubscriptionStatus {
	case entitlement.StatusActive, entitlement.StatusTrialing:
		return true
	case entitlement.StatusCancelled:
		return p.CurrentPeriodEnd != nil && p.CurrentPeriodEnd.After(now)
	default:
		return false
	}
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, entitlement.ErrProjectNotFound):
		return "not_found"
	case errors.Is(err, ErrPlanNotAllowed):
		return "plan_not_allowed"
	case errors.Is(err, ErrAlreadySubscribed):
		return "already_subscribed"
	case errors.Is(err, ErrNoCheckoutURL):
		return "no_checkout_url"
	default:
		return "error"
	}
}
