package entitlement

import (
	"strings"
	"time"
)

// PlanType is the paid plan a project is on.
type PlanType string

const (
	PlanFree      PlanType = "free"
	PlanShowcase  PlanType = "showcase"
	PlanSpotlight PlanType = "spotlight"
)

// planRank orders plans for upgrade checks (higher = better)
var planRank = map[PlanType]int{
	PlanFree:      0,
	PlanShowcase:  1,
	PlanSpotlight: 2,
}

// ParsePlan parses a plan name case-insensitively.
// Returns false for anything outside the plan enum.
func ParsePlan(s string) (PlanType, bool) {
	p := PlanType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := planRank[p]; !ok {
		return "", false
	}
	return p, true
}

// IsPaid reports whether the plan requires a subscription
func (p PlanType) IsPaid() bool {
	return p == PlanShowcase || p == PlanSpotlight
}

// Rank returns the plan's position in the upgrade order (-1 if unknown)
func (p PlanType) Rank() int {
	if r, ok := planRank[p]; ok {
		return r
	}
	return -1
}

// DisplayName returns the user-facing plan name (e.g. "Spotlight")
func (p PlanType) DisplayName() string {
	switch p {
	case PlanFree:
		return "Free"
	case PlanShowcase:
		return "Showcase"
	case PlanSpotlight:
		return "Spotlight"
	default:
		return string(p)
	}
}

// SubscriptionStatus is the lifecycle state of a project's subscription.
type SubscriptionStatus string

const (
	StatusNone      SubscriptionStatus = "none"
	StatusActive    SubscriptionStatus = "active"
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusOnHold    SubscriptionStatus = "on_hold"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// ParseStatus normalises a processor-reported status into a SubscriptionStatus.
// Processors disagree on spelling ("canceled", "paused", "past_due"), so a few
// aliases are folded in. Returns false when the value has no local equivalent.
func ParseStatus(s string) (SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return StatusNone, true
	case "active":
		return StatusActive, true
	case "trialing", "trial":
		return StatusTrialing, true
	case "on_hold", "paused", "past_due", "unpaid":
		return StatusOnHold, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	case "expired", "ended", "incomplete_expired", "failed":
		return StatusExpired, true
	default:
		return "", false
	}
}

// IsEntitled reports whether the status keeps the plan's benefits
func (s SubscriptionStatus) IsEntitled() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusCancelled
}

// SEOStatus controls whether a project's SEO boosts are live.
type SEOStatus string

const (
	SEOActive   SEOStatus = "active"
	SEOInactive SEOStatus = "inactive"
)

// SponsoredTier is the promotion tier; empty means none (stored as NULL).
type SponsoredTier string

const (
	TierNone      SponsoredTier = ""
	TierPremium   SponsoredTier = "premium"
	TierHighlight SponsoredTier = "highlight"
)

// Entitlements is the set of derived flags stored on a project.
// Values are produced only by MapPlan, Revoked and ForState.
type Entitlements struct {
	SEOStatus     SEOStatus
	IsFeatured    bool
	IsSponsored   bool
	SponsoredTier SponsoredTier
}

// Project is the tenant-owned entity receiving entitlements.
type Project struct {
	ID          int64
	OwnerUserID string

	PlanType           PlanType
	SubscriptionID     *string
	SubscriptionStatus SubscriptionStatus
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	ExternalCustomerID *string

	Entitlements

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProject returns a freshly submitted Free project
func NewProject(id int64, ownerUserID string) *Project {
	return &Project{
		ID:                 id,
		OwnerUserID:        ownerUserID,
		PlanType:           PlanFree,
		SubscriptionStatus: StatusNone,
		Entitlements:       Revoked(),
	}
}

// Metadata is the correlation envelope echoed back by the processor.
// It is never persisted; it locates and guards the project update.
type Metadata struct {
	UserID         string
	ProjectID      int64
	PlanType       string
	SubscriptionID string
}

// Claim is a ledger entry for one webhook event.
type Claim struct {
	// Key is the webhook id (explicit, payment id, or composite)
	Key string

	// EventType is the raw processor event type
	EventType string
}

// ProjectUpdate is a single owner-scoped write to a project row.
// Nil pointer fields are left untouched.
type ProjectUpdate struct {
	ProjectID   int64
	OwnerUserID string

	Status             SubscriptionStatus
	PlanType           *PlanType
	SubscriptionID     *string
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	ExternalCustomerID *string
	Entitlements       *Entitlements
}

// Apply copies the update onto p. Stores without SQL use it to stay in step
// with the postgres UPDATE statement.
func (u *ProjectUpdate) Apply(p *Project) {
	if u.Status != "" {
		p.SubscriptionStatus = u.Status
	}
	if u.PlanType != nil {
		p.PlanType = *u.PlanType
	}
	if u.SubscriptionID != nil {
		id := *u.SubscriptionID
		p.SubscriptionID = &id
	}
	if u.CurrentPeriodEnd != nil {
		end := *u.CurrentPeriodEnd
		p.CurrentPeriodEnd = &end
	}
	if u.CancelAtPeriodEnd != nil {
		p.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
	}
	if u.ExternalCustomerID != nil {
		id := *u.ExternalCustomerID
		p.ExternalCustomerID = &id
	}
	if u.Entitlements != nil {
		p.Entitlements = *u.Entitlements
	}
}
