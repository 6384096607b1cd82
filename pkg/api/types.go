package api

import "time"

// EntitlementsResponse is the billing view of one project
type EntitlementsResponse struct {
	ProjectID         int64      `json:"project_id"`
	Plan              string     `json:"plan"`   // display name: "Free", "Showcase", "Spotlight"
	Status            string     `json:"status"` // "none", "active", "trialing", "on_hold", "cancelled", "expired"
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	Entitlements      Flags      `json:"entitlements"`
}

// Flags are the entitlement flags the catalog reads
type Flags struct {
	SEOStatus     string `json:"seo_status"`
	IsFeatured    bool   `json:"is_featured"`
	IsSponsored   bool   `json:"is_sponsored"`
	SponsoredTier string `json:"sponsored_tier,omitempty"`
}
