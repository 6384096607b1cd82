package entitlement

// MapPlan translates a plan name into the flags stored on a project.
// Matching is case-insensitive. Returns nil for an unrecognized plan; callers
// must then leave the flags alone rather than write partial state.
func MapPlan(plan string) *Entitlements {
	p, ok := ParsePlan(plan)
	if !ok {
		return nil
	}
	ent := forPlan(p)
	return &ent
}

// Revoked is the flag set for held, expired and free projects.
func Revoked() Entitlements {
	return Entitlements{
		SEOStatus:     SEOInactive,
		IsFeatured:    false,
		IsSponsored:   false,
		SponsoredTier: TierNone,
	}
}

// ForState is the total mapping from (plan, status) to flags.
// A cancelled subscription keeps its benefits until the period ends.
func ForState(plan PlanType, status SubscriptionStatus) Entitlements {
	switch status {
	case StatusOnHold, StatusExpired, StatusNone:
		return Revoked()
	}
	return forPlan(plan)
}

func forPlan(p PlanType) Entitlements {
	switch p {
	case PlanSpotlight:
		return Entitlements{
			SEOStatus:     SEOActive,
			IsFeatured:    true,
			IsSponsored:   true,
			SponsoredTier: TierPremium,
		}
	case PlanShowcase:
		return Entitlements{
			SEOStatus:     SEOActive,
			IsFeatured:    false,
			IsSponsored:   true,
			SponsoredTier: TierHighlight,
		}
	default:
		return Revoked()
	}
}
