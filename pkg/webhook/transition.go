package webhook

import (
	"fmt"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/processor"
)

// validate checks the correlation metadata a kind needs before any write.
// Failures wrap ErrMalformedEvent.
func validate(ev *Event) error {
	md := ev.Metadata
	switch {
	case md.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrMalformedEvent)
	case ev.badProjectID:
		return fmt.Errorf("%w: project id is not an integer", ErrMalformedEvent)
	case md.ProjectID <= 0:
		return fmt.Errorf("%w: missing project id", ErrMalformedEvent)
	}

	if ev.Kind != KindPaymentSucceeded {
		return nil
	}

	plan, ok := entitlement.ParsePlan(md.PlanType)
	switch {
	case md.PlanType == "":
		return fmt.Errorf("%w: missing plan type", ErrMalformedEvent)
	case !ok:
		return fmt.Errorf("%w: unknown plan %q", ErrMalformedEvent, md.PlanType)
	case !plan.IsPaid():
		return fmt.Errorf("%w: payment for non-paid plan %q", ErrMalformedEvent, md.PlanType)
	case !ev.SubscriptionID.Found():
		return fmt.Errorf("%w: missing subscription id", ErrMalformedEvent)
	}
	return nil
}

// needsEnrichment reports whether the payload lacks data only the
// processor can supply.
func needsEnrichment(ev *Event) bool {
	return ev.Kind == KindPaymentSucceeded &&
		ev.SubscriptionID.Found() &&
		(ev.PeriodEnd == nil || !ev.CustomerID.Found())
}

// transitionFor builds the owner-scoped update for a validated event.
// auth may be nil. Every field is an absolute assignment so a replay
// writes the same row.
func transitionFor(ev *Event, auth *processor.Subscription) *entitlement.ProjectUpdate {
	update := &entitlement.ProjectUpdate{
		ProjectID:   ev.Metadata.ProjectID,
		OwnerUserID: ev.Metadata.UserID,
	}

	switch ev.Kind {
	case KindPaymentSucceeded:
		plan, _ := entitlement.ParsePlan(ev.Metadata.PlanType)
		status := paidStatus(ev, auth)
		ent := entitlement.ForState(plan, status)
		subID := ev.SubscriptionID.Value
		cancel := false

		update.Status = status
		update.PlanType = &plan
		update.SubscriptionID = &subID
		update.Entitlements = &ent
		update.CancelAtPeriodEnd = &cancel

		switch {
		case ev.CancelAtPeriodEnd != nil:
			update.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
		case auth != nil && auth.CancelAtPeriodEnd != nil:
			update.CancelAtPeriodEnd = auth.CancelAtPeriodEnd
		}

		switch {
		case ev.PeriodEnd != nil:
			update.CurrentPeriodEnd = ev.PeriodEnd
		case auth != nil && auth.CurrentPeriodEnd != nil:
			update.CurrentPeriodEnd = auth.CurrentPeriodEnd
		}

		customerID := ev.CustomerID.Value
		if customerID == "" && auth != nil {
			customerID = auth.CustomerID
		}
		if customerID != "" {
			update.ExternalCustomerID = &customerID
		}

	case KindSubscriptionOnHold:
		ent := entitlement.Revoked()
		update.Status = entitlement.StatusOnHold
		update.Entitlements = &ent

	case KindSubscriptionCancelled:
		// benefits stay until the period ends; flags are not touched
		cancel := true
		update.Status = entitlement.StatusCancelled
		update.CancelAtPeriodEnd = &cancel
		update.CurrentPeriodEnd = ev.PeriodEnd

	case KindSubscriptionExpired:
		plan := entitlement.PlanFree
		ent := entitlement.Revoked()
		update.Status = entitlement.StatusExpired
		update.PlanType = &plan
		update.Entitlements = &ent
	}

	return update
}

// paidStatus is active unless the processor reports a trial.
func paidStatus(ev *Event, auth *processor.Subscription) entitlement.SubscriptionStatus {
	if s, ok := ev.ReportedStatus(); ok && s == entitlement.StatusTrialing {
		return s
	}
	if auth != nil {
		if s, ok := entitlement.ParseStatus(auth.Status); ok && s == entitlement.StatusTrialing {
			return s
		}
	}
	return entitlement.StatusActive
}
