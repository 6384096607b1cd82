package webhook

import (
	"time"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

// Candidate paths, tried in order. The first group matches flat processor
// payloads ({"type", "data": {...}}); the "data.object" group matches
// Stripe-style envelopes.
var (
	typePaths = []string{"type", "event_type", "event"}

	eventIDPaths = []string{"id", "event_id", "webhook_id"}

	subscriptionIDPaths = []string{
		"data.subscription_id",
		"data.subscription.subscription_id",
		"data.subscription.id",
		"data.object.subscription",
		"data.object.subscription_details.subscription",
		"data.object.parent.subscription_details.subscription",
		"subscription_id",
	}

	paymentIDPaths = []string{
		"data.payment_id",
		"data.object.payment_intent",
		"data.object.charge",
		"payment_id",
	}

	customerIDPaths = []string{
		"data.customer.customer_id",
		"data.customer_id",
		"data.customer.id",
		"data.customer",
		"data.object.customer",
	}

	statusPaths = []string{
		"data.subscription_status",
		"data.status",
		"data.object.status",
	}

	periodEndPaths = []string{
		"data.next_billing_date",
		"data.current_period_end",
		"data.subscription.next_billing_date",
		"data.object.current_period_end",
		"data.object.items.data.0.current_period_end",
		"data.object.lines.data.0.period.end",
	}

	cancelFlagPaths = []string{
		"data.cancel_at_next_billing_date",
		"data.cancel_at_period_end",
		"data.object.cancel_at_period_end",
	}

	metadataPaths = []string{
		"data.metadata",
		"data.subscription.metadata",
		"data.object.metadata",
		"data.object.subscription_details.metadata",
		"data.object.parent.subscription_details.metadata",
		"metadata",
	}

	userIDKeys    = []string{"user_id", "userId", "userid"}
	projectIDKeys = []string{"project_id", "projectId", "projectid"}
	planKeys      = []string{"plan_type", "planType", "plan"}
)

// Event is the normalized view of one webhook delivery.
type Event struct {
	Type string
	Kind Kind

	ID             Field
	SubscriptionID Field
	PaymentID      Field
	CustomerID     Field
	Status         Field

	Metadata     entitlement.Metadata
	MetadataPath string

	// projectID held something that is not an integer
	badProjectID bool

	PeriodEnd         *time.Time
	PeriodEndPath     string
	CancelAtPeriodEnd *bool
}

// ParseEvent decodes body and extracts every field the engine uses.
func ParseEvent(body []byte) (*Event, error) {
	p, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return extractEvent(p), nil
}

func extractEvent(p *Payload) *Event {
	ev := &Event{
		Type:           p.String(typePaths...).Value,
		ID:             p.String(eventIDPaths...),
		SubscriptionID: p.String(subscriptionIDPaths...),
		PaymentID:      p.String(paymentIDPaths...),
		CustomerID:     p.String(customerIDPaths...),
		Status:         p.String(statusPaths...),
	}

	// Stripe subscription events carry the subscription itself as data.object.
	if !ev.SubscriptionID.Found() {
		if kind := p.String("data.object.object").Value; kind == "subscription" {
			ev.SubscriptionID = p.String("data.object.id")
		}
	}

	ev.PeriodEnd, ev.PeriodEndPath = p.Time(periodEndPaths...)
	ev.CancelAtPeriodEnd, _ = p.Bool(cancelFlagPaths...)

	extractMetadata(p, ev)
	ev.Metadata.SubscriptionID = ev.SubscriptionID.Value
	return ev
}

// extractMetadata reads the correlation envelope from the first metadata
// object that carries any of its keys.
func extractMetadata(p *Payload, ev *Event) {
	for _, path := range metadataPaths {
		obj, ok := lookupObject(p, path)
		if !ok {
			continue
		}

		user := stringField(obj, userIDKeys)
		project := stringField(obj, projectIDKeys)
		plan := stringField(obj, planKeys)
		if !user.Found() && !project.Found() && !plan.Found() {
			continue
		}

		ev.MetadataPath = path
		ev.Metadata.UserID = user.Value
		ev.Metadata.PlanType = plan.Value
		if project.Found() {
			if id, ok := coerceInt(project.Value); ok && id > 0 {
				ev.Metadata.ProjectID = id
			} else {
				ev.badProjectID = true
			}
		}
		return
	}
}

func lookupObject(p *Payload, path string) (map[string]interface{}, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]interface{})
	return obj, ok
}

// ReportedStatus returns the processor status carried in the payload, if it
// maps to a local status.
func (ev *Event) ReportedStatus() (entitlement.SubscriptionStatus, bool) {
	if !ev.Status.Found() {
		return "", false
	}
	return entitlement.ParseStatus(ev.Status.Value)
}
