package webhook

import (
	"fmt"
	"strings"
)

// Kind is the closed set of event kinds the engine acts on.
type Kind int

const (
	KindUnknown Kind = iota
	KindPaymentSucceeded
	KindSubscriptionOnHold
	KindSubscriptionCancelled
	KindSubscriptionExpired
)

func (k Kind) String() string {
	switch k {
	case KindPaymentSucceeded:
		return "payment_succeeded"
	case KindSubscriptionOnHold:
		return "subscription_on_hold"
	case KindSubscriptionCancelled:
		return "subscription_cancelled"
	case KindSubscriptionExpired:
		return "subscription_expired"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name as produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "payment_succeeded":
		return KindPaymentSucceeded, nil
	case "subscription_on_hold":
		return KindSubscriptionOnHold, nil
	case "subscription_cancelled":
		return KindSubscriptionCancelled, nil
	case "subscription_expired":
		return KindSubscriptionExpired, nil
	case "unknown":
		return KindUnknown, nil
	}
	return KindUnknown, fmt.Errorf("unknown event kind %q", s)
}

// DefaultAliases maps processor event types to kinds.
var DefaultAliases = map[string]Kind{
	"payment.succeeded":         KindPaymentSucceeded,
	"subscription.active":       KindPaymentSucceeded,
	"subscription.renewed":      KindPaymentSucceeded,
	"invoice.payment_succeeded": KindPaymentSucceeded,
	"invoice.paid":              KindPaymentSucceeded,

	"subscription.on_hold":         KindSubscriptionOnHold,
	"subscription.paused":          KindSubscriptionOnHold,
	"customer.subscription.paused": KindSubscriptionOnHold,

	"subscription.cancelled": KindSubscriptionCancelled,
	"subscription.canceled":  KindSubscriptionCancelled,

	"subscription.expired":          KindSubscriptionExpired,
	"subscription.failed":           KindSubscriptionExpired,
	"customer.subscription.deleted": KindSubscriptionExpired,
}

// Classifier maps event-type strings to kinds, case-insensitively.
type Classifier struct {
	aliases map[string]Kind
}

// NewClassifier builds a classifier from DefaultAliases plus extra, which
// take precedence.
func NewClassifier(extra map[string]Kind) *Classifier {
	aliases := make(map[string]Kind, len(DefaultAliases)+len(extra))
	for t, k := range DefaultAliases {
		aliases[t] = k
	}
	for t, k := range extra {
		aliases[strings.ToLower(strings.TrimSpace(t))] = k
	}
	return &Classifier{aliases: aliases}
}

// Classify returns the kind for eventType, or KindUnknown.
func (c *Classifier) Classify(eventType string) Kind {
	if k, ok := c.aliases[strings.ToLower(strings.TrimSpace(eventType))]; ok {
		return k
	}
	return KindUnknown
}

// ParseAliases parses "type=kind,type=kind" as used by EVENT_ALIASES.
func ParseAliases(s string) (map[string]Kind, error) {
	out := make(map[string]Kind)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eventType, kindName, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(eventType) == "" {
			return nil, fmt.Errorf("invalid alias %q: want type=kind", pair)
		}
		k, err := ParseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("invalid alias %q: %w", pair, err)
		}
		out[strings.ToLower(strings.TrimSpace(eventType))] = k
	}
	return out, nil
}
