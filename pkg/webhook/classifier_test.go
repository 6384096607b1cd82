package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifier_Defaults(t *testing.T) {
	c := NewClassifier(nil)

	tests := map[string]Kind{
		"payment.succeeded":             KindPaymentSucceeded,
		"Payment.Succeeded":             KindPaymentSucceeded,
		"invoice.paid":                  KindPaymentSucceeded,
		"subscription.on_hold":          KindSubscriptionOnHold,
		"subscription.cancelled":        KindSubscriptionCancelled,
		"subscription.canceled":         KindSubscriptionCancelled,
		"subscription.expired":          KindSubscriptionExpired,
		"customer.subscription.deleted": KindSubscriptionExpired,
		"refund.succeeded":              KindUnknown,
		"":                              KindUnknown,
	}
	for eventType, want := range tests {
		assert.Equal(t, want, c.Classify(eventType), eventType)
	}
}

func TestClassifier_ExtraAliasesOverride(t *testing.T) {
	c := NewClassifier(map[string]Kind{
		"Subscription.Plan_Changed": KindPaymentSucceeded,
		"subscription.failed":       KindSubscriptionOnHold,
	})

	assert.Equal(t, KindPaymentSucceeded, c.Classify("subscription.plan_changed"))
	assert.Equal(t, KindSubscriptionOnHold, c.Classify("subscription.failed"))
	// defaults are not mutated
	assert.Equal(t, KindSubscriptionExpired, DefaultAliases["subscription.failed"])
}

func TestParseAliases(t *testing.T) {
	aliases, err := ParseAliases(" subscription.plan_changed=payment_succeeded , charge.dispute=unknown ,")
	require.NoError(t, err)
	assert.Equal(t, map[string]Kind{
		"subscription.plan_changed": KindPaymentSucceeded,
		"charge.dispute":            KindUnknown,
	}, aliases)

	_, err = ParseAliases("missing-equals")
	assert.Error(t, err)

	_, err = ParseAliases("a=not_a_kind")
	assert.Error(t, err)
}

func TestKind_StringRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindUnknown, KindPaymentSucceeded, KindSubscriptionOnHold, KindSubscriptionCancelled, KindSubscriptionExpired} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}
