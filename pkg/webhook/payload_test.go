package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Rejects(t *testing.T) {
	for _, body := range []string{``, `not json`, `[1,2]`, `"str"`, `null`} {
		_, err := Decode([]byte(body))
		assert.ErrorIs(t, err, ErrUnparseable, body)
	}
}

func TestPayload_String(t *testing.T) {
	p, err := Decode([]byte(`{"data":{"a":"","b":42,"c":{"d":"x"},"list":[{"v":"first"}]}}`))
	require.NoError(t, err)

	f := p.String("data.missing", "data.a", "data.b")
	assert.Equal(t, Field{Value: "42", Path: "data.b"}, f)

	assert.Equal(t, "x", p.String("data.c.d").Value)
	assert.Equal(t, "first", p.String("data.list.0.v").Value)
	assert.False(t, p.String("data.list.1.v").Found())
	assert.False(t, p.String("data.c").Found())
}

func TestPayload_Time(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		body string
	}{
		{"rfc3339", `{"t":"2025-03-01T12:00:00Z"}`},
		{"offset", `{"t":"2025-03-01T14:00:00+02:00"}`},
		{"unix seconds", `{"t":1740830400}`},
		{"unix millis", `{"t":1740830400000}`},
		{"numeric string", `{"t":"1740830400"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			got, path := p.Time("t")
			require.NotNil(t, got)
			assert.Equal(t, "t", path)
			assert.True(t, want.Equal(*got), got.String())
		})
	}

	p, _ := Decode([]byte(`{"t":"soon","z":0}`))
	got, path := p.Time("t", "z")
	assert.Nil(t, got)
	assert.Empty(t, path)
}

func TestPayload_Bool(t *testing.T) {
	p, _ := Decode([]byte(`{"a":"yes","b":"true","c":false}`))
	b, path := p.Bool("a", "b")
	require.NotNil(t, b)
	assert.True(t, *b)
	assert.Equal(t, "b", path)

	c, _ := p.Bool("c")
	require.NotNil(t, c)
	assert.False(t, *c)
}

func TestCoerceInt(t *testing.T) {
	n, ok := coerceInt("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	n, ok = coerceInt("42.0")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = coerceInt("42.5")
	assert.False(t, ok)
	_, ok = coerceInt("abc")
	assert.False(t, ok)
}

func TestParseEvent_FlatShape(t *testing.T) {
	body := `{
		"type": "subscription.active",
		"timestamp": "2025-03-01T12:00:00Z",
		"data": {
			"subscription_id": "sub_123",
			"payment_id": "pay_9",
			"status": "active",
			"next_billing_date": "2025-04-01T12:00:00Z",
			"cancel_at_next_billing_date": false,
			"customer": {"customer_id": "cus_1", "email": "a@b.c"},
			"metadata": {"user_id": "u1", "project_id": "42", "plan_type": "Spotlight"}
		}
	}`
	ev, err := ParseEvent([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "subscription.active", ev.Type)
	assert.False(t, ev.ID.Found())
	assert.Equal(t, "sub_123", ev.SubscriptionID.Value)
	assert.Equal(t, "pay_9", ev.PaymentID.Value)
	assert.Equal(t, Field{Value: "cus_1", Path: "data.customer.customer_id"}, ev.CustomerID)
	assert.Equal(t, "data.next_billing_date", ev.PeriodEndPath)
	require.NotNil(t, ev.CancelAtPeriodEnd)
	assert.False(t, *ev.CancelAtPeriodEnd)

	assert.Equal(t, "data.metadata", ev.MetadataPath)
	assert.Equal(t, "u1", ev.Metadata.UserID)
	assert.Equal(t, int64(42), ev.Metadata.ProjectID)
	assert.Equal(t, "Spotlight", ev.Metadata.PlanType)
	assert.Equal(t, "sub_123", ev.Metadata.SubscriptionID)
}

func TestParseEvent_StripeShape(t *testing.T) {
	body := `{
		"id": "evt_1",
		"type": "customer.subscription.deleted",
		"data": {"object": {
			"id": "sub_abc",
			"object": "subscription",
			"customer": "cus_9",
			"status": "canceled",
			"items": {"data": [{"current_period_end": 1740830400}]},
			"metadata": {"userId": "u2", "projectId": 7, "planType": "showcase"}
		}}
	}`
	ev, err := ParseEvent([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, Field{Value: "evt_1", Path: "id"}, ev.ID)
	assert.Equal(t, Field{Value: "sub_abc", Path: "data.object.id"}, ev.SubscriptionID)
	assert.Equal(t, "cus_9", ev.CustomerID.Value)
	assert.Equal(t, "data.object.items.data.0.current_period_end", ev.PeriodEndPath)
	assert.Equal(t, "data.object.metadata", ev.MetadataPath)
	assert.Equal(t, int64(7), ev.Metadata.ProjectID)

	status, ok := ev.ReportedStatus()
	assert.True(t, ok)
	assert.Equal(t, "cancelled", string(status))
}

func TestParseEvent_InvoiceObjectIDIsNotSubscription(t *testing.T) {
	body := `{"type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice","subscription":"sub_2","payment_intent":"pi_3"}}}`
	ev, err := ParseEvent([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "sub_2", ev.SubscriptionID.Value)
	assert.Equal(t, "pi_3", ev.PaymentID.Value)
}

func TestParseEvent_InvoiceParentSubscription(t *testing.T) {
	body := `{
		"id": "evt_2",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "in_2",
			"object": "invoice",
			"customer": "cus_4",
			"status": "paid",
			"lines": {"data": [{"period": {"start": 1738368000, "end": 1740787200}}]},
			"parent": {
				"type": "subscription_details",
				"subscription_details": {
					"subscription": "sub_5",
					"metadata": {"user_id": "u1", "project_id": "42", "plan_type": "spotlight"}
				}
			}
		}}
	}`
	ev, err := ParseEvent([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, Field{Value: "sub_5", Path: "data.object.parent.subscription_details.subscription"}, ev.SubscriptionID)
	assert.Equal(t, "data.object.parent.subscription_details.metadata", ev.MetadataPath)
	assert.Equal(t, "sub_5", ev.Metadata.SubscriptionID)
	assert.Equal(t, int64(42), ev.Metadata.ProjectID)
	assert.Equal(t, "data.object.lines.data.0.period.end", ev.PeriodEndPath)
}

func TestParseEvent_BadProjectID(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"payment.succeeded","data":{"metadata":{"user_id":"u1","project_id":"abc","plan_type":"Showcase"}}}`))
	require.NoError(t, err)
	assert.Zero(t, ev.Metadata.ProjectID)
	assert.True(t, ev.badProjectID)
}

func TestDeriveKey(t *testing.T) {
	base := func() *Event {
		return &Event{
			Type:           "Subscription.On_Hold",
			Kind:           KindSubscriptionOnHold,
			SubscriptionID: Field{Value: "sub_1", Path: "data.subscription_id"},
			PaymentID:      Field{Value: "pay_1", Path: "data.payment_id"},
			Metadata:       metadataFor("u1", 42, "Showcase"),
		}
	}

	key, src := DeriveKey(base(), " wh_1 ")
	assert.Equal(t, "wh_1", key)
	assert.Equal(t, KeyFromHeader, src)

	ev := base()
	ev.ID = Field{Value: "evt_1", Path: "id"}
	key, src = DeriveKey(ev, "")
	assert.Equal(t, "evt_1", key)
	assert.Equal(t, KeyFromPayloadID, src)

	// payment id is only used for payment kinds
	key, src = DeriveKey(base(), "")
	assert.Equal(t, "subscription.on_hold:sub_1:42", key)
	assert.Equal(t, KeyFromComposite, src)

	ev = base()
	ev.Kind = KindPaymentSucceeded
	key, src = DeriveKey(ev, "")
	assert.Equal(t, "pay_1", key)
	assert.Equal(t, KeyFromPayment, src)

	ev = base()
	ev.Metadata.ProjectID = 0
	key, src = DeriveKey(ev, "")
	assert.Empty(t, key)
	assert.Equal(t, KeyNone, src)
}
