package firestore

import (
	"context"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

func TestDocIDIsStable(t *testing.T) {
	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Skipf("firestore client unavailable: %v", err)
	}
	defer client.Close()

	s, err := New(client, Config{})
	require.NoError(t, err)
	assert.Equal(t, "webhook_events", s.eventsCollection)

	a := s.doc("evt/1")
	assert.Equal(t, a.ID, s.doc("evt/1").ID)
	assert.NotEqual(t, a.ID, s.doc("evt/2").ID)
	assert.Len(t, a.ID, 64)
	assert.NotContains(t, a.ID, "/")

	_, err = s.Claim(context.Background(), entitlement.Claim{})
	assert.ErrorIs(t, err, entitlement.ErrInvalidClaim)
}
