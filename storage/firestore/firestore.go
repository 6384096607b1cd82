// Package firestore provides a Google Cloud Firestore implementation of the
// entitlement.Ledger interface.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

// Storage implements entitlement.Ledger using Firestore documents. A claim
// is DocumentRef.Create, which fails with AlreadyExists for a second writer.
type Storage struct {
	client           *firestore.Client
	eventsCollection string
	now              func() time.Time
}

// Config holds Firestore ledger configuration
type Config struct {
	// EventsCollection is the Firestore collection for processed webhook events
	// Default: "webhook_events"
	EventsCollection string
}

// New creates a new Firestore ledger
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.EventsCollection == "" {
		config.EventsCollection = "webhook_events"
	}

	return &Storage{
		client:           client,
		eventsCollection: config.EventsCollection,
		now:              time.Now,
	}, nil
}

// Claim implements entitlement.Ledger
func (s *Storage) Claim(ctx context.Context, claim entitlement.Claim) (bool, error) {
	if claim.Key == "" {
		return false, entitlement.ErrInvalidClaim
	}

	_, err := s.doc(claim.Key).Create(ctx, map[string]interface{}{
		"webhookId": claim.Key,
		"eventType": claim.EventType,
		"createdAt": s.now().UTC(),
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	return true, nil
}

// Claimed implements entitlement.ClaimChecker
func (s *Storage) Claimed(ctx context.Context, key string) (bool, error) {
	_, err := s.doc(key).Get(ctx)
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	return false, fmt.Errorf("failed to look up webhook event: %w", err)
}

// Release implements entitlement.Ledger
func (s *Storage) Release(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}

// healthDoc is read by Ping. It never exists; NotFound proves the backend
// answered.
const healthDoc = "_health"

// Ping checks the Firestore connection
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.eventsCollection).Doc(healthDoc).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to reach firestore: %w", err)
	}
	return nil
}

// doc maps a ledger key to a document. Keys may carry characters Firestore
// rejects in document ids, so the id is the key's SHA-256.
func (s *Storage) doc(key string) *firestore.DocumentRef {
	sum := sha256.Sum256([]byte(key))
	return s.client.Collection(s.eventsCollection).Doc(hex.EncodeToString(sum[:]))
}
