package firestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

const testProjectID = "test-project"

func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// testCollection returns a unique collection name for each test run
func testCollection(testName string) string {
	return fmt.Sprintf("test_events_%s_%d", testName, time.Now().UnixNano())
}

func TestNew(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("Expected error for nil client")
	}
}

func TestStorage_Claim(t *testing.T) {
	client := setupFirestoreClient(t)
	s, err := New(client, Config{EventsCollection: testCollection("claim")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	// keys with slashes are valid ledger keys
	key := "payment_succeeded:sub/1:42"

	first, err := s.Claim(ctx, entitlement.Claim{Key: key, EventType: "payment.succeeded"})
	if err != nil || !first {
		t.Fatalf("Expected first claim to succeed, got %v, %v", first, err)
	}

	again, err := s.Claim(ctx, entitlement.Claim{Key: key, EventType: "payment.succeeded"})
	if err != nil {
		t.Fatalf("Duplicate claim returned error: %v", err)
	}
	if again {
		t.Error("Expected duplicate claim to report false")
	}

	snap, err := s.doc(key).Get(ctx)
	if err != nil {
		t.Fatalf("Failed to read claim document: %v", err)
	}
	if got := snap.Data()["webhookId"]; got != key {
		t.Errorf("webhookId mismatch: %v", got)
	}
}

func TestStorage_Claimed(t *testing.T) {
	s, _ := New(setupFirestoreClient(t), Config{EventsCollection: testCollection("claimed")})
	ctx := context.Background()

	claimed, err := s.Claimed(ctx, "evt_seen")
	if err != nil || claimed {
		t.Fatalf("Expected unclaimed key, got %v, %v", claimed, err)
	}
	if _, err := s.Claim(ctx, entitlement.Claim{Key: "evt_seen"}); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	claimed, err = s.Claimed(ctx, "evt_seen")
	if err != nil || !claimed {
		t.Errorf("Expected claimed key, got %v, %v", claimed, err)
	}
}

func TestStorage_Ping(t *testing.T) {
	client := setupFirestoreClient(t)
	s, _ := New(client, Config{EventsCollection: testCollection("ping")})

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestStorage_Release(t *testing.T) {
	client := setupFirestoreClient(t)
	s, _ := New(client, Config{EventsCollection: testCollection("release")})
	ctx := context.Background()

	if _, err := s.Claim(ctx, entitlement.Claim{Key: "evt_r"}); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := s.Release(ctx, "evt_r"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	ok, err := s.Claim(ctx, entitlement.Claim{Key: "evt_r"})
	if err != nil || !ok {
		t.Errorf("Expected claim after release to succeed, got %v, %v", ok, err)
	}
}

func TestStorage_ConcurrentClaims(t *testing.T) {
	client := setupFirestoreClient(t)
	s, _ := New(client, Config{EventsCollection: testCollection("race")})
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.Claim(ctx, entitlement.Claim{Key: "evt_race"}); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("Expected exactly one winning claim, got %d", got)
	}
}
