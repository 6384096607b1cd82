// Package memory provides an in-memory implementation of the entitlement
// ledger and project store. It is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

// Storage implements entitlement.Ledger, entitlement.ProjectStore and
// entitlement.AtomicStore using in-memory maps.
type Storage struct {
	mu       sync.RWMutex
	projects map[int64]*entitlement.Project
	events   map[string]entitlement.Claim
	now      func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		projects: make(map[int64]*entitlement.Project),
		events:   make(map[string]entitlement.Claim),
		now:      time.Now,
	}
}

// Claim implements entitlement.Ledger
func (s *Storage) Claim(ctx context.Context, claim entitlement.Claim) (bool, error) {
	if claim.Key == "" {
		return false, entitlement.ErrInvalidClaim
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.claimLocked(claim), nil
}

// Release implements entitlement.Ledger
func (s *Storage) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, key)
	return nil
}

// Claimed implements entitlement.ClaimChecker
func (s *Storage) Claimed(ctx context.Context, key string) (bool, error) {
	return s.HasClaim(key), nil
}

// HasClaim reports whether the ledger holds the key
func (s *Storage) HasClaim(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.events[key]
	return ok
}

// ClaimCount returns the number of ledger entries
func (s *Storage) ClaimCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events)
}

// GetProject implements entitlement.ProjectStore
func (s *Storage) GetProject(ctx context.Context, id int64) (*entitlement.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, entitlement.ErrProjectNotFound
	}

	// Return a copy to prevent external mutations
	return copyProject(p), nil
}

// CreateProject implements entitlement.ProjectStore
func (s *Storage) CreateProject(ctx context.Context, p *entitlement.Project) error {
	if p == nil || p.OwnerUserID == "" {
		return fmt.Errorf("invalid project")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[p.ID]; exists {
		return entitlement.ErrProjectExists
	}

	stored := copyProject(p)
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.PlanType == "" {
		stored.PlanType = entitlement.PlanFree
	}
	if stored.SubscriptionStatus == "" {
		stored.SubscriptionStatus = entitlement.StatusNone
	}
	if err := checkInvariant(stored); err != nil {
		return err
	}
	s.projects[p.ID] = stored
	return nil
}

// UpdateProject implements entitlement.ProjectStore
func (s *Storage) UpdateProject(ctx context.Context, update *entitlement.ProjectUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateLocked(update)
}

// ClaimAndUpdate implements entitlement.AtomicStore. The claim is discarded
// if the update fails.
func (s *Storage) ClaimAndUpdate(ctx context.Context, claim entitlement.Claim, update *entitlement.ProjectUpdate) (bool, error) {
	if claim.Key == "" {
		return false, entitlement.ErrInvalidClaim
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.claimLocked(claim) {
		return false, nil
	}
	if err := s.updateLocked(update); err != nil {
		delete(s.events, claim.Key)
		return false, err
	}
	return true, nil
}

func (s *Storage) claimLocked(claim entitlement.Claim) bool {
	if _, exists := s.events[claim.Key]; exists {
		return false
	}
	s.events[claim.Key] = claim
	return true
}

func (s *Storage) updateLocked(update *entitlement.ProjectUpdate) error {
	if update == nil {
		return fmt.Errorf("nil project update")
	}

	p, ok := s.projects[update.ProjectID]
	if !ok || p.OwnerUserID != update.OwnerUserID {
		return entitlement.ErrOwnershipMismatch
	}

	next := copyProject(p)
	update.Apply(next)
	if err := checkInvariant(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now()
	s.projects[update.ProjectID] = next
	return nil
}

// checkInvariant mirrors the projects table CHECK constraint
func checkInvariant(p *entitlement.Project) error {
	if p.PlanType != entitlement.PlanFree && (p.SubscriptionID == nil || *p.SubscriptionID == "") {
		return fmt.Errorf("paid plan %q without subscription id", p.PlanType)
	}
	return nil
}

func copyProject(p *entitlement.Project) *entitlement.Project {
	c := *p
	if p.SubscriptionID != nil {
		v := *p.SubscriptionID
		c.SubscriptionID = &v
	}
	if p.CurrentPeriodEnd != nil {
		v := *p.CurrentPeriodEnd
		c.CurrentPeriodEnd = &v
	}
	if p.ExternalCustomerID != nil {
		v := *p.ExternalCustomerID
		c.ExternalCustomerID = &v
	}
	return &c
}
