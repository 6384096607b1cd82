package entitlement

import "context"

// Ledger is the durable record of processed webhook events.
type Ledger interface {
	// Claim inserts the event id. It returns firstClaim=false (and no error)
	// only when the backing store rejected the insert as a duplicate key.
	// Every other failure is returned as an error.
	Claim(ctx context.Context, claim Claim) (firstClaim bool, err error)

	// Release removes a claim whose transition failed, so the processor's
	// retry is processed instead of being treated as a duplicate.
	// Only called by the engine when claim and update could not share a transaction.
	Release(ctx context.Context, key string) error
}

// ClaimChecker is implemented by ledgers that can report an existing claim
// without writing. It lets the engine skip processor lookups for
// redeliveries; Claim still decides.
type ClaimChecker interface {
	Claimed(ctx context.Context, key string) (bool, error)
}

// ProjectStore persists projects.
type ProjectStore interface {
	// GetProject retrieves a project by id.
	// Returns ErrProjectNotFound if it does not exist.
	GetProject(ctx context.Context, id int64) (*Project, error)

	// CreateProject stores a new project (submission flow).
	CreateProject(ctx context.Context, p *Project) error

	// UpdateProject applies an owner-scoped update in a single statement.
	// Returns ErrOwnershipMismatch if no row matched id and owner.
	UpdateProject(ctx context.Context, update *ProjectUpdate) error
}

// AtomicStore is implemented by stores that hold both the ledger and the
// projects and can claim an event and update a project in one transaction.
// When the update fails the claim is rolled back with it.
type AtomicStore interface {
	ClaimAndUpdate(ctx context.Context, claim Claim, update *ProjectUpdate) (firstClaim bool, err error)
}
