package entitlement

import "errors"

var (
	// ErrProjectNotFound is returned when a project does not exist
	ErrProjectNotFound = errors.New("project not found")

	// ErrOwnershipMismatch is returned when an owner-scoped write touches zero rows.
	// The project was deleted or belongs to a different user than the event claims.
	ErrOwnershipMismatch = errors.New("project ownership mismatch")

	// ErrProjectExists is returned when creating a project whose id is taken
	ErrProjectExists = errors.New("project already exists")

	// ErrInvalidPlan is returned for a plan outside the plan enum
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrInvalidClaim is returned when a ledger claim has no key
	ErrInvalidClaim = errors.New("invalid ledger claim")

	// ErrStorageUnavailable is returned when the backing store cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")
)
