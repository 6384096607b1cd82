package webhook

import "errors"

var (
	// ErrSecretNotConfigured is returned when a verifier is built without a secret.
	// Treated as a fatal startup error.
	ErrSecretNotConfigured = errors.New("webhook secret not configured")

	// ErrInvalidSignature is returned for a missing or mismatched signature
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnparseable is returned when the body is not a JSON object
	ErrUnparseable = errors.New("unparseable webhook payload")

	// ErrMalformedEvent marks an event missing correlation metadata or carrying
	// an unknown plan. The event is acknowledged but not applied.
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrNoStore is returned when the engine is built without a project store
	ErrNoStore = errors.New("project store not configured")
)
