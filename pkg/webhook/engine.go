package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/processor"
)

// Status is the terminal state of one processed delivery.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusDuplicate Status = "duplicate"
	StatusIgnored   Status = "ignored"
	StatusSkipped   Status = "skipped"
)

// Outcome describes what the engine did with a delivery.
type Outcome struct {
	Status    Status
	Kind      Kind
	EventType string
	Key       string
	KeySource KeySource
	ProjectID int64

	// Reason explains a skipped event
	Reason string
}

// AppliedEvent is passed to Config.OnApplied after a transition is stored.
type AppliedEvent struct {
	Key            string
	Kind           Kind
	EventType      string
	ProjectID      int64
	UserID         string
	Status         entitlement.SubscriptionStatus
	PlanType       *entitlement.PlanType
	SubscriptionID string
	PeriodEnd      *time.Time
	Timestamp      time.Time
}

// Config configures an Engine.
type Config struct {
	// Store holds the projects. Required.
	Store entitlement.ProjectStore

	// Ledger records processed events. Defaults to Store when Store
	// implements entitlement.Ledger.
	Ledger entitlement.Ledger

	// LedgerName labels ledger metrics (e.g., "postgres", "redis").
	LedgerName string

	// Reconciler fills payload gaps from the processor. Optional.
	Reconciler processor.Reconciler

	// Classifier maps event types to kinds. Defaults to NewClassifier(nil).
	Classifier *Classifier

	// OnApplied is called after a transition is stored. Errors are logged
	// only: the event is already claimed and a retry would be a duplicate.
	OnApplied func(ctx context.Context, event AppliedEvent) error

	Logger  entitlement.Logger
	Metrics entitlement.Metrics
}

// Engine runs the validate → classify → enrich → map → apply pipeline.
type Engine struct {
	store      entitlement.ProjectStore
	ledger     entitlement.Ledger
	atomic     entitlement.AtomicStore
	checker    entitlement.ClaimChecker
	ledgerName string
	reconciler processor.Reconciler
	classifier *Classifier
	onApplied  func(ctx context.Context, event AppliedEvent) error
	logger     entitlement.Logger
	metrics    entitlement.Metrics
	now        func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}

	e := &Engine{
		store:      cfg.Store,
		ledger:     cfg.Ledger,
		ledgerName: cfg.LedgerName,
		reconciler: cfg.Reconciler,
		classifier: cfg.Classifier,
		onApplied:  cfg.OnApplied,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
	if e.ledger == nil {
		if l, ok := cfg.Store.(entitlement.Ledger); ok {
			e.ledger = l
		}
	}
	if e.ledger == nil {
		return nil, fmt.Errorf("webhook: no ledger configured and store does not implement one")
	}
	// claim and update share a transaction only when one backend holds both
	if a, ok := cfg.Store.(entitlement.AtomicStore); ok && sameBackend(e.ledger, cfg.Store) {
		e.atomic = a
	}
	if c, ok := e.ledger.(entitlement.ClaimChecker); ok {
		e.checker = c
	}
	if e.ledgerName == "" {
		e.ledgerName = "default"
	}
	if e.classifier == nil {
		e.classifier = NewClassifier(nil)
	}
	if e.logger == nil {
		e.logger = &entitlement.NoopLogger{}
	}
	if e.metrics == nil {
		e.metrics = &entitlement.NoopMetrics{}
	}
	return e, nil
}

func sameBackend(ledger entitlement.Ledger, store entitlement.ProjectStore) bool {
	defer func() { _ = recover() }() // non-comparable dynamic types
	return interface{}(ledger) == interface{}(store)
}

// Atomic reports whether claims and updates share a transaction.
func (e *Engine) Atomic() bool {
	return e.atomic != nil
}

// Process handles one authenticated delivery. headerID is the processor's
// delivery id header value, if any.
//
// A nil error means the delivery should be acknowledged; the Outcome says
// why. ErrUnparseable means the body can never be handled. Any other error
// is transient or needs investigation and the processor should retry.
func (e *Engine) Process(ctx context.Context, body []byte, headerID string) (Outcome, error) {
	start := e.now()

	ev, err := ParseEvent(body)
	if err != nil {
		e.metrics.RecordWebhookError("invalid_payload")
		return Outcome{}, err
	}
	ev.Kind = e.classifier.Classify(ev.Type)

	out, err := e.process(ctx, ev, headerID)
	kind := ev.Kind.String()
	e.metrics.RecordWebhookProcessingDuration(kind, e.now().Sub(start))
	if err != nil {
		e.metrics.RecordWebhookEvent(kind, "error")
		e.metrics.RecordWebhookError("processing_error")
		return out, err
	}
	e.metrics.RecordWebhookEvent(kind, string(out.Status))
	return out, nil
}

func (e *Engine) process(ctx context.Context, ev *Event, headerID string) (Outcome, error) {
	out := Outcome{
		Kind:      ev.Kind,
		EventType: ev.Type,
		ProjectID: ev.Metadata.ProjectID,
	}

	if ev.Kind == KindUnknown {
		e.logger.Debug("Ignoring unhandled webhook event",
			entitlement.Field{Key: "event_type", Value: ev.Type},
		)
		out.Status = StatusIgnored
		return out, nil
	}

	if err := validate(ev); err != nil {
		e.logger.Error("Malformed webhook event acknowledged without applying",
			entitlement.Field{Key: "event_type", Value: ev.Type},
			entitlement.Field{Key: "metadata_path", Value: ev.MetadataPath},
			entitlement.Field{Key: "subscription_id", Value: ev.SubscriptionID.Value},
			entitlement.Field{Key: "error", Value: err},
		)
		e.metrics.RecordWebhookError("malformed_event")
		out.Status = StatusSkipped
		out.Reason = err.Error()
		return out, nil
	}

	out.Key, out.KeySource = DeriveKey(ev, headerID)

	if out.KeySource != KeyNone && needsEnrichment(ev) && e.alreadyClaimed(ctx, out.Key) {
		e.logger.Info("Duplicate webhook event",
			entitlement.Field{Key: "webhook_id", Value: out.Key},
			entitlement.Field{Key: "key_source", Value: string(out.KeySource)},
		)
		e.recordClaim(false)
		out.Status = StatusDuplicate
		return out, nil
	}

	auth := e.enrich(ctx, ev)
	update := transitionFor(ev, auth)

	var claim *entitlement.Claim
	if out.KeySource == KeyNone {
		e.logger.Warn("No idempotency key derivable, processing without ledger claim",
			entitlement.Field{Key: "event_type", Value: ev.Type},
			entitlement.Field{Key: "project_id", Value: ev.Metadata.ProjectID},
		)
		e.metrics.RecordLedgerClaim(e.ledgerName, "no_key")
	} else {
		claim = &entitlement.Claim{Key: out.Key, EventType: ev.Type}
	}

	first, err := e.apply(ctx, claim, update)
	if err != nil {
		e.logger.Error("Failed to apply webhook transition",
			entitlement.Field{Key: "event_type", Value: ev.Type},
			entitlement.Field{Key: "webhook_id", Value: out.Key},
			entitlement.Field{Key: "project_id", Value: ev.Metadata.ProjectID},
			entitlement.Field{Key: "user_id", Value: ev.Metadata.UserID},
			entitlement.Field{Key: "error", Value: err},
		)
		return out, err
	}
	if !first {
		e.logger.Info("Duplicate webhook event",
			entitlement.Field{Key: "webhook_id", Value: out.Key},
			entitlement.Field{Key: "key_source", Value: string(out.KeySource)},
		)
		out.Status = StatusDuplicate
		return out, nil
	}

	out.Status = StatusApplied
	e.metrics.RecordTransition(ev.Kind.String(), string(update.Status))
	e.logger.Info("Applied webhook transition",
		entitlement.Field{Key: "event_type", Value: ev.Type},
		entitlement.Field{Key: "kind", Value: ev.Kind.String()},
		entitlement.Field{Key: "webhook_id", Value: out.Key},
		entitlement.Field{Key: "key_source", Value: string(out.KeySource)},
		entitlement.Field{Key: "project_id", Value: ev.Metadata.ProjectID},
		entitlement.Field{Key: "status", Value: string(update.Status)},
	)

	e.notify(ctx, ev, out, update)
	return out, nil
}

// alreadyClaimed is a read-only ledger lookup run before enrichment. Lookup
// errors fall through to the normal claim.
func (e *Engine) alreadyClaimed(ctx context.Context, key string) bool {
	if e.checker == nil {
		return false
	}
	claimed, err := e.checker.Claimed(ctx, key)
	if err != nil {
		e.logger.Debug("Ledger lookup failed, continuing",
			entitlement.Field{Key: "webhook_id", Value: key},
			entitlement.Field{Key: "error", Value: err},
		)
		return false
	}
	return claimed
}

// enrich asks the processor for the fields the payload lacks. Failures
// yield nil and never fail the event.
func (e *Engine) enrich(ctx context.Context, ev *Event) *processor.Subscription {
	if !needsEnrichment(ev) {
		return nil
	}
	if e.reconciler == nil {
		e.metrics.RecordEnrichment("skipped")
		return nil
	}

	auth := e.reconciler.FetchAuthoritative(ctx, ev.SubscriptionID.Value)
	if auth == nil {
		e.logger.Warn("Subscription enrichment unavailable, using payload defaults",
			entitlement.Field{Key: "subscription_id", Value: ev.SubscriptionID.Value},
		)
		e.metrics.RecordEnrichment("unavailable")
		return nil
	}
	e.metrics.RecordEnrichment("hit")
	return auth
}

// apply writes the update, claiming the event first (or in the same
// transaction). A nil claim means fail-open processing.
func (e *Engine) apply(ctx context.Context, claim *entitlement.Claim, update *entitlement.ProjectUpdate) (bool, error) {
	if claim == nil {
		if err := e.store.UpdateProject(ctx, update); err != nil {
			return false, fmt.Errorf("update project %d: %w", update.ProjectID, err)
		}
		return true, nil
	}

	if e.atomic != nil {
		first, err := e.atomic.ClaimAndUpdate(ctx, *claim, update)
		if err != nil {
			e.metrics.RecordLedgerClaim(e.ledgerName, "error")
			return false, fmt.Errorf("claim and update project %d: %w", update.ProjectID, err)
		}
		e.recordClaim(first)
		return first, nil
	}

	first, err := e.ledger.Claim(ctx, *claim)
	if err != nil {
		e.metrics.RecordLedgerClaim(e.ledgerName, "error")
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	e.recordClaim(first)
	if !first {
		return false, nil
	}

	if err := e.store.UpdateProject(ctx, update); err != nil {
		// give the processor's retry a clean slate
		if relErr := e.ledger.Release(context.WithoutCancel(ctx), claim.Key); relErr != nil {
			e.logger.Error("Failed to release ledger claim after failed update",
				entitlement.Field{Key: "webhook_id", Value: claim.Key},
				entitlement.Field{Key: "error", Value: relErr},
			)
			return false, errors.Join(fmt.Errorf("update project %d: %w", update.ProjectID, err), relErr)
		}
		e.metrics.RecordLedgerClaim(e.ledgerName, "released")
		return false, fmt.Errorf("update project %d: %w", update.ProjectID, err)
	}
	return true, nil
}

func (e *Engine) recordClaim(first bool) {
	if first {
		e.metrics.RecordLedgerClaim(e.ledgerName, "first")
	} else {
		e.metrics.RecordLedgerClaim(e.ledgerName, "duplicate")
	}
}

func (e *Engine) notify(ctx context.Context, ev *Event, out Outcome, update *entitlement.ProjectUpdate) {
	if e.onApplied == nil {
		return
	}
	applied := AppliedEvent{
		Key:            out.Key,
		Kind:           ev.Kind,
		EventType:      ev.Type,
		ProjectID:      ev.Metadata.ProjectID,
		UserID:         ev.Metadata.UserID,
		Status:         update.Status,
		PlanType:       update.PlanType,
		SubscriptionID: ev.SubscriptionID.Value,
		PeriodEnd:      update.CurrentPeriodEnd,
		Timestamp:      e.now(),
	}
	if err := e.onApplied(ctx, applied); err != nil {
		e.logger.Error("Applied-event callback failed",
			entitlement.Field{Key: "webhook_id", Value: out.Key},
			entitlement.Field{Key: "error", Value: err},
		)
	}
}
