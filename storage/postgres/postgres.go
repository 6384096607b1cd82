// Package postgres provides a PostgreSQL implementation of the entitlement
// ledger and project store.
// Claims rely on the webhook_events primary key; project writes are single
// UPDATE statements scoped by owner.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

// uniqueViolation is the SQLSTATE raised when a primary key already exists
const uniqueViolation = "23505"

// Storage implements entitlement.Ledger, entitlement.ProjectStore and
// entitlement.AtomicStore using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background retention goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// EventRetention prunes ledger rows older than this. Zero keeps them forever.
	EventRetention  time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupInterval: time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.EventRetention > 0 && config.CleanupInterval > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Claim implements entitlement.Ledger. A unique violation means another
// delivery already holds the key.
func (s *Storage) Claim(ctx context.Context, claim entitlement.Claim) (bool, error) {
	if claim.Key == "" {
		return false, entitlement.ErrInvalidClaim
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (webhook_id, event_type) VALUES ($1, $2)`,
		claim.Key, claim.EventType)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return true, nil
}

// Claimed implements entitlement.ClaimChecker
func (s *Storage) Claimed(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE webhook_id = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up webhook event: %w", err)
	}
	return exists, nil
}

// Release implements entitlement.Ledger
func (s *Storage) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE webhook_id = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}

// GetProject implements entitlement.ProjectStore
func (s *Storage) GetProject(ctx context.Context, id int64) (*entitlement.Project, error) {
	var (
		p      entitlement.Project
		plan   string
		status string
		seo    string
		tier   *string
	)

	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_user_id, plan_type, subscription_id, subscription_status,
			current_period_end, cancel_at_period_end, external_customer_id,
			seo_status, is_featured, is_sponsored, sponsored_tier, created_at, updated_at
			FROM projects WHERE id = $1`,
		id).Scan(
		&p.ID, &p.OwnerUserID, &plan, &p.SubscriptionID, &status,
		&p.CurrentPeriodEnd, &p.CancelAtPeriodEnd, &p.ExternalCustomerID,
		&seo, &p.IsFeatured, &p.IsSponsored, &tier, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	p.PlanType = entitlement.PlanType(plan)
	p.SubscriptionStatus = entitlement.SubscriptionStatus(status)
	p.SEOStatus = entitlement.SEOStatus(seo)
	if tier != nil {
		p.SponsoredTier = entitlement.SponsoredTier(*tier)
	}
	return &p, nil
}

// CreateProject implements entitlement.ProjectStore
func (s *Storage) CreateProject(ctx context.Context, p *entitlement.Project) error {
	if p == nil || p.OwnerUserID == "" {
		return fmt.Errorf("invalid project")
	}

	plan := p.PlanType
	if plan == "" {
		plan = entitlement.PlanFree
	}
	status := p.SubscriptionStatus
	if status == "" {
		status = entitlement.StatusNone
	}
	seo := p.SEOStatus
	if seo == "" {
		seo = entitlement.SEOInactive
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, owner_user_id, plan_type, subscription_id, subscription_status,
			current_period_end, cancel_at_period_end, external_customer_id,
			seo_status, is_featured, is_sponsored, sponsored_tier)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.OwnerUserID, string(plan), p.SubscriptionID, string(status),
		p.CurrentPeriodEnd, p.CancelAtPeriodEnd, p.ExternalCustomerID,
		string(seo), p.IsFeatured, p.IsSponsored, tierValue(p.SponsoredTier),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return entitlement.ErrProjectExists
		}
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// UpdateProject implements entitlement.ProjectStore. Zero affected rows means
// the project is missing or owned by someone else.
func (s *Storage) UpdateProject(ctx context.Context, update *entitlement.ProjectUpdate) error {
	return s.updateProject(ctx, s.pool, update)
}

// ClaimAndUpdate implements entitlement.AtomicStore: the ledger insert and
// the project write commit together or not at all.
func (s *Storage) ClaimAndUpdate(
	ctx context.Context, claim entitlement.Claim, update *entitlement.ProjectUpdate,
) (bool, error) {
	if claim.Key == "" {
		return false, entitlement.ErrInvalidClaim
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO webhook_events (webhook_id, event_type) VALUES ($1, $2)
			ON CONFLICT (webhook_id) DO NOTHING`,
		claim.Key, claim.EventType)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := s.updateProject(ctx, tx, update); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Storage) updateProject(ctx context.Context, db execer, update *entitlement.ProjectUpdate) error {
	if update == nil {
		return fmt.Errorf("nil project update")
	}

	query, args := buildUpdate(update)
	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrOwnershipMismatch
	}
	return nil
}

// buildUpdate renders one UPDATE statement assigning only the fields the
// update carries. $1 and $2 are always the project id and owner.
func buildUpdate(u *entitlement.ProjectUpdate) (string, []any) {
	args := []any{u.ProjectID, u.OwnerUserID}
	sets := make([]string, 0, 12)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.PlanType != nil {
		set("plan_type", string(*u.PlanType))
	}
	if u.SubscriptionID != nil {
		set("subscription_id", *u.SubscriptionID)
	}
	if u.Status != "" {
		set("subscription_status", string(u.Status))
	}
	if u.CurrentPeriodEnd != nil {
		set("current_period_end", u.CurrentPeriodEnd.UTC())
	}
	if u.CancelAtPeriodEnd != nil {
		set("cancel_at_period_end", *u.CancelAtPeriodEnd)
	}
	if u.ExternalCustomerID != nil {
		set("external_customer_id", *u.ExternalCustomerID)
	}
	if e := u.Entitlements; e != nil {
		set("seo_status", string(e.SEOStatus))
		set("is_featured", e.IsFeatured)
		set("is_sponsored", e.IsSponsored)
		set("sponsored_tier", tierValue(e.SponsoredTier))
	}
	sets = append(sets, "updated_at = NOW()")

	query := "UPDATE projects SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 AND owner_user_id = $2"
	return query, args
}

func tierValue(t entitlement.SponsoredTier) *string {
	if t == entitlement.TierNone {
		return nil
	}
	v := string(t)
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// startCleanup periodically prunes ledger rows past the retention window
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.PruneEvents(ctx, time.Now().Add(-s.config.EventRetention))
		}
	}
}

// PruneEvents deletes ledger rows created before the cutoff and returns how
// many were removed
func (s *Storage) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}
