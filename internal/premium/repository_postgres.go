// internal/premium/repository_postgres.go
package premium

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vowmarket/internal/positions"
	"vowmarket/internal/pricing"
)

const uniqueViolation = "23505"

// PostgresRepository stores subscriptions in premium_subscriptions. The
// partial unique index premium_subscriptions_one_live backs the
// one-live-subscription rule across service instances.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriptionColumns = `id, vendor_id, tier, position, billing_cycle, price_cents,
	status, started_at, renews_at, expires_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		sub     Subscription
		tier    string
		cycle   string
		status  string
		price   int64
		expires sql.NullTime
	)
	err := row.Scan(
		&sub.ID,
		&sub.VendorID,
		&tier,
		&sub.Position,
		&cycle,
		&price,
		&status,
		&sub.StartedAt,
		&sub.RenewsAt,
		&expires,
		&sub.Version,
	)
	if err != nil {
		return nil, err
	}
	sub.Tier = positions.Tier(tier)
	sub.BillingCycle = pricing.BillingCycle(cycle)
	sub.Status = Status(status)
	sub.Price = pricing.Money(price)
	sub.StartedAt = sub.StartedAt.UTC()
	sub.RenewsAt = sub.RenewsAt.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		sub.ExpiresAt = &t
	}
	return &sub, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	const op = "premium.PostgresRepository.Get"
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+`
		FROM premium_subscriptions
		WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

func (r *PostgresRepository) GetLive(ctx context.Context, vendorID uuid.UUID) (*Subscription, error) {
	const op = "premium.PostgresRepository.GetLive"
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+`
		FROM premium_subscriptions
		WHERE vendor_id = $1 AND status IN ('active', 'cancelled_pending_expiry')`, vendorID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

func (r *PostgresRepository) ListLive(ctx context.Context) ([]*Subscription, error) {
	const op = "premium.PostgresRepository.ListLive"
	rows, err := r.db.QueryContext(ctx, `SELECT `+subscriptionColumns+`
		FROM premium_subscriptions
		WHERE status IN ('active', 'cancelled_pending_expiry')
		ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PostgresRepository) Create(ctx context.Context, sub *Subscription) error {
	const op = "premium.PostgresRepository.Create"
	if err := insertSubscription(ctx, r.db, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, sub *Subscription, expectedVersion int) error {
	const op = "premium.PostgresRepository.Update"
	if err := updateSubscription(ctx, r.db, sub, expectedVersion); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *PostgresRepository) Replace(ctx context.Context, old *Subscription, expectedVersion int, next *Subscription) error {
	const op = "premium.PostgresRepository.Replace"

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin transaction: %w", op, err)
	}
	defer tx.Rollback()

	if err := updateSubscription(ctx, tx, old, expectedVersion); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := insertSubscription(ctx, tx, next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func insertSubscription(ctx context.Context, db execer, sub *Subscription) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO premium_subscriptions
			(id, vendor_id, tier, position, billing_cycle, price_cents, status, started_at, renews_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sub.ID, sub.VendorID, string(sub.Tier), sub.Position, string(sub.BillingCycle), sub.Price.Cents(),
		string(sub.Status), sub.StartedAt, sub.RenewsAt, sub.ExpiresAt, sub.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlreadySubscribed
		}
		return err
	}
	return nil
}

func updateSubscription(ctx context.Context, db execer, sub *Subscription, expectedVersion int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE premium_subscriptions
		SET status = $1, price_cents = $2, renews_at = $3, expires_at = $4, version = $5, updated_at = NOW()
		WHERE id = $6 AND version = $7
	`, string(sub.Status), sub.Price.Cents(), sub.RenewsAt, sub.ExpiresAt, sub.Version, sub.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}
