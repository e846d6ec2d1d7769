// internal/positions/postgres.go
package positions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vowmarket/internal/clock"
)

// PostgresRegistry stores slots in the premium_positions table. Reserve is a
// single conditional UPDATE, so the row lock taken by Postgres decides races
// between any number of service instances.
type PostgresRegistry struct {
	db     *sql.DB
	clock  clock.Clock
	tracer trace.Tracer
}

func NewPostgresRegistry(db *sql.DB, c clock.Clock) *PostgresRegistry {
	if c == nil {
		c = clock.Real{}
	}
	return &PostgresRegistry{
		db:     db,
		clock:  c,
		tracer: otel.Tracer("vowmarket/positions"),
	}
}

func (r *PostgresRegistry) Seed(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "positions.seed")
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO premium_positions (position, tier)
		SELECT g, CASE WHEN g <= $1 THEN 'top10' ELSE 'top50' END
		FROM generate_series($2::int, $3::int) AS g
		ON CONFLICT (position) DO NOTHING
	`, LastTop10Position, FirstPosition, LastPosition)
	if err != nil {
		return fmt.Errorf("seed positions: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) ListAvailable(ctx context.Context, tier Tier) ([]int, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	ctx, span := r.tracer.Start(ctx, "positions.list_available",
		trace.WithAttributes(attribute.String("tier", tier.String())),
	)
	defer span.End()

	rows, err := r.db.QueryContext(ctx, `
		SELECT position
		FROM premium_positions
		WHERE tier = $1
		AND (occupant_id IS NULL OR (expires_at IS NOT NULL AND expires_at <= $2))
		ORDER BY position ASC
	`, string(tier), r.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("query available positions: %w", err)
	}
	defer rows.Close()

	out := make([]int, 0)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}

	span.SetAttributes(attribute.Int("positions.available", len(out)))
	return out, nil
}

func (r *PostgresRegistry) Reserve(ctx context.Context, tier Tier, number int, vendorID uuid.UUID, expiresAt time.Time) error {
	if err := Validate(tier, number); err != nil {
		return err
	}
	ctx, span := r.tracer.Start(ctx, "positions.reserve",
		trace.WithAttributes(
			attribute.String("tier", tier.String()),
			attribute.Int("position", number),
			attribute.String("vendor.id", vendorID.String()),
		),
	)
	defer span.End()

	res, err := r.db.ExecContext(ctx, `
		UPDATE premium_positions
		SET occupant_id = $3, expires_at = $4, updated_at = NOW()
		WHERE tier = $1 AND position = $2
		AND (occupant_id IS NULL OR (expires_at IS NOT NULL AND expires_at <= $5))
	`, string(tier), number, vendorID, expiresAt.UTC(), r.clock.Now())
	if err != nil {
		return fmt.Errorf("reserve position %d: %w", number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve position %d: %w", number, err)
	}
	if n == 0 {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return ErrPositionTaken
	}
	return nil
}

func (r *PostgresRegistry) Extend(ctx context.Context, tier Tier, number int, vendorID uuid.UUID, expiresAt time.Time) error {
	if err := Validate(tier, number); err != nil {
		return err
	}
	ctx, span := r.tracer.Start(ctx, "positions.extend",
		trace.WithAttributes(
			attribute.Int("position", number),
			attribute.String("vendor.id", vendorID.String()),
		),
	)
	defer span.End()

	res, err := r.db.ExecContext(ctx, `
		UPDATE premium_positions
		SET expires_at = $4, updated_at = NOW()
		WHERE tier = $1 AND position = $2 AND occupant_id = $3
		AND (expires_at IS NULL OR expires_at > $5)
	`, string(tier), number, vendorID, expiresAt.UTC(), r.clock.Now())
	if err != nil {
		return fmt.Errorf("extend position %d: %w", number, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("extend position %d: %w", number, err)
	}
	if n == 0 {
		return ErrNotOccupant
	}
	return nil
}

func (r *PostgresRegistry) Release(ctx context.Context, tier Tier, number int) error {
	if err := Validate(tier, number); err != nil {
		return err
	}
	ctx, span := r.tracer.Start(ctx, "positions.release",
		trace.WithAttributes(attribute.Int("position", number)),
	)
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		UPDATE premium_positions
		SET occupant_id = NULL, expires_at = NULL, updated_at = NOW()
		WHERE tier = $1 AND position = $2 AND occupant_id IS NOT NULL
	`, string(tier), number)
	if err != nil {
		return fmt.Errorf("release position %d: %w", number, err)
	}
	return nil
}

func (r *PostgresRegistry) Vacate(ctx context.Context, tier Tier, number int, vendorID uuid.UUID) error {
	if err := Validate(tier, number); err != nil {
		return err
	}
	ctx, span := r.tracer.Start(ctx, "positions.vacate",
		trace.WithAttributes(
			attribute.Int("position", number),
			attribute.String("vendor.id", vendorID.String()),
		),
	)
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		UPDATE premium_positions
		SET occupant_id = NULL, expires_at = NULL, updated_at = NOW()
		WHERE tier = $1 AND position = $2 AND occupant_id = $3
	`, string(tier), number, vendorID)
	if err != nil {
		return fmt.Errorf("vacate position %d: %w", number, err)
	}
	return nil
}

func (r *PostgresRegistry) OccupantOf(ctx context.Context, tier Tier, number int) (*uuid.UUID, error) {
	if err := Validate(tier, number); err != nil {
		return nil, err
	}
	p, err := r.get(ctx, tier, number)
	if err != nil {
		return nil, err
	}
	if p.Available(r.clock.Now()) {
		return nil, nil
	}
	return p.OccupantID, nil
}

func (r *PostgresRegistry) get(ctx context.Context, tier Tier, number int) (*Position, error) {
	var (
		occupant uuid.NullUUID
		expires  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT occupant_id, expires_at
		FROM premium_positions
		WHERE tier = $1 AND position = $2
	`, string(tier), number).Scan(&occupant, &expires)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("position %d is not seeded", number)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", number, err)
	}
	return toPosition(tier, number, occupant, expires), nil
}

func (r *PostgresRegistry) Snapshot(ctx context.Context, tier Tier) ([]Position, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT position, occupant_id, expires_at
		FROM premium_positions
		WHERE tier = $1
		ORDER BY position ASC
	`, string(tier))
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var (
			number   int
			occupant uuid.NullUUID
			expires  sql.NullTime
		)
		if err := rows.Scan(&number, &occupant, &expires); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, *toPosition(tier, number, occupant, expires))
	}
	return out, rows.Err()
}

func toPosition(tier Tier, number int, occupant uuid.NullUUID, expires sql.NullTime) *Position {
	p := &Position{Tier: tier, Number: number}
	if occupant.Valid {
		id := occupant.UUID
		p.OccupantID = &id
	}
	if expires.Valid {
		t := expires.Time.UTC()
		p.ExpiresAt = &t
	}
	return p
}
