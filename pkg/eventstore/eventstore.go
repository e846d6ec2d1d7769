// Package eventstore is an append-only audit log keyed by aggregate, with
// per-aggregate version numbers guarding concurrent writers.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AnyVersion appends after whatever the stream already holds.
const AnyVersion = -1

// anyVersionAttempts bounds retries when an AnyVersion append races
// another writer on the same stream.
const anyVersionAttempts = 3

var (
	ErrConcurrencyConflict = errors.New("eventstore: stream version changed")
	ErrInvalidVersion      = errors.New("eventstore: invalid expected version")
)

// Event is one entry in an aggregate's audit trail. Stream fields are
// filled in by the store on append.
type Event struct {
	ID            int64             `json:"id"`
	AggregateID   uuid.UUID         `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Type          string            `json:"type"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Version       int               `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Store is implemented by the Postgres and in-memory logs.
type Store interface {
	// Append adds events after expected, the version the caller last saw.
	// Pass AnyVersion to skip the check.
	Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expected int, events ...Event) error
	// Load returns events with from <= version <= to. A zero to means no
	// upper bound.
	Load(ctx context.Context, aggregateID uuid.UUID, from, to int) ([]Event, error)
	Version(ctx context.Context, aggregateID uuid.UUID) (int, error)
}

// NewEvent marshals payload into an Event of the given type.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: marshal %s: %w", eventType, err)
	}
	return Event{Type: eventType, Data: data}, nil
}

// Postgres keeps the log in the events table. Conflicts surface through the
// (aggregate_id, version) unique index.
type Postgres struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, tracer: otel.Tracer("vowmarket/eventstore")}
}

// appendSQL numbers the batch from the stream head in one statement. When
// the head does not match the expected version no rows are written.
const appendSQL = `
	INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
	SELECT $1::uuid, $2::text, e.type, e.data::jsonb, e.meta::jsonb, head.version + e.ord, $7::timestamptz
	FROM (SELECT COALESCE(MAX(version), 0) AS version FROM events WHERE aggregate_id = $1) AS head,
	     unnest($3::text[], $4::text[], $5::text[]) WITH ORDINALITY AS e(type, data, meta, ord)
	WHERE $6::int < 0 OR head.version = $6::int
	RETURNING version`

func (p *Postgres) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expected int, events ...Event) error {
	const op = "eventstore.Append"
	if expected < AnyVersion {
		return ErrInvalidVersion
	}
	if len(events) == 0 {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("aggregate.id", aggregateID.String()),
		attribute.String("aggregate.type", aggregateType),
		attribute.Int("version.expected", expected),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	types := make([]string, len(events))
	data := make([]string, len(events))
	meta := make([]string, len(events))
	for i, e := range events {
		m, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("%s: metadata of %s: %w", op, e.Type, err)
		}
		types[i], data[i], meta[i] = e.Type, string(e.Data), string(m)
	}

	attempts := 1
	if expected == AnyVersion {
		attempts = anyVersionAttempts
	}

	var err error
	for range attempts {
		err = p.insert(ctx, aggregateID, aggregateType, expected, types, data, meta)
		if !errors.Is(err, ErrConcurrencyConflict) {
			break
		}
	}
	if err != nil {
		if !errors.Is(err, ErrConcurrencyConflict) {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%s: %w", op, err)
		}
		span.SetAttributes(attribute.Bool("conflict", true))
		return err
	}
	return nil
}

func (p *Postgres) insert(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expected int, types, data, meta []string) error {
	rows, err := p.db.QueryContext(ctx, appendSQL,
		aggregateID, aggregateType, pq.Array(types), pq.Array(data), pq.Array(meta), expected, time.Now().UTC())
	if err != nil {
		return mapConflict(err)
	}
	defer rows.Close()

	written := 0
	for rows.Next() {
		written++
	}
	if err := rows.Err(); err != nil {
		return mapConflict(err)
	}
	if written == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

func mapConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrConcurrencyConflict
	}
	return err
}

func (p *Postgres) Load(ctx context.Context, aggregateID uuid.UUID, from, to int) ([]Event, error) {
	const op = "eventstore.Load"
	ctx, span := p.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("aggregate.id", aggregateID.String()),
	))
	defer span.End()

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = $1 AND version >= $2 AND ($3::int = 0 OR version <= $3::int)
		ORDER BY version`, aggregateID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.Type, &e.Data, &meta, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("%s: metadata of event %d: %w", op, e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	span.SetAttributes(attribute.Int("events", len(out)))
	return out, nil
}

func (p *Postgres) Version(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	var v int
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`, aggregateID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("eventstore.Version: %w", err)
	}
	return v, nil
}
