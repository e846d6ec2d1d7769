package eventstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process log with the same version rules as Postgres.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	streams map[uuid.UUID][]Event
}

func NewMemory() *Memory {
	return &Memory{streams: make(map[uuid.UUID][]Event)}
}

func (m *Memory) Append(_ context.Context, aggregateID uuid.UUID, aggregateType string, expected int, events ...Event) error {
	if expected < AnyVersion {
		return ErrInvalidVersion
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[aggregateID]
	head := len(stream)
	if expected != AnyVersion && head != expected {
		return ErrConcurrencyConflict
	}
	now := time.Now().UTC()
	for i, e := range events {
		m.nextID++
		e.ID = m.nextID
		e.AggregateID = aggregateID
		e.AggregateType = aggregateType
		e.Version = head + i + 1
		e.CreatedAt = now
		stream = append(stream, e)
	}
	m.streams[aggregateID] = stream
	return nil
}

func (m *Memory) Load(_ context.Context, aggregateID uuid.UUID, from, to int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := slices.DeleteFunc(slices.Clone(m.streams[aggregateID]), func(e Event) bool {
		return e.Version < from || (to > 0 && e.Version > to)
	})
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (m *Memory) Version(_ context.Context, aggregateID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[aggregateID]), nil
}
