// internal/positions/memory.go
package positions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vowmarket/internal/clock"
)

// MemoryRegistry keeps slots in process memory. Its mutex only serialises
// callers inside one process, so it must not back more than one instance.
type MemoryRegistry struct {
	mu    sync.Mutex
	slots map[int]Position
	clock clock.Clock
}

// NewMemoryRegistry returns a registry with all 50 slots seeded.
func NewMemoryRegistry(c clock.Clock) *MemoryRegistry {
	if c == nil {
		c = clock.Real{}
	}
	r := &MemoryRegistry{slots: make(map[int]Position, LastPosition), clock: c}
	_ = r.Seed(context.Background())
	return r
}

func (r *MemoryRegistry) Seed(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range AllPositions() {
		if _, ok := r.slots[p.Number]; !ok {
			r.slots[p.Number] = p
		}
	}
	return nil
}

func (r *MemoryRegistry) ListAvailable(_ context.Context, tier Tier) ([]int, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	now := r.clock.Now()
	first, last := tier.Range()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, last-first+1)
	for n := first; n <= last; n++ {
		if r.slots[n].Available(now) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *MemoryRegistry) Reserve(_ context.Context, tier Tier, number int, vendorID uuid.UUID, expiresAt time.Time) error {
	if err := Validate(tier, number); err != nil {
		return err
	}
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[number]
	if !slot.Available(now) {
		return ErrPositionTaken
	}
	id := vendorID
	exp := expiresAt.UTC()
	slot.OccupantID = &id
	slot.ExpiresAt = &exp
	r.slots[number] = slot
	return nil
}

func (r *MemoryRegistry) Extend(_ context.Context, tier Tier, number int, vendorID uuid.UUID, expiresAt time.Time) error {
	if err := Validate(tier, number); err != nil {
		return err
	}
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[number]
	if !slot.HeldBy(vendorID, now) {
		return ErrNotOccupant
	}
	exp := expiresAt.UTC()
	slot.ExpiresAt = &exp
	r.slots[number] = slot
	return nil
}

func (r *MemoryRegistry) Release(_ context.Context, tier Tier, number int) error {
	if err := Validate(tier, number); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[number] = Position{Tier: tier, Number: number}
	return nil
}

func (r *MemoryRegistry) Vacate(_ context.Context, tier Tier, number int, vendorID uuid.UUID) error {
	if err := Validate(tier, number); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[number]
	if slot.OccupantID != nil && *slot.OccupantID == vendorID {
		r.slots[number] = Position{Tier: tier, Number: number}
	}
	return nil
}

func (r *MemoryRegistry) OccupantOf(_ context.Context, tier Tier, number int) (*uuid.UUID, error) {
	if err := Validate(tier, number); err != nil {
		return nil, err
	}
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[number]
	if slot.Available(now) {
		return nil, nil
	}
	id := *slot.OccupantID
	return &id, nil
}

func (r *MemoryRegistry) Snapshot(_ context.Context, tier Tier) ([]Position, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	first, last := tier.Range()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Position, 0, last-first+1)
	for n := first; n <= last; n++ {
		out = append(out, r.slots[n])
	}
	return out, nil
}
