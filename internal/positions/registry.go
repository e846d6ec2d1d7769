// internal/positions/registry.go
package positions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Registry is the single source of truth for slot occupancy. Lapsed
// reservations count as free on every read; nothing sweeps them.
type Registry interface {
	// Seed creates the slot table if it is missing. Safe to call repeatedly.
	Seed(ctx context.Context) error
	// ListAvailable returns free position numbers in ascending order.
	ListAvailable(ctx context.Context, tier Tier) ([]int, error)
	// Reserve claims a slot for vendorID until expiresAt. Exactly one of any
	// set of concurrent callers succeeds; the rest get ErrPositionTaken.
	Reserve(ctx context.Context, tier Tier, number int, vendorID uuid.UUID, expiresAt time.Time) error
	// Extend moves the expiry of a slot the vendor currently holds.
	Extend(ctx context.Context, tier Tier, number int, vendorID uuid.UUID, expiresAt time.Time) error
	// Release clears the slot. Releasing a free slot is a no-op.
	Release(ctx context.Context, tier Tier, number int) error
	// Vacate clears the slot only if vendorID is still recorded as its occupant.
	Vacate(ctx context.Context, tier Tier, number int, vendorID uuid.UUID) error
	// OccupantOf returns the live occupant, or nil when the slot is free or lapsed.
	OccupantOf(ctx context.Context, tier Tier, number int) (*uuid.UUID, error)
	// Snapshot returns every slot of the tier as stored, lapsed or not.
	Snapshot(ctx context.Context, tier Tier) ([]Position, error)
}
