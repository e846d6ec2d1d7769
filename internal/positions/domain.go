// internal/positions/domain.go
package positions

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier is a premium placement category.
type Tier string

const (
	TierTop10 Tier = "top10"
	TierTop50 Tier = "top50"
)

const (
	// FirstPosition is the most desirable slot.
	FirstPosition = 1
	// LastTop10Position is the last slot that belongs to the top10 tier.
	LastTop10Position = 10
	// LastPosition is the last slot of the top50 tier.
	LastPosition = 50
)

var (
	ErrInvalidTier     = errors.New("invalid tier")
	ErrInvalidPosition = errors.New("invalid position for tier")
	ErrPositionTaken   = errors.New("position already taken")
	ErrNotOccupant     = errors.New("vendor does not hold position")
)

// Tiers lists every tier in display order.
var Tiers = []Tier{TierTop10, TierTop50}

// ParseTier converts user input into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	return t == TierTop10 || t == TierTop50
}

// Range returns the inclusive position bounds of the tier.
func (t Tier) Range() (first, last int) {
	switch t {
	case TierTop10:
		return FirstPosition, LastTop10Position
	case TierTop50:
		return LastTop10Position + 1, LastPosition
	default:
		return 0, -1
	}
}

func (t Tier) String() string { return string(t) }

// TierOf derives the tier from a position number alone.
func TierOf(number int) (Tier, error) {
	switch {
	case number >= FirstPosition && number <= LastTop10Position:
		return TierTop10, nil
	case number > LastTop10Position && number <= LastPosition:
		return TierTop50, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrInvalidPosition, number)
	}
}

// Validate checks that number lies inside tier's range.
func Validate(tier Tier, number int) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, string(tier))
	}
	first, last := tier.Range()
	if number < first || number > last {
		return fmt.Errorf("%w: %d is not in %s (%d-%d)", ErrInvalidPosition, number, tier, first, last)
	}
	return nil
}

// Position is one numbered placement slot.
type Position struct {
	Tier       Tier       `json:"tier"`
	Number     int        `json:"position"`
	OccupantID *uuid.UUID `json:"occupant_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Available reports whether the slot can be reserved at now. An occupant
// without an expiry holds the slot indefinitely.
func (p Position) Available(now time.Time) bool {
	if p.OccupantID == nil {
		return true
	}
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// HeldBy reports whether vendorID is the live occupant at now.
func (p Position) HeldBy(vendorID uuid.UUID, now time.Time) bool {
	return !p.Available(now) && *p.OccupantID == vendorID
}

// AllPositions returns the full, freshly seeded slot table.
func AllPositions() []Position {
	out := make([]Position, 0, LastPosition)
	for n := FirstPosition; n <= LastPosition; n++ {
		tier, _ := TierOf(n)
		out = append(out, Position{Tier: tier, Number: n})
	}
	return out
}
