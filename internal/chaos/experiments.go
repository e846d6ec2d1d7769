package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vowmarket/internal/clock"
	"vowmarket/internal/positions"
	"vowmarket/internal/premium"
)

// Contender tries to claim a slot for one vendor.
type Contender func(ctx context.Context, tier positions.Tier, position int) error

// SlotState reports whether a slot is currently free.
type SlotState func(ctx context.Context, tier positions.Tier, position int) (bool, error)

type raceTally struct {
	winners    atomic.Int64
	losers     atomic.Int64
	unexpected atomic.Int64
}

// storm releases every contender at once against its chosen slot and tallies
// the outcomes. A contender losing to ErrPositionTaken or
// ErrAlreadySubscribed is an expected loser.
func storm(ctx context.Context, contenders []Contender, pick func(i int) (positions.Tier, int), tally *raceTally) error {
	start := make(chan struct{})
	var g errgroup.Group
	for i, contend := range contenders {
		tier, pos := pick(i)
		g.Go(func() error {
			<-start
			err := contend(ctx, tier, pos)
			switch {
			case err == nil:
				tally.winners.Add(1)
			case errors.Is(err, positions.ErrPositionTaken), errors.Is(err, premium.ErrAlreadySubscribed):
				tally.losers.Add(1)
			default:
				tally.unexpected.Add(1)
				return fmt.Errorf("contender %d: %w", i, err)
			}
			return nil
		})
	}
	close(start)
	return g.Wait()
}

// ReservationRace sends every contender after the same free slot. The
// hypothesis is that exactly one wins and the slot ends up occupied.
func ReservationRace(tier positions.Tier, position int, contenders []Contender, state SlotState, observe time.Duration) Experiment {
	tally := &raceTally{}
	freeMetric := func(ctx context.Context) (float64, error) {
		free, err := state(ctx, tier, position)
		if err != nil {
			return 0, err
		}
		if free {
			return 1, nil
		}
		return 0, nil
	}

	return Experiment{
		Name:       "position-reservation-race",
		Hypothesis: fmt.Sprintf("%d vendors racing for %s #%d produce exactly one winner", len(contenders), tier, position),
		SteadyState: []Metric{
			{
				Name:      "race_winners",
				Query:     func(context.Context) (float64, error) { return float64(tally.winners.Load()), nil },
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
			{
				Name:      "unexpected_errors",
				Query:     func(context.Context) (float64, error) { return float64(tally.unexpected.Load()), nil },
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name:      "slot_free",
				Query:     freeMetric,
				Threshold: Threshold{Operator: ">=", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-reserve",
				Target: "positions",
				Execute: func(ctx context.Context) error {
					free, err := state(ctx, tier, position)
					if err != nil {
						return err
					}
					if !free {
						return fmt.Errorf("%s #%d is not free before the race", tier, position)
					}
					return storm(ctx, contenders, func(int) (positions.Tier, int) { return tier, position }, tally)
				},
			},
		},
		Validation: []Assertion{
			{Metric: "race_winners", Condition: func(v float64) bool { return v == 1 }, Message: "exactly one contender wins the slot"},
			{Metric: "unexpected_errors", Condition: func(v float64) bool { return v == 0 }, Message: "losers only see PositionTaken"},
			{Metric: "slot_free", Condition: func(v float64) bool { return v == 0 }, Message: "the slot is held after the race"},
		},
		Duration: observe,
	}
}

// ConsistencyUnderChurn lets contenders grab slots of a tier at random while
// the probe counts slots and subscriptions that disagree.
func ConsistencyUnderChurn(tier positions.Tier, contenders []Contender, pick func(i int) int, probe func(context.Context) (float64, error), observe time.Duration) Experiment {
	tally := &raceTally{}
	return Experiment{
		Name:       "placement-consistency-under-churn",
		Hypothesis: "registry occupancy always matches live subscriptions",
		SteadyState: []Metric{
			{Name: "orphaned_placements", Query: probe, Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{
			{
				Type:   "concurrent-upgrades",
				Target: "premium",
				Execute: func(ctx context.Context) error {
					return storm(ctx, contenders, func(i int) (positions.Tier, int) { return tier, pick(i) }, tally)
				},
			},
		},
		Validation: []Assertion{
			{Metric: "orphaned_placements", Condition: func(v float64) bool { return v == 0 }, Message: "no slot is held without a live subscription"},
		},
		Duration: observe,
	}
}

// OrphanProbe counts disagreements between the registry and the live
// subscriptions: a held slot whose occupant has no live subscription on
// it, or a live subscription whose slot is held by someone else.
func OrphanProbe(registry positions.Registry, repo premium.Repository, c clock.Clock) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		now := c.Now()
		live, err := repo.ListLive(ctx)
		if err != nil {
			return 0, err
		}
		bySlot := make(map[int]uuid.UUID, len(live))
		for _, sub := range live {
			if !sub.Lapsed(now) {
				bySlot[sub.Position] = sub.VendorID
			}
		}

		var orphans int
		for _, tier := range positions.Tiers {
			slots, err := registry.Snapshot(ctx, tier)
			if err != nil {
				return 0, err
			}
			for _, slot := range slots {
				vendor, subscribed := bySlot[slot.Number]
				held := !slot.Available(now)
				switch {
				case held && (!subscribed || *slot.OccupantID != vendor):
					orphans++
				case !held && subscribed:
					orphans++
				}
			}
		}
		return float64(orphans), nil
	}
}
