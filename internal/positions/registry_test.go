package positions_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vowmarket/internal/clock"
	"vowmarket/internal/positions"
	"vowmarket/internal/testdb"
)

var day0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type registryFactory func(t *testing.T, c clock.Clock) positions.Registry

func memoryFactory(_ *testing.T, c clock.Clock) positions.Registry {
	return positions.NewMemoryRegistry(c)
}

func TestMemoryRegistry(t *testing.T) {
	runRegistryContract(t, memoryFactory)
}

func TestPostgresRegistry(t *testing.T) {
	db := testdb.New(t)
	runRegistryContract(t, func(t *testing.T, c clock.Clock) positions.Registry {
		testdb.Truncate(t, db)
		r := positions.NewPostgresRegistry(db, c)
		require.NoError(t, r.Seed(context.Background()))
		return r
	})
}

func runRegistryContract(t *testing.T, newRegistry registryFactory) {
	t.Run("fresh registry lists every slot in ascending order", func(t *testing.T) {
		r := newRegistry(t, clock.NewFake(day0))
		ctx := context.Background()

		top10, err := r.ListAvailable(ctx, positions.TierTop10)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, top10)

		top50, err := r.ListAvailable(ctx, positions.TierTop50)
		require.NoError(t, err)
		require.Len(t, top50, 40)
		assert.Equal(t, 11, top50[0])
		assert.Equal(t, 50, top50[len(top50)-1])
	})

	t.Run("reserve takes the slot off the list", func(t *testing.T) {
		c := clock.NewFake(day0)
		r := newRegistry(t, c)
		ctx := context.Background()
		vendor := uuid.New()

		require.NoError(t, r.Reserve(ctx, positions.TierTop10, 3, vendor, day0.AddDate(0, 1, 0)))

		available, err := r.ListAvailable(ctx, positions.TierTop10)
		require.NoError(t, err)
		assert.NotContains(t, available, 3)

		occupant, err := r.OccupantOf(ctx, positions.TierTop10, 3)
		require.NoError(t, err)
		require.NotNil(t, occupant)
		assert.Equal(t, vendor, *occupant)
	})

	t.Run("second reserve of a live slot is rejected", func(t *testing.T) {
		r := newRegistry(t, clock.NewFake(day0))
		ctx := context.Background()

		require.NoError(t, r.Reserve(ctx, positions.TierTop10, 3, uuid.New(), day0.AddDate(0, 1, 0)))
		err := r.Reserve(ctx, positions.TierTop10, 3, uuid.New(), day0.AddDate(0, 1, 0))
		assert.ErrorIs(t, err, positions.ErrPositionTaken)
	})

	t.Run("position outside the tier is invalid", func(t *testing.T) {
		r := newRegistry(t, clock.NewFake(day0))
		ctx := context.Background()

		err := r.Reserve(ctx, positions.TierTop10, 11, uuid.New(), day0.Add(time.Hour))
		assert.ErrorIs(t, err, positions.ErrInvalidPosition)
		err = r.Reserve(ctx, positions.TierTop50, 10, uuid.New(), day0.Add(time.Hour))
		assert.ErrorIs(t, err, positions.ErrInvalidPosition)
		_, err = r.ListAvailable(ctx, positions.Tier("gold"))
		assert.ErrorIs(t, err, positions.ErrInvalidTier)
	})

	t.Run("lapsed reservation is free for the next vendor", func(t *testing.T) {
		c := clock.NewFake(day0)
		r := newRegistry(t, c)
		ctx := context.Background()
		first, second := uuid.New(), uuid.New()

		require.NoError(t, r.Reserve(ctx, positions.TierTop50, 20, first, day0.Add(24*time.Hour)))
		c.Advance(24*time.Hour + time.Second)

		available, err := r.ListAvailable(ctx, positions.TierTop50)
		require.NoError(t, err)
		assert.Contains(t, available, 20)

		occupant, err := r.OccupantOf(ctx, positions.TierTop50, 20)
		require.NoError(t, err)
		assert.Nil(t, occupant)

		require.NoError(t, r.Reserve(ctx, positions.TierTop50, 20, second, c.Now().AddDate(0, 1, 0)))
		occupant, err = r.OccupantOf(ctx, positions.TierTop50, 20)
		require.NoError(t, err)
		require.NotNil(t, occupant)
		assert.Equal(t, second, *occupant)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		r := newRegistry(t, clock.NewFake(day0))
		ctx := context.Background()

		require.NoError(t, r.Reserve(ctx, positions.TierTop10, 1, uuid.New(), day0.Add(time.Hour)))
		require.NoError(t, r.Release(ctx, positions.TierTop10, 1))
		once, err := r.Snapshot(ctx, positions.TierTop10)
		require.NoError(t, err)

		require.NoError(t, r.Release(ctx, positions.TierTop10, 1))
		twice, err := r.Snapshot(ctx, positions.TierTop10)
		require.NoError(t, err)

		assert.Equal(t, once, twice)
		assert.Nil(t, twice[0].OccupantID)
	})

	t.Run("extend only works for the live occupant", func(t *testing.T) {
		c := clock.NewFake(day0)
		r := newRegistry(t, c)
		ctx := context.Background()
		vendor := uuid.New()

		require.NoError(t, r.Reserve(ctx, positions.TierTop10, 5, vendor, day0.Add(time.Hour)))
		require.NoError(t, r.Extend(ctx, positions.TierTop10, 5, vendor, day0.Add(48*time.Hour)))
		assert.ErrorIs(t, r.Extend(ctx, positions.TierTop10, 5, uuid.New(), day0.Add(72*time.Hour)), positions.ErrNotOccupant)

		c.Advance(47 * time.Hour)
		occupant, err := r.OccupantOf(ctx, positions.TierTop10, 5)
		require.NoError(t, err)
		require.NotNil(t, occupant)
		assert.Equal(t, vendor, *occupant)
	})

	t.Run("vacate ignores slots held by someone else", func(t *testing.T) {
		r := newRegistry(t, clock.NewFake(day0))
		ctx := context.Background()
		holder := uuid.New()

		require.NoError(t, r.Reserve(ctx, positions.TierTop10, 7, holder, day0.Add(time.Hour)))
		require.NoError(t, r.Vacate(ctx, positions.TierTop10, 7, uuid.New()))
		occupant, err := r.OccupantOf(ctx, positions.TierTop10, 7)
		require.NoError(t, err)
		require.NotNil(t, occupant)

		require.NoError(t, r.Vacate(ctx, positions.TierTop10, 7, holder))
		occupant, err = r.OccupantOf(ctx, positions.TierTop10, 7)
		require.NoError(t, err)
		assert.Nil(t, occupant)
	})

	t.Run("concurrent reserves have exactly one winner", func(t *testing.T) {
		r := newRegistry(t, clock.NewFake(day0))
		ctx := context.Background()

		const contenders = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []uuid.UUID
			taken   int
		)
		start := make(chan struct{})
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(vendor uuid.UUID) {
				defer wg.Done()
				<-start
				err := r.Reserve(ctx, positions.TierTop10, 2, vendor, day0.AddDate(0, 1, 0))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, vendor)
				case errors.Is(err, positions.ErrPositionTaken):
					taken++
				default:
					t.Errorf("unexpected reserve error: %v", err)
				}
			}(uuid.New())
		}
		close(start)
		wg.Wait()

		require.Len(t, winners, 1)
		assert.Equal(t, contenders-1, taken)

		occupant, err := r.OccupantOf(ctx, positions.TierTop10, 2)
		require.NoError(t, err)
		require.NotNil(t, occupant)
		assert.Equal(t, winners[0], *occupant)
	})
}
