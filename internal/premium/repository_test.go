package premium_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vowmarket/internal/positions"
	"vowmarket/internal/premium"
	"vowmarket/internal/pricing"
	"vowmarket/internal/testdb"
)

func TestMemoryRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) premium.Repository {
		return premium.NewMemoryRepository()
	})
}

func TestPostgresRepository(t *testing.T) {
	db := testdb.New(t)
	runRepositoryContract(t, func(t *testing.T) premium.Repository {
		testdb.Truncate(t, db)
		return premium.NewPostgresRepository(db)
	})
}

func newSubscription(vendor uuid.UUID, pos int) *premium.Subscription {
	tier, _ := positions.TierOf(pos)
	price, _ := pricing.Calculate(tier, pos, pricing.Monthly)
	return &premium.Subscription{
		ID:           uuid.New(),
		VendorID:     vendor,
		Tier:         tier,
		Position:     pos,
		BillingCycle: pricing.Monthly,
		Price:        price,
		StartedAt:    start,
		RenewsAt:     pricing.Monthly.Next(start),
		Status:       premium.StatusActive,
		Version:      1,
	}
}

func runRepositoryContract(t *testing.T, factory func(t *testing.T) premium.Repository) {
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		repo := factory(t)
		sub := newSubscription(uuid.New(), 3)
		require.NoError(t, repo.Create(ctx, sub))

		got, err := repo.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub, got)

		live, err := repo.GetLive(ctx, sub.VendorID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, live.ID)

		_, err = repo.GetLive(ctx, uuid.New())
		assert.ErrorIs(t, err, premium.ErrSubscriptionNotFound)
		_, err = repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, premium.ErrSubscriptionNotFound)
	})

	t.Run("second live subscription is rejected", func(t *testing.T) {
		repo := factory(t)
		vendor := uuid.New()
		require.NoError(t, repo.Create(ctx, newSubscription(vendor, 3)))
		assert.ErrorIs(t, repo.Create(ctx, newSubscription(vendor, 4)), premium.ErrAlreadySubscribed)
	})

	t.Run("optimistic update", func(t *testing.T) {
		repo := factory(t)
		sub := newSubscription(uuid.New(), 20)
		require.NoError(t, repo.Create(ctx, sub))

		expires := sub.RenewsAt
		sub.Status = premium.StatusCancelled
		sub.ExpiresAt = &expires
		sub.Version = 2
		require.NoError(t, repo.Update(ctx, sub, 1))

		stale := *sub
		stale.Version = 3
		assert.ErrorIs(t, repo.Update(ctx, &stale, 1), premium.ErrConcurrentUpdate)

		got, err := repo.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, premium.StatusCancelled, got.Status)
		require.NotNil(t, got.ExpiresAt)
		assert.Equal(t, expires, *got.ExpiresAt)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("replace swaps the live subscription", func(t *testing.T) {
		repo := factory(t)
		vendor := uuid.New()
		old := newSubscription(vendor, 5)
		require.NoError(t, repo.Create(ctx, old))

		retired := *old
		retired.Status = premium.StatusExpired
		retired.Version = 2
		next := newSubscription(vendor, 15)
		require.NoError(t, repo.Replace(ctx, &retired, 1, next))

		live, err := repo.GetLive(ctx, vendor)
		require.NoError(t, err)
		assert.Equal(t, next.ID, live.ID)

		all, err := repo.ListLive(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("replace with stale version changes nothing", func(t *testing.T) {
		repo := factory(t)
		vendor := uuid.New()
		old := newSubscription(vendor, 6)
		require.NoError(t, repo.Create(ctx, old))

		retired := *old
		retired.Status = premium.StatusExpired
		retired.Version = 8
		err := repo.Replace(ctx, &retired, 7, newSubscription(vendor, 16))
		assert.ErrorIs(t, err, premium.ErrConcurrentUpdate)

		live, err := repo.GetLive(ctx, vendor)
		require.NoError(t, err)
		assert.Equal(t, old.ID, live.ID)
		assert.Equal(t, premium.StatusActive, live.Status)
	})
}
