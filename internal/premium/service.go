// internal/premium/service.go
package premium

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"vowmarket/internal/accounts"
	"vowmarket/internal/positions"
	"vowmarket/internal/pricing"
	"vowmarket/pkg/eventstore"
)

var (
	ErrAlreadySubscribed    = errors.New("vendor already holds a premium subscription")
	ErrNoActiveSubscription = errors.New("no active premium subscription")
	ErrSubscriptionExpired  = errors.New("premium subscription is no longer active")
	ErrSubscriptionNotFound = errors.New("premium subscription not found")
	ErrConcurrentUpdate     = errors.New("premium subscription was modified concurrently")
	ErrNotVendor            = errors.New("account is not a vendor")
)

// Service defines the premium placement operations.
type Service interface {
	Quote(tier positions.Tier, position int) (pricing.Quote, error)
	ListAvailable(ctx context.Context, tier positions.Tier) ([]int, error)
	Upgrade(ctx context.Context, vendorID uuid.UUID, tier positions.Tier, position int, cycle pricing.BillingCycle) (*Subscription, error)
	ChangePosition(ctx context.Context, vendorID uuid.UUID, tier positions.Tier, position int, cycle pricing.BillingCycle) (*Subscription, error)
	Cancel(ctx context.Context, vendorID uuid.UUID) error
	Renew(ctx context.Context, vendorID uuid.UUID) (*Subscription, error)
	CurrentStatus(ctx context.Context, vendorID uuid.UUID) (*Subscription, error)
	History(ctx context.Context, vendorID, subscriptionID uuid.UUID) ([]eventstore.Event, error)
}

// VendorDirectory resolves the account behind a vendor ID.
type VendorDirectory interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}
