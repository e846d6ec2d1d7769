// internal/premium/domain.go
package premium

import (
	"time"

	"github.com/google/uuid"

	"vowmarket/internal/positions"
	"vowmarket/internal/pricing"
)

// Status is the lifecycle state of a premium subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled_pending_expiry"
	StatusExpired   Status = "expired"
)

// Live reports whether the status still counts against the
// one-subscription-per-vendor rule.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusCancelled
}

// Subscription is a vendor's paid hold on one premium position.
type Subscription struct {
	ID           uuid.UUID            `json:"id"`
	VendorID     uuid.UUID            `json:"vendor_id"`
	Tier         positions.Tier       `json:"tier"`
	Position     int                  `json:"position"`
	BillingCycle pricing.BillingCycle `json:"billing_cycle"`
	Price        pricing.Money        `json:"price_cents"`
	StartedAt    time.Time            `json:"started_at"`
	RenewsAt     time.Time            `json:"renews_at"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
	Status       Status               `json:"status"`
	Version      int                  `json:"version"`
}

// EndsAt is the moment the placement stops unless renewed.
func (s *Subscription) EndsAt() time.Time {
	if s.ExpiresAt != nil {
		return *s.ExpiresAt
	}
	return s.RenewsAt
}

// Lapsed reports whether the paid period is over at now.
func (s *Subscription) Lapsed(now time.Time) bool {
	return !s.EndsAt().After(now)
}

const aggregateType = "premium_subscription"

const (
	EventUpgraded  = "PremiumUpgraded"
	EventCancelled = "PremiumCancelled"
	EventRenewed   = "PremiumRenewed"
	EventExpired   = "PremiumExpired"
	EventMoved     = "PremiumMoved"
)

// UpgradedEvent is recorded when a vendor buys a position.
type UpgradedEvent struct {
	SubscriptionID uuid.UUID            `json:"subscription_id"`
	VendorID       uuid.UUID            `json:"vendor_id"`
	Tier           positions.Tier       `json:"tier"`
	Position       int                  `json:"position"`
	BillingCycle   pricing.BillingCycle `json:"billing_cycle"`
	PriceCents     int64                `json:"price_cents"`
	RenewsAt       time.Time            `json:"renews_at"`
	ReplacesID     *uuid.UUID           `json:"replaces_id,omitempty"`
}

// CancelledEvent is recorded when auto-renewal is switched off.
type CancelledEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	VendorID       uuid.UUID `json:"vendor_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// RenewedEvent is recorded when a period is paid for.
type RenewedEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	PriceCents     int64     `json:"price_cents"`
	RenewsAt       time.Time `json:"renews_at"`
}

// ExpiredEvent is recorded when a lapsed subscription is retired.
type ExpiredEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	VendorID       uuid.UUID `json:"vendor_id"`
	Position       int       `json:"position"`
	EndedAt        time.Time `json:"ended_at"`
}

// MovedEvent is recorded on the old subscription when the vendor switches slots.
type MovedEvent struct {
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	NextID         uuid.UUID      `json:"next_id"`
	ToTier         positions.Tier `json:"to_tier"`
	ToPosition     int            `json:"to_position"`
}
