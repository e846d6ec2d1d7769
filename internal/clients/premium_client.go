// internal/clients/premium_client.go
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"vowmarket/internal/positions"
	"vowmarket/internal/premium"
	"vowmarket/internal/pricing"
)

// PremiumClient calls the premium service on behalf of a logged-in vendor.
type PremiumClient struct {
	base
}

func NewPremiumClient(baseURL string, client *http.Client) *PremiumClient {
	return &PremiumClient{base: newBase(baseURL, client, DefaultBreakerSettings("premium"))}
}

func (c *PremiumClient) ListAvailable(ctx context.Context, tier positions.Tier) ([]int, error) {
	var free []int
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/positions/%s/available", tier), "", nil, &free); err != nil {
		return nil, mapPremiumError(err)
	}
	return free, nil
}

func (c *PremiumClient) Upgrade(ctx context.Context, token string, tier positions.Tier, position int, cycle pricing.BillingCycle) (*premium.Subscription, error) {
	req := map[string]any{"tier": tier, "position": position, "billing_cycle": cycle}
	var sub premium.Subscription
	if err := c.do(ctx, http.MethodPost, "/premium/subscription", token, req, &sub); err != nil {
		return nil, mapPremiumError(err)
	}
	return &sub, nil
}

func (c *PremiumClient) CurrentStatus(ctx context.Context, token string) (*premium.Subscription, error) {
	var sub premium.Subscription
	if err := c.do(ctx, http.MethodGet, "/premium/subscription", token, nil, &sub); err != nil {
		return nil, mapPremiumError(err)
	}
	if sub.ID == uuid.Nil {
		return nil, nil
	}
	return &sub, nil
}

func (c *PremiumClient) Cancel(ctx context.Context, token string) error {
	return mapPremiumError(c.do(ctx, http.MethodDelete, "/premium/subscription", token, nil, nil))
}

// mapPremiumError turns the service's error messages back into sentinels.
func mapPremiumError(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	for _, known := range []error{
		positions.ErrPositionTaken,
		premium.ErrAlreadySubscribed,
		premium.ErrNoActiveSubscription,
		premium.ErrSubscriptionExpired,
		premium.ErrSubscriptionNotFound,
		premium.ErrNotVendor,
	} {
		if se.Message == known.Error() {
			return known
		}
	}
	return err
}
