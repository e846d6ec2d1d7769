// internal/pricing/pricing.go
package pricing

import (
	"fmt"

	"vowmarket/internal/positions"
)

const (
	// top10BaseDollars is the monthly price of position 10.
	top10BaseDollars = 100
	// top10StepDollars is added for every slot closer to position 1.
	top10StepDollars = 10
	// top50FlatDollars is the monthly price of any position 11-50.
	top50FlatDollars = 25

	// Annual billing is twelve months at 80%.
	annualDiscountNumerator   = 8
	annualDiscountDenominator = 10
)

// Quote holds both cadences for one slot.
type Quote struct {
	Tier          positions.Tier `json:"tier"`
	Position      int            `json:"position"`
	Monthly       Money          `json:"monthly_cents"`
	Annual        Money          `json:"annual_cents"`
	AnnualSavings Money          `json:"annual_savings_cents"`
}

// MonthlyBase returns the undiscounted monthly price of a slot.
func MonthlyBase(tier positions.Tier, position int) (Money, error) {
	if err := positions.Validate(tier, position); err != nil {
		return 0, err
	}
	switch tier {
	case positions.TierTop10:
		return Dollars(top10BaseDollars + int64(positions.LastTop10Position-position)*top10StepDollars), nil
	default:
		return Dollars(top50FlatDollars), nil
	}
}

// Calculate prices one billing period of a slot.
func Calculate(tier positions.Tier, position int, cycle BillingCycle) (Money, error) {
	if !cycle.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBillingCycle, string(cycle))
	}
	monthly, err := MonthlyBase(tier, position)
	if err != nil {
		return 0, err
	}
	if cycle == Annual {
		return annualize(monthly), nil
	}
	return monthly, nil
}

// QuoteFor prices a slot for both cadences.
func QuoteFor(tier positions.Tier, position int) (Quote, error) {
	monthly, err := MonthlyBase(tier, position)
	if err != nil {
		return Quote{}, err
	}
	annual := annualize(monthly)
	return Quote{
		Tier:          tier,
		Position:      position,
		Monthly:       monthly,
		Annual:        annual,
		AnnualSavings: monthly*12 - annual,
	}, nil
}

// annualize rounds half up to the cent.
func annualize(monthly Money) Money {
	total := int64(monthly) * 12 * annualDiscountNumerator
	return Money((total + annualDiscountDenominator/2) / annualDiscountDenominator)
}
