// internal/pricing/cycle.go
package pricing

import (
	"errors"
	"fmt"
	"time"
)

// BillingCycle is the payment cadence of a premium placement.
type BillingCycle string

const (
	Monthly BillingCycle = "monthly"
	Annual  BillingCycle = "annual"
)

var ErrInvalidBillingCycle = errors.New("invalid billing cycle")

func ParseBillingCycle(s string) (BillingCycle, error) {
	c := BillingCycle(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBillingCycle, s)
	}
	return c, nil
}

func (c BillingCycle) Valid() bool {
	return c == Monthly || c == Annual
}

// Next returns the end of one billing period starting at from.
func (c BillingCycle) Next(from time.Time) time.Time {
	return c.After(from, 1)
}

// After returns the end of the n-th billing period counted from anchor. A
// day the target month lacks is clamped to its last day, so a plan started
// on Jan 31 renews on Feb 28 and then Mar 31.
func (c BillingCycle) After(anchor time.Time, n int) time.Time {
	months := n
	if c == Annual {
		months = 12 * n
	}
	return addMonths(anchor, months)
}

// NextAfter returns the first period end counted from anchor that falls
// after from.
func (c BillingCycle) NextAfter(anchor, from time.Time) time.Time {
	for n := 1; ; n++ {
		if end := c.After(anchor, n); end.After(from) {
			return end
		}
	}
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	// Day 0 of the following month is the last day of the target month.
	last := time.Date(y, m+time.Month(months)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	return time.Date(y, m+time.Month(months), min(d, last), hh, mm, ss, t.Nanosecond(), t.Location())
}

func (c BillingCycle) String() string { return string(c) }
