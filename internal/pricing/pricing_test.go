package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"vowmarket/internal/positions"
)

func TestCalculateMonthly(t *testing.T) {
	tests := []struct {
		name     string
		tier     positions.Tier
		position int
		want     Money
	}{
		{name: "first slot", tier: positions.TierTop10, position: 1, want: Dollars(190)},
		{name: "third slot", tier: positions.TierTop10, position: 3, want: Dollars(170)},
		{name: "last top10 slot", tier: positions.TierTop10, position: 10, want: Dollars(100)},
		{name: "first top50 slot", tier: positions.TierTop50, position: 11, want: Dollars(25)},
		{name: "last slot", tier: positions.TierTop50, position: 50, want: Dollars(25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.tier, tt.position, Monthly)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateAnnual(t *testing.T) {
	got, err := Calculate(positions.TierTop10, 3, Annual)
	require.NoError(t, err)
	assert.Equal(t, Dollars(1632), got)

	got, err = Calculate(positions.TierTop50, 30, Annual)
	require.NoError(t, err)
	assert.Equal(t, Dollars(240), got)
}

func TestCalculateRejectsBadInput(t *testing.T) {
	_, err := Calculate(positions.TierTop10, 11, Monthly)
	assert.ErrorIs(t, err, positions.ErrInvalidPosition)

	_, err = Calculate(positions.TierTop50, 0, Monthly)
	assert.ErrorIs(t, err, positions.ErrInvalidPosition)

	_, err = Calculate(positions.Tier("platinum"), 1, Monthly)
	assert.ErrorIs(t, err, positions.ErrInvalidTier)

	_, err = Calculate(positions.TierTop10, 1, BillingCycle("weekly"))
	assert.ErrorIs(t, err, ErrInvalidBillingCycle)
}

func TestTop10MonthlyFormula(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.IntRange(1, 10).Draw(t, "position")
		got, err := Calculate(positions.TierTop10, p, Monthly)
		if err != nil {
			t.Fatal(err)
		}
		if want := Dollars(int64(100 + (10-p)*10)); got != want {
			t.Fatalf("position %d: got %s want %s", p, got, want)
		}
	})
}

func TestTop50MonthlyIsFlat(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.IntRange(11, 50).Draw(t, "position")
		got, err := Calculate(positions.TierTop50, p, Monthly)
		if err != nil {
			t.Fatal(err)
		}
		if got != Dollars(25) {
			t.Fatalf("position %d: got %s", p, got)
		}
	})
}

func TestAnnualIsTwelveMonthsAtEightyPercent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.IntRange(positions.FirstPosition, positions.LastPosition).Draw(t, "position")
		tier, _ := positions.TierOf(p)

		monthly, err := Calculate(tier, p, Monthly)
		if err != nil {
			t.Fatal(err)
		}
		annual, err := Calculate(tier, p, Annual)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(float64(annual)-float64(monthly)*12*0.8) >= 0.5 {
			t.Fatalf("position %d: annual %s monthly %s", p, annual, monthly)
		}
		again, _ := Calculate(tier, p, Annual)
		if again != annual {
			t.Fatalf("position %d: not deterministic", p)
		}
	})
}

func TestQuoteFor(t *testing.T) {
	q, err := QuoteFor(positions.TierTop10, 1)
	require.NoError(t, err)
	assert.Equal(t, Dollars(190), q.Monthly)
	assert.Equal(t, Money(182400), q.Annual)
	assert.Equal(t, Money(45600), q.AnnualSavings)
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "$170.00", Dollars(170).String())
	assert.Equal(t, "$1,632.00", Dollars(1632).String())
	assert.Equal(t, "$0.05", Money(5).String())
	assert.Equal(t, "-$1,000,000.10", Money(-100000010).String())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestBillingCycleNext(t *testing.T) {
	cases := []struct {
		name  string
		cycle BillingCycle
		from  time.Time
		want  time.Time
	}{
		{"monthly mid month", Monthly, day(2025, 3, 15), day(2025, 4, 15)},
		{"monthly jan 31 clamps to feb 28", Monthly, day(2025, 1, 31), day(2025, 2, 28)},
		{"monthly jan 31 leap year", Monthly, day(2024, 1, 31), day(2024, 2, 29)},
		{"monthly mar 31 clamps to apr 30", Monthly, day(2025, 3, 31), day(2025, 4, 30)},
		{"monthly dec 31 crosses year", Monthly, day(2025, 12, 31), day(2026, 1, 31)},
		{"annual feb 29 clamps to feb 28", Annual, day(2024, 2, 29), day(2025, 2, 28)},
		{"annual dec 31", Annual, day(2025, 12, 31), day(2026, 12, 31)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cycle.Next(tc.from))
		})
	}

	_, err := ParseBillingCycle("yearly")
	assert.ErrorIs(t, err, ErrInvalidBillingCycle)
}

func TestBillingCycleNextAfter_KeepsAnchorDay(t *testing.T) {
	anchor := day(2025, 1, 31)
	end := Monthly.Next(anchor)
	var got []time.Time
	for range 4 {
		end = Monthly.NextAfter(anchor, end)
		got = append(got, end)
	}
	assert.Equal(t, []time.Time{
		day(2025, 3, 31),
		day(2025, 4, 30),
		day(2025, 5, 31),
		day(2025, 6, 30),
	}, got)

	leap := day(2024, 2, 29)
	assert.Equal(t, day(2026, 2, 28), Annual.NextAfter(leap, Annual.Next(leap)))
	assert.Equal(t, day(2028, 2, 29), Annual.NextAfter(leap, day(2027, 2, 28)))
}

func TestBillingCycleNext_NeverSkipsAMonth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		from := time.Date(
			rapid.IntRange(2000, 2100).Draw(t, "year"),
			time.Month(rapid.IntRange(1, 12).Draw(t, "month")),
			rapid.IntRange(1, 31).Draw(t, "day"),
			0, 0, 0, 0, time.UTC)
		next := Monthly.Next(from)
		months := (next.Year()-from.Year())*12 + int(next.Month()) - int(from.Month())
		if months != 1 {
			t.Fatalf("%s -> %s spans %d months", from, next, months)
		}
		if next.Day() > from.Day() {
			t.Fatalf("%s -> %s moved the day forward", from, next)
		}
	})
}
