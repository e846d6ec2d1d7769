// internal/pricing/money.go
package pricing

import (
	"fmt"
)

// Money is an amount in US cents.
type Money int64

// Dollars converts whole dollars to Money.
func Dollars(d int64) Money { return Money(d * 100) }

func (m Money) Cents() int64 { return int64(m) }

// String renders the amount as "$1,632.00".
func (m Money) String() string {
	cents := int64(m)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%s.%02d", sign, groupThousands(cents/100), cents%100)
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	head := len(s) % 3
	if head == 0 {
		head = 3
	}
	out := s[:head]
	for i := head; i < len(s); i += 3 {
		out += "," + s[i:i+3]
	}
	return out
}
