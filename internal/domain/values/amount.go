package values

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a token quantity in minor units
type Amount int64

// NewAmount rejects negative quantities
func NewAmount(v int64) (Amount, error) {
	if v < 0 {
		return 0, fmt.Errorf("amount cannot be negative: %d", v)
	}
	return Amount(v), nil
}

func (a Amount) Int64() int64 {
	return int64(a)
}

func (a Amount) IsZero() bool {
	return a == 0
}

// Add sums two non-negative amounts, failing instead of wrapping
func (a Amount) Add(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("cannot add negative amounts: %d + %d", a, b)
	}
	if b > math.MaxInt64-a {
		return 0, fmt.Errorf("amount overflow: %d + %d", a, b)
	}
	return a + b, nil
}

// Percent returns pct percent of the amount, rounded down
func (a Amount) Percent(pct int) Amount {
	return Amount(decimal.NewFromInt(int64(a)).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart())
}

// Split divides the amount into n equal shares; the remainder is returned separately
func (a Amount) Split(n int) (share Amount, remainder Amount) {
	if n <= 0 {
		return 0, a
	}
	share = a / Amount(n)
	return share, a - share*Amount(n)
}

func (a Amount) String() string {
	return fmt.Sprintf("%d", int64(a))
}
