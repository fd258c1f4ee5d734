package values

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Weight is an exact, non-negative quantity of confirmation weight
type Weight struct {
	d decimal.Decimal
}

// ZeroWeight is the additive identity
var ZeroWeight = Weight{d: decimal.Zero}

func NewWeight(units int64) Weight {
	return Weight{d: decimal.NewFromInt(units)}
}

// NewWeightFromString parses a decimal weight such as "1.515"
func NewWeightFromString(s string) (Weight, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Weight{}, fmt.Errorf("invalid weight: %w", err)
	}
	if d.IsNegative() {
		return Weight{}, fmt.Errorf("weight cannot be negative: %s", s)
	}
	return Weight{d: d}, nil
}

func MustNewWeightFromString(s string) Weight {
	w, err := NewWeightFromString(s)
	if err != nil {
		panic(err)
	}
	return w
}

func (w Weight) Add(o Weight) Weight {
	return Weight{d: w.d.Add(o.d)}
}

// MulRatio scales the weight by num/den
func (w Weight) MulRatio(num, den int64) Weight {
	return Weight{d: w.d.Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den))}
}

func (w Weight) GreaterThanOrEqual(o Weight) bool {
	return w.d.GreaterThanOrEqual(o.d)
}

func (w Weight) Equal(o Weight) bool {
	return w.d.Equal(o.d)
}

func (w Weight) Cmp(o Weight) int {
	return w.d.Cmp(o.d)
}

func (w Weight) Decimal() decimal.Decimal {
	return w.d
}

func (w Weight) Float64() float64 {
	f, _ := w.d.Float64()
	return f
}

func (w Weight) String() string {
	return w.d.String()
}

func (w Weight) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.d.String())
}

func (w *Weight) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewWeightFromString(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
