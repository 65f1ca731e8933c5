package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Ticker converts prices to int64 keys for the price ladders. Two prices map to
// the same key exactly when they are equal after quantization to the tick.
type Ticker struct {
	tick decimal.Decimal
}

// NewTicker builds a Ticker for the given tick size.
func NewTicker(tick decimal.Decimal) (Ticker, error) {
	if tick.Sign() <= 0 {
		return Ticker{}, fmt.Errorf("money: tick must be positive, got %s", tick)
	}
	return Ticker{tick: tick}, nil
}

// Tick returns the tick size.
func (t Ticker) Tick() decimal.Decimal { return t.tick }

// Key returns the ladder key of price.
func (t Ticker) Key(price decimal.Decimal) (int64, error) {
	n := price.DivRound(t.tick, 0)
	if !n.IsInteger() || n.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || n.Sign() < 0 {
		return 0, fmt.Errorf("money: price %s out of range for tick %s", price, t.tick)
	}
	return n.IntPart(), nil
}

// Price is the inverse of Key.
func (t Ticker) Price(key int64) decimal.Decimal {
	return t.tick.Mul(decimal.NewFromInt(key))
}
