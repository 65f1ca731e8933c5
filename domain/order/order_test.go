package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex/domain/catalog"
	"spotex/domain/errs"
	"spotex/domain/money"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

func btcUSDT(t *testing.T) *catalog.Pair {
	t.Helper()
	c, err := catalog.New(
		[]catalog.Currency{{Code: "BTC", StackEnabled: true}, {Code: "USDT", StackEnabled: true}},
		[]catalog.Pair{{
			Base: "BTC", Quote: "USDT",
			PriceStep:    d("0.01"),
			QuantityStep: d("0.0001"),
			MinOrderCost: d("10"),
			MaxOrderCost: d("1000000"),
			Enabled:      true,
		}},
	)
	require.NoError(t, err)
	p, err := c.Pair("BTC-USDT")
	require.NoError(t, err)
	return p
}

func TestValidate(t *testing.T) {
	p := btcUSDT(t)
	tests := []struct {
		name string
		o    Order
		want errs.Code
	}{
		{name: "limit ok", o: Order{Kind: Limit, Side: Buy, Quantity: d("0.01"), Price: d("50000")}},
		{name: "zero quantity", o: Order{Kind: Limit, Quantity: d("0"), Price: d("1")}, want: errs.CodeInvalidQuantity},
		{name: "off step quantity", o: Order{Kind: Limit, Quantity: d("0.00001"), Price: d("50000")}, want: errs.CodeInvalidQuantity},
		{name: "off tick price", o: Order{Kind: Limit, Quantity: d("1"), Price: d("100.001")}, want: errs.CodeInvalidPrice},
		{name: "stop missing", o: Order{Kind: StopLimit, Quantity: d("0.01"), Price: d("50000")}, want: errs.CodeInvalidStop},
		{name: "below min", o: Order{Kind: Limit, Quantity: d("0.0001"), Price: d("50000")}, want: errs.CodeMinOrderSize},
		{name: "above max", o: Order{Kind: Limit, Quantity: d("100"), Price: d("50000")}, want: errs.CodeMaxOrderCost},
		{name: "market by cost sell", o: Order{Kind: MarketByCost, Side: Sell, Cost: d("100")}, want: errs.CodeUnknownOrderKind},
		{name: "market by cost ok", o: Order{Kind: MarketByCost, Side: Buy, Cost: d("100")}},
		{name: "market by qty buy without budget", o: Order{Kind: MarketByQty, Side: Buy, Quantity: d("0.01")}, want: errs.CodeInvalidQuantity},
		{name: "market sell ok", o: Order{Kind: MarketByQty, Side: Sell, Quantity: d("0.01")}},
		{name: "unknown kind", o: Order{Kind: Kind(42)}, want: errs.CodeUnknownOrderKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.o.Validate(p)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, errs.CodeOf(err))
		})
	}
}

func TestFillLimit(t *testing.T) {
	o := &Order{Kind: Limit, Side: Buy, Quantity: d("0.03"), Price: d("50000")}
	o.Init(1)
	assert.True(t, o.Hold().Equal(d("1500")))

	o.Fill(d("0.01"), d("49000"))
	o.Fill(d("0.01"), d("50000"))
	assert.True(t, o.QuantityLeft.Equal(d("0.01")))
	assert.True(t, o.VWAP.Equal(d("49500")), "vwap %s", o.VWAP)
	assert.False(t, o.Done())

	o.Fill(d("0.01"), d("50000"))
	assert.True(t, o.Done())
	assert.True(t, o.Executed)
}

func TestFillCostBased(t *testing.T) {
	o := &Order{Kind: MarketByCost, Side: Buy, Cost: d("1000")}
	o.Init(2)
	_, capped := o.Remaining()
	assert.False(t, capped)

	o.Fill(d("0.01"), d("50000"))
	assert.True(t, o.Cost.Equal(d("500")))
	assert.True(t, o.Quantity.Equal(d("0.01")))
	assert.False(t, o.Done())

	o.Fill(d("0.01"), d("50000"))
	assert.True(t, o.Done())
}

func TestStopTriggered(t *testing.T) {
	buy := &Order{Kind: StopLimit, Side: Buy, Stop: d("50500")}
	sell := &Order{Kind: StopLimit, Side: Sell, Stop: d("48000")}

	assert.False(t, buy.StopTriggered(d("50000")))
	assert.True(t, buy.StopTriggered(d("50600")))
	assert.True(t, sell.StopTriggered(d("48000")))
	assert.False(t, sell.StopTriggered(d("48001")))

	buy.InStack = true
	assert.False(t, buy.StopTriggered(d("60000")))
}

func TestTransitionLeavesStack(t *testing.T) {
	o := &Order{ID: 5, Kind: Limit}
	o.Init(5)
	require.True(t, o.InStack)

	now := time.Unix(100, 0)
	ch := o.Transition(Cancelled, now)
	assert.Equal(t, Open, ch.Prev)
	assert.Equal(t, Cancelled, ch.Next)
	assert.False(t, o.InStack)
	assert.Equal(t, now, o.StateChangedAt)
}
