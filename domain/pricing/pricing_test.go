package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex/domain/catalog"
	"spotex/domain/errs"
	"spotex/domain/money"
	"spotex/domain/order"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

type fixed map[string]decimal.Decimal

func (f fixed) Price(_ context.Context, pair string) (decimal.Decimal, bool) {
	v, ok := f[pair]
	return v, ok
}

func pair(t *testing.T) *catalog.Pair {
	t.Helper()
	c, err := catalog.New(
		[]catalog.Currency{{Code: "BTC"}, {Code: "USDT"}},
		[]catalog.Pair{{Base: "BTC", Quote: "USDT", PriceStep: d("0.01"), QuantityStep: d("0.0001"), Enabled: true}},
	)
	require.NoError(t, err)
	p, err := c.Pair("BTC-USDT")
	require.NoError(t, err)
	return p
}

func TestCheckDeviation(t *testing.T) {
	tests := []struct {
		name    string
		price   string
		allowed string
		ref     Reference
		want    errs.Code
	}{
		{name: "disabled", price: "60000", allowed: "0"},
		{name: "rejects twenty percent", price: "60000", allowed: "5", ref: Reference{LastTrade: d("50000")}, want: errs.CodePriceDeviation},
		{name: "within band", price: "52000", allowed: "5", ref: Reference{LastTrade: d("50000")}},
		{name: "falls back to external", price: "52000", allowed: "5", ref: Reference{External: d("40000")}, want: errs.CodePriceDeviation},
		{name: "falls back to custom", price: "52000", allowed: "5", ref: Reference{Custom: d("51000")}},
		{name: "no reference", price: "1", allowed: "5", want: errs.CodePriceDeviation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDeviation(d(tt.price), d(tt.allowed), tt.ref)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, errs.CodeOf(err))
		})
	}
}

func TestCheckExchangeQuote(t *testing.T) {
	assert.NoError(t, CheckExchangeQuote(d("51000"), d("50000"), d("5")))
	assert.Error(t, CheckExchangeQuote(d("56000"), d("50000"), d("5")))
	assert.NoError(t, CheckExchangeQuote(d("56000"), decimal.Zero, d("5")))
}

func TestQuoteBoundedByLimit(t *testing.T) {
	p := pair(t)
	buy := &order.Order{Side: order.Buy, OTCPercent: d("2"), OTCLimit: d("50500")}
	assert.True(t, Quote(buy, p, d("50000")).Equal(d("50500")))

	sell := &order.Order{Side: order.Sell, OTCPercent: d("-3"), OTCLimit: d("49000")}
	assert.True(t, Quote(sell, p, d("50000")).Equal(d("49000")))

	free := &order.Order{Side: order.Buy, OTCPercent: d("0.333")}
	assert.True(t, Quote(free, p, d("100")).Equal(d("100.33")))
}

func TestRepriceGuard(t *testing.T) {
	p := pair(t)
	o := &order.Order{Side: order.Buy, Price: d("50000"), OTCPercent: d("0")}
	cfg := OTCConfig{ChangeGuard: d("10"), SecondaryGuard: d("1")}

	small := NewOTC(cfg, fixed{"BTC-USDT": d("51000")}, nil)
	price, ok := small.Reprice(context.Background(), o, p)
	assert.True(t, ok)
	assert.True(t, price.Equal(d("51000")))

	unconfirmed := NewOTC(cfg, fixed{"BTC-USDT": d("60000")}, fixed{"BTC-USDT": d("50000")})
	_, ok = unconfirmed.Reprice(context.Background(), o, p)
	assert.False(t, ok)

	confirmed := NewOTC(cfg, fixed{"BTC-USDT": d("60000")}, fixed{"BTC-USDT": d("60100")})
	price, ok = confirmed.Reprice(context.Background(), o, p)
	assert.True(t, ok)
	assert.True(t, price.Equal(d("60000")))
}

func TestCheckPercent(t *testing.T) {
	otc := NewOTC(OTCConfig{PercentLimit: d("10")}, nil, nil)
	assert.NoError(t, otc.CheckPercent(d("-10")))
	assert.Error(t, otc.CheckPercent(d("10.5")))
}
