// Package pricing holds the reference-price rules: the limit deviation guard,
// the exchange quote guard and the OTC pricer.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"spotex/domain/errs"
	"spotex/domain/money"
)

// Source is a shared read-mostly reference price feed.
type Source interface {
	Price(ctx context.Context, pair string) (decimal.Decimal, bool)
}

// Reference carries the candidate reference prices for a pair. Zero means absent.
type Reference struct {
	LastTrade decimal.Decimal
	External  decimal.Decimal
	Custom    decimal.Decimal
}

// Value is the first available of last trade, external and custom.
func (r Reference) Value() (decimal.Decimal, bool) {
	for _, v := range []decimal.Decimal{r.LastTrade, r.External, r.Custom} {
		if v.Sign() > 0 {
			return v, true
		}
	}
	return decimal.Zero, false
}

// CheckDeviation rejects a limit price farther than allowed percent from the
// reference. An allowed value of zero disables the check.
func CheckDeviation(price, allowed decimal.Decimal, ref Reference) error {
	if allowed.Sign() <= 0 {
		return nil
	}
	v, ok := ref.Value()
	if !ok {
		return errs.New(errs.CodePriceDeviation, "no reference price to check %s against", price)
	}
	if dev := money.DeviationPercent(price, v); dev.GreaterThan(allowed) {
		return errs.New(errs.CodePriceDeviation, "price %s deviates %s%% from %s, allowed %s%%", price, dev.StringFixed(2), v, allowed)
	}
	return nil
}

// CheckExchangeQuote rejects an exchange whose expected average price is
// farther than limit percent from the last trade. Without a last trade or
// with a zero limit the quote is accepted.
func CheckExchangeQuote(estimate, lastTrade, limit decimal.Decimal) error {
	if limit.Sign() <= 0 || lastTrade.Sign() <= 0 || estimate.Sign() <= 0 {
		return nil
	}
	if dev := money.DeviationPercent(estimate, lastTrade); dev.GreaterThan(limit) {
		return errs.New(errs.CodePriceDeviation, "exchange quote %s deviates %s%% from last trade %s", estimate, dev.StringFixed(2), lastTrade)
	}
	return nil
}
