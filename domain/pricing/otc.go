package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"spotex/domain/catalog"
	"spotex/domain/errs"
	"spotex/domain/money"
	"spotex/domain/order"
)

type OTCConfig struct {
	// PercentLimit caps |otc_percent|.
	PercentLimit decimal.Decimal
	// ChangeGuard is the price change, in percent, above which the secondary
	// source must confirm the primary before an order is repriced.
	ChangeGuard decimal.Decimal
	// SecondaryGuard is the largest accepted disagreement between sources, in percent.
	SecondaryGuard decimal.Decimal
}

// OTC prices EXTERNAL orders from a primary reference and guards large moves
// with a secondary one.
type OTC struct {
	cfg       OTCConfig
	primary   Source
	secondary Source
}

func NewOTC(cfg OTCConfig, primary, secondary Source) *OTC {
	return &OTC{cfg: cfg, primary: primary, secondary: secondary}
}

// CheckPercent validates otc_percent against the configured cap.
func (p *OTC) CheckPercent(pct decimal.Decimal) error {
	if p.cfg.PercentLimit.Sign() > 0 && pct.Abs().GreaterThan(p.cfg.PercentLimit) {
		return errs.New(errs.CodeInvalidPrice, "otc percent %s outside ±%s", pct, p.cfg.PercentLimit)
	}
	return nil
}

// Quote computes the effective price of o on pair from ref.
func Quote(o *order.Order, pair *catalog.Pair, ref decimal.Decimal) decimal.Decimal {
	price := ref.Add(money.Percent(ref, o.OTCPercent))
	price = money.FloorTo(price, pair.PriceStep)
	if o.OTCLimit.Sign() > 0 {
		if o.Side == order.Buy {
			price = money.Min(price, o.OTCLimit)
		} else {
			price = money.Max(price, o.OTCLimit)
		}
	}
	return price
}

// Price returns the effective price for a new EXTERNAL order.
func (p *OTC) Price(ctx context.Context, o *order.Order, pair *catalog.Pair) (decimal.Decimal, error) {
	ref, ok := p.reference(ctx, pair)
	if !ok {
		return decimal.Zero, errs.New(errs.CodeInvalidPrice, "no external price for %s", pair.Code)
	}
	price := Quote(o, pair, ref)
	if price.Sign() <= 0 {
		return decimal.Zero, errs.New(errs.CodeInvalidPrice, "otc price %s is not positive", price)
	}
	return price, nil
}

// Reprice returns the new price of an open EXTERNAL order and whether it
// should change. Moves above the change guard are applied only when the
// secondary source agrees with the primary.
func (p *OTC) Reprice(ctx context.Context, o *order.Order, pair *catalog.Pair) (decimal.Decimal, bool) {
	ref, ok := p.reference(ctx, pair)
	if !ok {
		return o.Price, false
	}
	next := Quote(o, pair, ref)
	if next.Sign() <= 0 || next.Equal(o.Price) {
		return o.Price, false
	}
	if p.cfg.ChangeGuard.Sign() > 0 && money.DeviationPercent(next, o.Price).GreaterThan(p.cfg.ChangeGuard) {
		if p.secondary == nil {
			return o.Price, false
		}
		second, ok := p.secondary.Price(ctx, pair.Code)
		if !ok || money.DeviationPercent(ref, second).GreaterThan(p.cfg.SecondaryGuard) {
			return o.Price, false
		}
	}
	return next, true
}

func (p *OTC) reference(ctx context.Context, pair *catalog.Pair) (decimal.Decimal, bool) {
	if p.primary != nil {
		if v, ok := p.primary.Price(ctx, pair.Code); ok && v.Sign() > 0 {
			return v, true
		}
	}
	if pair.CustomPrice.Sign() > 0 {
		return pair.CustomPrice, true
	}
	return decimal.Zero, false
}
