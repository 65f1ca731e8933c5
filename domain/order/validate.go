package order

import (
	"github.com/shopspring/decimal"

	"spotex/domain/catalog"
	"spotex/domain/errs"
	"spotex/domain/money"
)

// Validate checks the order's fields against its kind and the pair limits.
// EXTERNAL orders are validated after their price has been computed.
func (o *Order) Validate(p *catalog.Pair) error {
	switch o.Kind {
	case Limit, StopLimit, External:
		if err := validateQuantity(o.Quantity, p); err != nil {
			return err
		}
		if o.Price.Sign() <= 0 || !money.IsMultiple(o.Price, p.PriceStep) {
			return errs.New(errs.CodeInvalidPrice, "price %s is not a positive multiple of %s", o.Price, p.PriceStep)
		}
		if o.Kind == StopLimit && (o.Stop.Sign() <= 0 || !money.IsMultiple(o.Stop, p.PriceStep)) {
			return errs.New(errs.CodeInvalidStop, "stop %s is not a positive multiple of %s", o.Stop, p.PriceStep)
		}
		if o.Kind == External && o.OTCLimit.Sign() < 0 {
			return errs.New(errs.CodeInvalidPrice, "otc limit %s is negative", o.OTCLimit)
		}
		return checkCost(o.Quantity.Mul(o.Price), p)

	case MarketByCost:
		if o.Side != Buy {
			return errs.New(errs.CodeUnknownOrderKind, "%s orders must buy", o.Kind)
		}
		return validateBudget(o, p)

	case MarketByQty, Exchange:
		if o.Side == Sell {
			return validateQuantity(o.Quantity, p)
		}
		if o.Kind == MarketByQty && o.Quantity.Sign() <= 0 {
			return errs.New(errs.CodeInvalidQuantity, "quantity %s must be positive", o.Quantity)
		}
		return validateBudget(o, p)
	}
	return errs.New(errs.CodeUnknownOrderKind, "kind %d", o.Kind)
}

func validateQuantity(q decimal.Decimal, p *catalog.Pair) error {
	if q.Sign() <= 0 || !money.IsMultiple(q, p.QuantityStep) {
		return errs.New(errs.CodeInvalidQuantity, "quantity %s is not a positive multiple of %s", q, p.QuantityStep)
	}
	return nil
}

func validateBudget(o *Order, p *catalog.Pair) error {
	if o.Cost.Sign() <= 0 {
		return errs.New(errs.CodeInvalidQuantity, "cost %s must be positive", o.Cost)
	}
	if o.Quantity.Sign() < 0 || !money.IsMultiple(o.Quantity, p.QuantityStep) {
		return errs.New(errs.CodeInvalidQuantity, "quantity %s is not a multiple of %s", o.Quantity, p.QuantityStep)
	}
	return checkCost(o.Cost, p)
}

func checkCost(cost decimal.Decimal, p *catalog.Pair) error {
	if cost.LessThan(p.MinOrderCost) {
		return errs.New(errs.CodeMinOrderSize, "order cost %s below %s", cost, p.MinOrderCost)
	}
	if p.MaxOrderCost.Sign() > 0 && cost.GreaterThan(p.MaxOrderCost) {
		return errs.New(errs.CodeMaxOrderCost, "order cost %s above %s", cost, p.MaxOrderCost)
	}
	return nil
}

// Init fills the derived fields of a freshly accepted order.
func (o *Order) Init(id uint64) {
	o.ID = id
	o.State = Open
	o.Filled = decimal.Zero
	o.Spent = decimal.Zero
	o.VWAP = decimal.Zero
	if o.CostBased() {
		o.QtyCapped = o.Quantity.Sign() > 0
		if o.QtyCapped {
			o.QuantityLeft = o.Quantity
		} else {
			o.QuantityLeft = decimal.Zero
		}
	} else {
		o.QuantityLeft = o.Quantity
	}
	o.InStack = o.Kind != StopLimit
}
