// Package matching runs the price-time priority fill loop of one pair.
//
// A command is matched in three steps. Plan walks the opposite book without
// touching it, working on copies of the resting orders, and records every
// balance change in a ledger unit. The caller commits that unit together with
// the persisted records. Apply then replays the plan on the live book. A
// failed commit therefore leaves the book and the ledger as they were.
package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"spotex/domain/catalog"
	"spotex/domain/ledger"
	"spotex/domain/money"
	"spotex/domain/order"
	"spotex/domain/orderbook"
)

// FeeSchedule returns the fee rate charged to a user on each fill.
type FeeSchedule interface {
	Rate(user uint64) decimal.Decimal
}

// IDSource issues execution result ids.
type IDSource interface {
	Next() uint64
}

type Config struct {
	// DustThreshold auto-cancels resting orders whose remaining notional drops below it.
	DustThreshold decimal.Decimal
	// FeeUserID receives fees as FEE_TOPUP when non-zero.
	FeeUserID uint64
	// MinFee floors every non-zero fee; zero means one unit of the ledger scale.
	MinFee decimal.Decimal
}

type Matcher struct {
	pair *catalog.Pair
	book *orderbook.OrderBook
	fees FeeSchedule
	ids  IDSource
	cfg  Config
}

func New(pair *catalog.Pair, book *orderbook.OrderBook, fees FeeSchedule, ids IDSource, cfg Config) *Matcher {
	if cfg.MinFee.Sign() <= 0 {
		cfg.MinFee = money.MinFee
	}
	return &Matcher{pair: pair, book: book, fees: fees, ids: ids, cfg: cfg}
}

// SetPair swaps the pair settings after a catalog reload.
func (m *Matcher) SetPair(p *catalog.Pair) { m.pair = p }

func (m *Matcher) Book() *orderbook.OrderBook { return m.book }

// Plan matches taker against the opposite book. The taker is mutated in
// place; resting orders are not. If replaces is non-zero the resting order
// with that id is taken off the book on Apply before anything else.
func (m *Matcher) Plan(taker *order.Order, u *ledger.Unit, replaces uint64, at time.Time) *Plan {
	pl := &Plan{
		Taker:    taker,
		replaces: replaces,
		at:       at,
		makers:   make(map[uint64]*order.Order),
	}

	m.book.Each(taker.Side.Opposite(), func(r *order.Order) bool {
		if taker.Done() {
			return false
		}
		p := r.Price
		if taker.IsLimitLike() && !crosses(taker, p) {
			return false
		}
		q := m.fillSize(taker, r, p)
		if q.Sign() <= 0 {
			return false
		}
		mk := r.Clone()
		pl.makers[r.ID] = mk
		pl.Fills = append(pl.Fills, m.fill(u, taker, mk, q, p))
		if mk.QuantityLeft.Sign() <= 0 {
			pl.StateChanges = append(pl.StateChanges, mk.Transition(order.Closed, at))
		}
		return true
	})

	m.finishTaker(pl, u)
	m.sweepDust(pl, u)
	return pl
}

func crosses(o *order.Order, p decimal.Decimal) bool {
	if o.Side == order.Buy {
		return o.Price.GreaterThanOrEqual(p)
	}
	return o.Price.LessThanOrEqual(p)
}

func (m *Matcher) fillSize(taker, r *order.Order, p decimal.Decimal) decimal.Decimal {
	if !taker.CostBased() {
		return money.Min(taker.QuantityLeft, r.QuantityLeft)
	}
	q := money.FloorTo(money.Div(taker.Cost, p), m.pair.QuantityStep)
	q = money.Min(q, r.QuantityLeft)
	if left, capped := taker.Remaining(); capped {
		q = money.Min(q, left)
	}
	return q
}

func (m *Matcher) fill(u *ledger.Unit, taker, maker *order.Order, q, p decimal.Decimal) *Fill {
	buyer, seller := taker, maker
	if taker.Side == order.Sell {
		buyer, seller = maker, taker
	}
	base, quote := m.pair.Base, m.pair.Quote
	gross := q.Mul(p)

	f := &Fill{Taker: taker.ID, Maker: maker.ID, Quantity: q, Price: p, MakerPrice: maker.Price, TakerPrice: taker.Price}

	sellerRate := m.fees.Rate(seller.UserID)
	sellerFee := money.FeeWithFloor(gross, sellerRate, m.cfg.MinFee)
	u.Spend(seller.UserID, base, q)
	sellerCredit := u.CreditExecution(seller.UserID, quote, gross.Sub(sellerFee), seller.ID)

	buyerRate := m.fees.Rate(buyer.UserID)
	buyerFee := money.FeeWithFloor(q, buyerRate, m.cfg.MinFee)
	u.Spend(buyer.UserID, quote, gross)
	var cashback *ledger.Transaction
	if !buyer.CostBased() {
		if cb := buyer.Price.Sub(p).Mul(q); cb.Sign() > 0 {
			cashback = u.Cashback(buyer.UserID, quote, cb, buyer.ID)
		}
	}
	buyerCredit := u.CreditExecution(buyer.UserID, base, q.Sub(buyerFee), buyer.ID)

	if m.cfg.FeeUserID != 0 {
		u.Credit(m.cfg.FeeUserID, quote, sellerFee, ledger.ReasonFeeTopup, seller.ID)
		u.Credit(m.cfg.FeeUserID, base, buyerFee, ledger.ReasonFeeTopup, buyer.ID)
	}

	f.sides[sideIndex(buyer, taker)] = fillSide{order: buyer, rate: buyerRate, fee: buyerFee, credit: buyerCredit, cashback: cashback}
	f.sides[sideIndex(seller, taker)] = fillSide{order: seller, rate: sellerRate, fee: sellerFee, credit: sellerCredit}

	taker.Fill(q, p)
	maker.Fill(q, p)
	return f
}

func sideIndex(o, taker *order.Order) int {
	if o == taker {
		return 0
	}
	return 1
}

// finishTaker decides whether the taker rests, closes or is cancelled.
func (m *Matcher) finishTaker(pl *Plan, u *ledger.Unit) {
	t := pl.Taker
	at := pl.at
	switch {
	case t.IsLimitLike():
		if t.Done() {
			pl.StateChanges = append(pl.StateChanges, t.Transition(order.Closed, at))
			return
		}
		pl.Rest = true

	case t.CostBased():
		left := t.Cost
		t.Cost = decimal.Zero
		if t.Executed {
			if left.Sign() > 0 {
				pl.Refund = u.Cashback(t.UserID, m.pair.Quote, left, t.ID)
			}
			pl.StateChanges = append(pl.StateChanges, t.Transition(order.Closed, at))
			return
		}
		pl.cancel(t, u.Release(t.UserID, m.pair.Quote, left, ledger.ReasonOrderCanceled, t.ID), t.QuantityLeft, at)

	default:
		if t.Done() {
			pl.StateChanges = append(pl.StateChanges, t.Transition(order.Closed, at))
			return
		}
		m.cancelInto(pl, t, u)
	}
}

// sweepDust cancels resting orders left below the dust threshold.
func (m *Matcher) sweepDust(pl *Plan, u *ledger.Unit) {
	if m.cfg.DustThreshold.Sign() <= 0 {
		return
	}
	for _, f := range pl.Fills {
		mk := pl.makers[f.Maker]
		if mk.State != order.Open || pl.isCancelled(mk.ID) {
			continue
		}
		if mk.Notional().LessThan(m.cfg.DustThreshold) {
			m.cancelInto(pl, mk, u)
		}
	}
	if pl.Rest && pl.Taker.Notional().LessThan(m.cfg.DustThreshold) {
		pl.Rest = false
		m.cancelInto(pl, pl.Taker, u)
	}
}

// Cancel releases the remaining hold of o, which must be a copy of the live
// order, and returns a plan that takes it off the book.
func (m *Matcher) Cancel(o *order.Order, u *ledger.Unit, at time.Time) *Plan {
	pl := &Plan{Taker: o, at: at, makers: map[uint64]*order.Order{}}
	if o.InStack {
		pl.replaces = o.ID
	}
	m.cancelInto(pl, o, u)
	return pl
}

func (m *Matcher) cancelInto(pl *Plan, o *order.Order, u *ledger.Unit) {
	qty := o.QuantityLeft
	hold := o.Hold()
	tx := u.Release(o.UserID, o.HoldCurrency(m.pair.Base, m.pair.Quote), hold, ledger.ReasonOrderCanceled, o.ID)
	if o.CostBased() {
		o.Cost = decimal.Zero
	}
	pl.cancel(o, tx, qty, pl.at)
}

// Estimate walks the opposite book as if o were matched now and returns the
// expected average price, or zero when nothing would fill.
func (m *Matcher) Estimate(o *order.Order) decimal.Decimal {
	filled, spent := decimal.Zero, decimal.Zero
	cost := o.Cost
	qty, capped := o.Remaining()
	if !o.CostBased() {
		qty, capped = o.QuantityLeft, true
	}
	m.book.Each(o.Side.Opposite(), func(r *order.Order) bool {
		q := r.QuantityLeft
		if capped {
			q = money.Min(q, qty.Sub(filled))
		}
		if o.CostBased() {
			q = money.Min(q, money.FloorTo(money.Div(cost, r.Price), m.pair.QuantityStep))
			cost = cost.Sub(q.Mul(r.Price))
		}
		if q.Sign() <= 0 {
			return false
		}
		filled = filled.Add(q)
		spent = spent.Add(q.Mul(r.Price))
		return true
	})
	if filled.Sign() <= 0 {
		return decimal.Zero
	}
	return money.Div(spent, filled)
}
