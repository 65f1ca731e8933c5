// Package order is the order record, its lifecycle and the records that
// audit it (execution results, state and field history).
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"spotex/domain/money"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Kind uint8

const (
	Limit Kind = iota
	MarketByQty
	MarketByCost
	Exchange
	StopLimit
	External
)

var kindNames = [...]string{"LIMIT", "MARKET_BY_QTY", "MARKET_BY_COST", "EXCHANGE", "STOP_LIMIT", "EXTERNAL"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// ParseSide accepts BUY or SELL.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "BUY":
		return Buy, true
	case "SELL":
		return Sell, true
	}
	return 0, false
}

type State uint8

const (
	Open State = iota
	Closed
	Cancelled
	Reverted
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	case Cancelled:
		return "CANCELLED"
	case Reverted:
		return "REVERTED"
	}
	return "UNKNOWN"
}

// Terminal reports whether the state can no longer change by matching.
func (s State) Terminal() bool { return s != Open }

// Order is one order of one user on one pair.
type Order struct {
	ID       uint64 `json:"id"`
	UserID   uint64 `json:"user_id"`
	ClientID string `json:"client_id,omitempty"`
	Pair     string `json:"pair"`
	Side     Side   `json:"side"`
	Kind     Kind   `json:"kind"`

	Quantity     decimal.Decimal `json:"quantity"`
	QuantityLeft decimal.Decimal `json:"quantity_left"`
	Price        decimal.Decimal `json:"price"`
	Stop         decimal.Decimal `json:"stop"`
	Cost         decimal.Decimal `json:"cost"`
	// QtyCapped marks a cost-based buy that also carries a quantity target.
	QtyCapped bool `json:"qty_capped,omitempty"`

	Filled decimal.Decimal `json:"filled"`
	Spent  decimal.Decimal `json:"spent"`
	VWAP   decimal.Decimal `json:"vwap"`

	State            State  `json:"state"`
	InStack          bool   `json:"in_stack"`
	Executed         bool   `json:"executed"`
	ReservationTxnID uint64 `json:"reservation_txn_id"`

	OTCPercent decimal.Decimal `json:"otc_percent"`
	OTCLimit   decimal.Decimal `json:"otc_limit"`

	CreatedAt      time.Time `json:"created_at"`
	StateChangedAt time.Time `json:"state_changed_at"`
}

// IsMarket reports whether the order never rests on the book.
func (o *Order) IsMarket() bool {
	return o.Kind == MarketByQty || o.Kind == MarketByCost || o.Kind == Exchange
}

// IsLimitLike reports whether the order is priced and can rest.
func (o *Order) IsLimitLike() bool {
	return o.Kind == Limit || o.Kind == StopLimit || o.Kind == External
}

// CostBased reports whether fills are funded from Cost rather than a price.
func (o *Order) CostBased() bool {
	return o.Side == Buy && o.IsMarket()
}

// HoldCurrency is the currency reserved for the order.
func (o *Order) HoldCurrency(base, quote string) string {
	if o.Side == Sell {
		return base
	}
	return quote
}

// Hold is the amount the order keeps reserved right now.
func (o *Order) Hold() decimal.Decimal {
	switch {
	case o.CostBased():
		return o.Cost
	case o.Side == Sell:
		return o.QuantityLeft
	default:
		return o.QuantityLeft.Mul(o.Price)
	}
}

// Remaining is the base quantity still wanted, or false when a cost-based buy
// has no quantity target.
func (o *Order) Remaining() (decimal.Decimal, bool) {
	if o.CostBased() && !o.QtyCapped {
		return decimal.Zero, false
	}
	return o.QuantityLeft, true
}

// Fill applies one execution of q at p to the order's running totals.
func (o *Order) Fill(q, p decimal.Decimal) {
	notional := q.Mul(p)
	o.Filled = o.Filled.Add(q)
	o.Spent = o.Spent.Add(notional)
	if o.Filled.Sign() > 0 {
		o.VWAP = money.Div(o.Spent, o.Filled)
	}
	o.Executed = true

	if o.CostBased() {
		o.Cost = o.Cost.Sub(notional)
		if !o.QtyCapped {
			o.Quantity = o.Filled
			return
		}
	}
	o.QuantityLeft = o.QuantityLeft.Sub(q)
}

// Done reports whether nothing more can be filled.
func (o *Order) Done() bool {
	if o.CostBased() {
		if o.Cost.Sign() <= 0 {
			return true
		}
		return o.QtyCapped && o.QuantityLeft.Sign() <= 0
	}
	return o.QuantityLeft.Sign() <= 0
}

// Notional is quantity_left at the order price.
func (o *Order) Notional() decimal.Decimal {
	return o.QuantityLeft.Mul(o.Price)
}

// Transition moves the order to next and returns the history record.
func (o *Order) Transition(next State, at time.Time) StateChange {
	ch := StateChange{OrderID: o.ID, Prev: o.State, Next: next, At: at}
	o.State = next
	o.StateChangedAt = at
	if next != Open {
		o.InStack = false
	}
	return ch
}

// Snapshot records the current mutable fields as a Change.
func (o *Order) Snapshot(at time.Time) Change {
	return Change{
		OrderID:    o.ID,
		Price:      o.Price,
		Quantity:   o.Quantity,
		Stop:       o.Stop,
		OTCPercent: o.OTCPercent,
		OTCLimit:   o.OTCLimit,
		At:         at,
	}
}

// Clone returns an independent copy.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// StopTriggered reports whether a trade at p activates a stop-limit order.
func (o *Order) StopTriggered(p decimal.Decimal) bool {
	if o.Kind != StopLimit || o.InStack {
		return false
	}
	if o.Side == Buy {
		return p.GreaterThanOrEqual(o.Stop)
	}
	return p.LessThanOrEqual(o.Stop)
}
