package matching

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spotex/domain/ledger"
	"spotex/domain/order"
)

type fillSide struct {
	order    *order.Order
	rate     decimal.Decimal
	fee      decimal.Decimal
	credit   *ledger.Transaction
	cashback *ledger.Transaction
}

// Fill is one execution between the taker and a resting order.
type Fill struct {
	Taker      uint64
	Maker      uint64
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	TakerPrice decimal.Decimal
	MakerPrice decimal.Decimal

	// sides[0] is the taker, sides[1] the maker.
	sides [2]fillSide
}

// Cancellation is an order taken off the book with its hold released.
type Cancellation struct {
	Order    *order.Order
	Quantity decimal.Decimal
	Release  *ledger.Transaction
}

// Plan is the outcome of one matching step before it is applied.
type Plan struct {
	Taker *order.Order
	Fills []*Fill
	// Rest is set when the taker goes on the book.
	Rest bool
	// Refund is the unspent budget of a cost-based buy that executed.
	Refund        *ledger.Transaction
	Cancellations []Cancellation
	StateChanges  []order.StateChange

	replaces uint64
	at       time.Time
	makers   map[uint64]*order.Order
}

func (pl *Plan) cancel(o *order.Order, tx *ledger.Transaction, qty decimal.Decimal, at time.Time) {
	pl.Cancellations = append(pl.Cancellations, Cancellation{Order: o, Quantity: qty, Release: tx})
	pl.StateChanges = append(pl.StateChanges, o.Transition(order.Cancelled, at))
}

func (pl *Plan) isCancelled(id uint64) bool {
	for _, c := range pl.Cancellations {
		if c.Order.ID == id {
			return true
		}
	}
	return false
}

// LastPrice is the price of the last fill, if any.
func (pl *Plan) LastPrice() (decimal.Decimal, bool) {
	if len(pl.Fills) == 0 {
		return decimal.Zero, false
	}
	return pl.Fills[len(pl.Fills)-1].Price, true
}

// Touched returns the post-command state of every order the plan changed,
// taker first, then makers in fill order.
func (pl *Plan) Touched() []*order.Order {
	out := []*order.Order{pl.Taker}
	for _, f := range pl.Fills {
		out = append(out, pl.makers[f.Maker])
	}
	return out
}

// Results builds the execution results of the plan. Transaction ids are only
// known once the ledger unit committed, so this runs inside the commit.
func (pl *Plan) Results(ids IDSource, pair string) []order.ExecutionResult {
	out := make([]order.ExecutionResult, 0, 2*len(pl.Fills)+len(pl.Cancellations))
	for _, f := range pl.Fills {
		for i, s := range f.sides {
			other := f.sides[1-i].order
			r := order.ExecutionResult{
				ID:                ids.Next(),
				OrderID:           s.order.ID,
				MatchedOrderID:    other.ID,
				Pair:              pair,
				Quantity:          f.Quantity,
				Price:             f.Price,
				MatchedOrderPrice: other.Price,
				FeeRate:           s.rate,
				FeeAmount:         s.fee,
				CreatedAt:         pl.at,
			}
			if s.credit != nil {
				r.CreditTxnID = s.credit.ID
			}
			if s.cashback != nil {
				r.CashbackTxnID = s.cashback.ID
			}
			out = append(out, r)
		}
	}
	for _, c := range pl.Cancellations {
		out = append(out, order.ExecutionResult{
			ID:        ids.Next(),
			OrderID:   c.Order.ID,
			Pair:      pair,
			Quantity:  c.Quantity,
			Price:     c.Order.Price,
			Cancelled: true,
			CreatedAt: pl.at,
		})
	}
	return out
}

// Apply replays the plan on the live book. It must run only after the
// plan's ledger unit has committed.
func (m *Matcher) Apply(pl *Plan) error {
	if pl.replaces != 0 {
		if _, ok := m.book.Remove(pl.replaces); !ok {
			return fmt.Errorf("matching %s: order %d to replace is not resting", m.pair.Code, pl.replaces)
		}
	}
	for _, f := range pl.Fills {
		if _, err := m.book.Fill(f.Maker, f.Quantity, f.Price); err != nil {
			return err
		}
	}
	for id, mk := range pl.makers {
		if mk.State != order.Open {
			m.book.Remove(id)
		}
	}
	if pl.Rest {
		return m.book.Add(pl.Taker)
	}
	return nil
}
