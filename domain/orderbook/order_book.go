package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"

	"spotex/domain/money"
	"spotex/domain/order"
)

// OrderBook holds the resting orders of one pair. It has a single writer,
// the pair's worker, and is not safe for concurrent use.
type OrderBook struct {
	Pair string

	ticker money.Ticker
	bids   *RBTree
	asks   *RBTree
	index  map[uint64]*entry

	volume   [2]decimal.Decimal
	notional [2]decimal.Decimal
}

func New(pair string, ticker money.Ticker) *OrderBook {
	return &OrderBook{
		Pair:   pair,
		ticker: ticker,
		bids:   NewRBTree(),
		asks:   NewRBTree(),
		index:  make(map[uint64]*entry),
	}
}

func (b *OrderBook) tree(s order.Side) *RBTree {
	if s == order.Buy {
		return b.bids
	}
	return b.asks
}

// Add rests o at the back of its price level.
func (b *OrderBook) Add(o *order.Order) error {
	if _, dup := b.index[o.ID]; dup {
		return fmt.Errorf("orderbook %s: order %d already resting", b.Pair, o.ID)
	}
	key, err := b.ticker.Key(o.Price)
	if err != nil {
		return fmt.Errorf("orderbook %s: %w", b.Pair, err)
	}
	lvl := b.tree(o.Side).Upsert(key, func() *PriceLevel {
		return &PriceLevel{Price: o.Price, key: key}
	})
	e := &entry{order: o}
	lvl.enqueue(e)
	b.index[o.ID] = e
	b.volume[o.Side] = b.volume[o.Side].Add(o.QuantityLeft)
	b.notional[o.Side] = b.notional[o.Side].Add(o.Notional())
	return nil
}

// Remove takes the order off the book.
func (b *OrderBook) Remove(id uint64) (*order.Order, bool) {
	e, ok := b.index[id]
	if !ok {
		return nil, false
	}
	o := e.order
	lvl := e.level
	lvl.unlink(e)
	if lvl.Empty() {
		b.tree(o.Side).Delete(lvl.key)
	}
	delete(b.index, id)
	b.volume[o.Side] = b.volume[o.Side].Sub(o.QuantityLeft)
	b.notional[o.Side] = b.notional[o.Side].Sub(o.Notional())
	return o, true
}

// Fill executes q at p against the resting order id and keeps the level and
// side aggregates in step with the order.
func (b *OrderBook) Fill(id uint64, q, p decimal.Decimal) (*order.Order, error) {
	e, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("orderbook %s: order %d not resting", b.Pair, id)
	}
	o := e.order
	if q.GreaterThan(o.QuantityLeft) {
		return nil, fmt.Errorf("orderbook %s: fill %s exceeds %s left on order %d", b.Pair, q, o.QuantityLeft, id)
	}
	o.Fill(q, p)
	e.level.depth = e.level.depth.Sub(q)
	b.volume[o.Side] = b.volume[o.Side].Sub(q)
	b.notional[o.Side] = b.notional[o.Side].Sub(q.Mul(o.Price))
	return o, nil
}

func (b *OrderBook) Get(id uint64) (*order.Order, bool) {
	e, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return e.order, true
}

// Best returns the best level of side s: the highest bid or the lowest ask.
func (b *OrderBook) Best(s order.Side) *PriceLevel {
	if s == order.Buy {
		return b.bids.Max()
	}
	return b.asks.Min()
}

// Top is the order at the head of the best level of side s.
func (b *OrderBook) Top(s order.Side) *order.Order {
	lvl := b.Best(s)
	if lvl == nil {
		return nil
	}
	return lvl.Head()
}

// Levels visits the levels of side s from best to worst.
func (b *OrderBook) Levels(s order.Side, fn func(*PriceLevel) bool) {
	if s == order.Buy {
		b.bids.Descend(fn)
		return
	}
	b.asks.Ascend(fn)
}

// Each visits resting orders of side s in matching priority.
func (b *OrderBook) Each(s order.Side, fn func(*order.Order) bool) {
	b.Levels(s, func(l *PriceLevel) bool { return l.Each(fn) })
}

func (b *OrderBook) Len() int { return len(b.index) }

// LevelCount is the number of distinct prices on side s.
func (b *OrderBook) LevelCount(s order.Side) int { return b.tree(s).Size() }

// Volume is the total quantity_left resting on side s.
func (b *OrderBook) Volume(s order.Side) decimal.Decimal { return b.volume[s] }

// WeightedAverage is the volume-weighted price of side s, zero when empty.
func (b *OrderBook) WeightedAverage(s order.Side) decimal.Decimal {
	if b.volume[s].Sign() <= 0 {
		return decimal.Zero
	}
	return money.Div(b.notional[s], b.volume[s])
}
