package service

import (
	"time"

	"github.com/shopspring/decimal"

	"spotex/domain/order"
	"spotex/domain/orderbook"
)

// RestingOrder is one order of a published level.
type RestingOrder struct {
	ID        uint64
	UserID    uint64
	Quantity  decimal.Decimal
	CreatedAt time.Time
}

type LevelView struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   []RestingOrder
}

// BookView is an immutable copy of the top of a book, published by the
// worker after every command that changed it.
type BookView struct {
	Pair        string
	Version     uint64
	Bids        []LevelView
	Asks        []LevelView
	BuyVolume   decimal.Decimal
	SellVolume  decimal.Decimal
	BuyAverage  decimal.Decimal
	SellAverage decimal.Decimal
	LastPrice   decimal.Decimal
	Touched     time.Time
}

// TopBid is the best bid price or zero.
func (v *BookView) TopBid() decimal.Decimal {
	if len(v.Bids) == 0 {
		return decimal.Zero
	}
	return v.Bids[0].Price
}

// TopAsk is the best ask price or zero.
func (v *BookView) TopAsk() decimal.Decimal {
	if len(v.Asks) == 0 {
		return decimal.Zero
	}
	return v.Asks[0].Price
}

func buildView(pair string, version uint64, b *orderbook.OrderBook, depth int, last decimal.Decimal, at time.Time) *BookView {
	return &BookView{
		Pair:        pair,
		Version:     version,
		Bids:        levels(b, order.Buy, depth),
		Asks:        levels(b, order.Sell, depth),
		BuyVolume:   b.Volume(order.Buy),
		SellVolume:  b.Volume(order.Sell),
		BuyAverage:  b.WeightedAverage(order.Buy),
		SellAverage: b.WeightedAverage(order.Sell),
		LastPrice:   last,
		Touched:     at,
	}
}

func levels(b *orderbook.OrderBook, s order.Side, depth int) []LevelView {
	out := make([]LevelView, 0, min(depth, b.LevelCount(s)))
	b.Levels(s, func(l *orderbook.PriceLevel) bool {
		if depth > 0 && len(out) >= depth {
			return false
		}
		lv := LevelView{Price: l.Price, Quantity: l.Depth(), Orders: make([]RestingOrder, 0, l.Len())}
		l.Each(func(o *order.Order) bool {
			lv.Orders = append(lv.Orders, RestingOrder{ID: o.ID, UserID: o.UserID, Quantity: o.QuantityLeft, CreatedAt: o.CreatedAt})
			return true
		})
		out = append(out, lv)
		return true
	})
	return out
}
