package snapshot

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"spotex/domain/event"
	"spotex/domain/money"
	"spotex/domain/order"
	"spotex/service"
)

var two = decimal.NewFromInt(2)

// Build aggregates a book view into a snapshot taken at now.
func Build(v *service.BookView, now time.Time) event.BookSnapshot {
	return event.BookSnapshot{
		Pair:           v.Pair,
		Bids:           bookLevels(v.Bids),
		Asks:           bookLevels(v.Asks),
		TopBid:         v.TopBid(),
		TopAsk:         v.TopAsk(),
		BuyVolume:      v.BuyVolume,
		SellVolume:     v.SellVolume,
		BuyAverage:     v.BuyAverage,
		SellAverage:    v.SellAverage,
		Rate:           rate(v),
		LastTradePrice: v.LastPrice,
		Touched:        v.Touched,
		At:             now,
	}
}

// rate is the mid price when both sides rest, else whichever side does,
// else the last trade.
func rate(v *service.BookView) decimal.Decimal {
	bid, ask := v.TopBid(), v.TopAsk()
	switch {
	case bid.IsPositive() && ask.IsPositive():
		return bid.Add(ask).Div(two)
	case bid.IsPositive():
		return bid
	case ask.IsPositive():
		return ask
	default:
		return v.LastPrice
	}
}

func bookLevels(in []service.LevelView) []event.BookLevel {
	out := make([]event.BookLevel, 0, len(in))
	depth := decimal.Zero
	for _, lv := range in {
		l := event.BookLevel{
			Price:    lv.Price,
			Quantity: lv.Quantity,
			OrderIDs: make([]uint64, 0, len(lv.Orders)),
		}
		for _, o := range lv.Orders {
			l.OrderIDs = append(l.OrderIDs, o.ID)
			if !slices.Contains(l.UserIDs, o.UserID) {
				l.UserIDs = append(l.UserIDs, o.UserID)
			}
			if l.EarliestAt.IsZero() || o.CreatedAt.Before(l.EarliestAt) {
				l.EarliestAt = o.CreatedAt
			}
		}
		depth = depth.Add(lv.Quantity)
		l.CumulativeDepth = depth
		out = append(out, l)
	}
	return out
}

// Group merges levels onto a coarser price grid. Bids round down and asks
// round up so a grouped price is never better than the orders behind it.
// Levels must be ordered best first, as Build returns them.
func Group(levels []event.BookLevel, side order.Side, precision decimal.Decimal) []event.BookLevel {
	round := money.FloorTo
	if side == order.Sell {
		round = money.CeilTo
	}

	var out []event.BookLevel
	depth := decimal.Zero
	for _, l := range levels {
		price := round(l.Price, precision)
		depth = depth.Add(l.Quantity)
		if n := len(out); n > 0 && out[n-1].Price.Equal(price) {
			g := &out[n-1]
			g.Quantity = g.Quantity.Add(l.Quantity)
			g.OrderIDs = append(g.OrderIDs, l.OrderIDs...)
			g.UserIDs = union(g.UserIDs, l.UserIDs)
			if l.EarliestAt.Before(g.EarliestAt) {
				g.EarliestAt = l.EarliestAt
			}
			g.CumulativeDepth = depth
			continue
		}
		out = append(out, event.BookLevel{
			Price:           price,
			Quantity:        l.Quantity,
			OrderIDs:        slices.Clone(l.OrderIDs),
			UserIDs:         slices.Clone(l.UserIDs),
			EarliestAt:      l.EarliestAt,
			CumulativeDepth: depth,
		})
	}
	return out
}

// Precisions builds one grouped snapshot per configured precision.
func Precisions(s event.BookSnapshot, precisions []decimal.Decimal) []event.PrecisionSnapshot {
	out := make([]event.PrecisionSnapshot, 0, len(precisions))
	for _, p := range precisions {
		out = append(out, event.PrecisionSnapshot{
			Pair:      s.Pair,
			Precision: p,
			Bids:      Group(s.Bids, order.Buy, p),
			Asks:      Group(s.Asks, order.Sell, p),
			At:        s.At,
		})
	}
	return out
}

// ForUser rewrites a snapshot for delivery to one user: levels holding one
// of the user's orders are flagged and every user id is dropped.
func ForUser(s event.BookSnapshot, user uint64) event.BookSnapshot {
	s.Bids = redact(s.Bids, user)
	s.Asks = redact(s.Asks, user)
	return s
}

// ForUserPrecision is ForUser for a grouped snapshot.
func ForUserPrecision(s event.PrecisionSnapshot, user uint64) event.PrecisionSnapshot {
	s.Bids = redact(s.Bids, user)
	s.Asks = redact(s.Asks, user)
	return s
}

func redact(levels []event.BookLevel, user uint64) []event.BookLevel {
	out := make([]event.BookLevel, len(levels))
	for i, l := range levels {
		l.Owner = user != 0 && slices.Contains(l.UserIDs, user)
		l.UserIDs = nil
		out[i] = l
	}
	return out
}

func union(a, b []uint64) []uint64 {
	for _, id := range b {
		if !slices.Contains(a, id) {
			a = append(a, id)
		}
	}
	return a
}
