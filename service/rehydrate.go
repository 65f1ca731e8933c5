package service

import (
	"context"

	"go.uber.org/zap"

	"spotex/domain/errs"
	"spotex/domain/event"
	"spotex/domain/order"
)

// Rehydrate rebuilds the book and the stop list from the open orders in the
// store. Balances must already be restored. Orders that cross each other,
// which happens when a crash interrupted a command after a price change,
// are matched and the outcome committed.
func (w *Worker) Rehydrate(ctx context.Context) error {
	st := w.deps.Store
	if p, ok, err := st.LastTradePrice(ctx, w.code); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "load last trade price")
	} else if ok {
		w.lastPrice = p
	}

	open, err := st.OpenOrders(ctx, w.code)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "load open orders")
	}
	at := w.deps.Now()
	for _, o := range open {
		w.deps.Ledger.RestoreHold(o.UserID, o.HoldCurrency(w.pair.Base, w.pair.Quote), o.Hold())
	}

	var matched, cancelled int
	for _, o := range open {
		switch {
		case o.Kind == order.StopLimit && !o.InStack:
			w.stops[o.ID] = o

		case o.IsMarket() || o.QuantityLeft.Sign() <= 0:
			// a market order never outlives its command
			u := w.deps.Ledger.Begin()
			pl := w.matcher.Cancel(o, u, at)
			out, err := w.commit(ctx, commitArgs{unit: u, plan: pl})
			if err != nil {
				return err
			}
			w.emit(ctx, o, event.ActionCancel, pl, out, at)
			cancelled++

		default:
			u := w.deps.Ledger.Begin()
			pl := w.matcher.Plan(o, u, 0, at)
			if len(pl.Fills) == 0 && len(pl.Cancellations) == 0 {
				if err := w.matcher.Apply(pl); err != nil {
					return err
				}
				continue
			}
			triggered := w.crossedStops(pl)
			out, err := w.commit(ctx, commitArgs{unit: u, plan: pl, orders: triggered})
			if err != nil {
				return err
			}
			w.apply(pl, triggered, at)
			w.emit(ctx, o, event.ActionExecute, pl, out, at)
			matched++
		}
	}
	w.drainPending(ctx)
	w.touch(at)

	w.log.Info("book rehydrated",
		zap.Int("resting", w.book.Len()),
		zap.Int("stops", len(w.stops)),
		zap.Int("matched", matched),
		zap.Int("cancelled", cancelled),
		zap.Stringer("last_price", w.lastPrice))
	return nil
}
