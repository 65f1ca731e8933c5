package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"spotex/domain/errs"
	"spotex/domain/event"
	"spotex/domain/ledger"
	"spotex/domain/order"
	"spotex/domain/pricing"
	"spotex/infra/store"
	entrywal "spotex/infra/wal/entry"
)

// locate finds an order of this pair. live is true when it rests on the
// book or in the stop list; otherwise o is the persisted copy.
func (w *Worker) locate(ctx context.Context, id, user uint64) (o *order.Order, live bool, err error) {
	if o, ok := w.book.Get(id); ok {
		live = true
		return w.owned(o, user, live)
	}
	if o, ok := w.stops[id]; ok {
		live = true
		return w.owned(o, user, live)
	}
	o, err = w.deps.Store.Order(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && o.Pair != w.code) {
		return nil, false, errs.New(errs.CodeOrderNotFound, "order %d not found", id)
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.CodeInternal, err, "load order")
	}
	return w.owned(o, user, false)
}

func (w *Worker) owned(o *order.Order, user uint64, live bool) (*order.Order, bool, error) {
	if user != 0 && o.UserID != user {
		return nil, false, errs.New(errs.CodeOrderNotFound, "order %d not found", o.ID)
	}
	return o, live, nil
}

func (w *Worker) cancel(ctx context.Context, id, user uint64, at time.Time) (Result, error) {
	if w.guard.Contains(id) {
		o, _, err := w.locate(ctx, id, user)
		if err != nil {
			return Result{}, err
		}
		return Result{Order: o.Clone()}, nil
	}

	o, live, err := w.locate(ctx, id, user)
	if err != nil {
		return Result{}, err
	}
	if !live {
		if o.IsMarket() {
			return Result{}, errs.New(errs.CodeCannotCancelMarket, "order %d is a %s order", id, o.Kind)
		}
		return Result{}, errs.New(errs.CodeOrderNotOpen, "order %d is %s", id, o.State)
	}
	if err := w.record(entrywal.RecordCancel, entrywal.Command{OrderID: id, UserID: o.UserID}, at); err != nil {
		return Result{}, err
	}

	c := o.Clone()
	u := w.deps.Ledger.Begin()
	pl := w.matcher.Cancel(c, u, at)
	out, err := w.commit(ctx, commitArgs{unit: u, plan: pl})
	if err != nil {
		return Result{}, err
	}
	delete(w.stops, id)
	w.apply(pl, nil, at)
	w.guard.Add(id, struct{}{})
	w.emit(ctx, c, event.ActionCancel, pl, out, at)

	return Result{Order: c.Clone(), Executions: resultsFor(id, out.results)}, nil
}

func (w *Worker) update(ctx context.Context, req *UpdateRequest, at time.Time) (Result, error) {
	o, live, err := w.locate(ctx, req.OrderID, req.UserID)
	if err != nil {
		return Result{}, err
	}
	if !o.IsLimitLike() {
		return Result{}, errs.New(errs.CodeCannotUpdateOrder, "%s orders cannot be updated", o.Kind)
	}
	if !live {
		return Result{}, errs.New(errs.CodeOrderNotOpen, "order %d is %s", o.ID, o.State)
	}

	c := o.Clone()
	if req.Quantity.Valid {
		filled := o.Quantity.Sub(o.QuantityLeft)
		q := req.Quantity.Decimal
		if !q.GreaterThan(filled) {
			return Result{}, errs.New(errs.CodeInvalidQuantity, "new quantity %s must exceed executed %s", q, filled)
		}
		c.Quantity = q
		c.QuantityLeft = q.Sub(filled)
	}
	if req.Price.Valid {
		if o.Kind == order.External {
			return Result{}, errs.New(errs.CodeCannotUpdateOrder, "otc order %d is priced from its reference", o.ID)
		}
		c.Price = req.Price.Decimal
	}
	if req.Stop.Valid {
		if o.Kind != order.StopLimit || o.InStack {
			return Result{}, errs.New(errs.CodeCannotUpdateOrder, "order %d has no pending stop", o.ID)
		}
		c.Stop = req.Stop.Decimal
	}
	if req.OTCPercent.Valid || req.OTCLimit.Valid {
		if o.Kind != order.External {
			return Result{}, errs.New(errs.CodeCannotUpdateOrder, "order %d is not an otc order", o.ID)
		}
		if req.OTCPercent.Valid {
			c.OTCPercent = req.OTCPercent.Decimal
		}
		if req.OTCLimit.Valid {
			c.OTCLimit = req.OTCLimit.Decimal
		}
		if err := w.priceExternal(ctx, c); err != nil {
			return Result{}, err
		}
	}

	if err := c.Validate(w.pair); err != nil {
		return Result{}, err
	}
	if c.Kind == order.Limit && !c.Price.Equal(o.Price) {
		if err := pricing.CheckDeviation(c.Price, w.pair.Deviation, w.reference(ctx)); err != nil {
			return Result{}, err
		}
	}

	u := w.deps.Ledger.Begin()
	if err := w.adjustHold(u, o, c); err != nil {
		return Result{}, err
	}
	if err := w.record(entrywal.RecordUpdate, updateCommand(c), at); err != nil {
		return Result{}, err
	}
	return w.reinsert(ctx, c, u, at)
}

// adjustHold moves the difference between the old and the new hold.
func (w *Worker) adjustHold(u *ledger.Unit, prev, next *order.Order) error {
	delta := prev.Hold().Sub(next.Hold())
	if delta.IsZero() {
		return nil
	}
	_, err := u.AdjustReservation(next.UserID, next.HoldCurrency(w.pair.Base, w.pair.Quote), delta, next.ID)
	return err
}

// reinsert takes the resting copy of c off the book and submits c in its
// place, at the back of its level. The updated order may match.
func (w *Worker) reinsert(ctx context.Context, c *order.Order, u *ledger.Unit, at time.Time) (Result, error) {
	args := commitArgs{unit: u, changes: []order.Change{c.Snapshot(at)}}

	if !c.InStack {
		args.orders = []*order.Order{c}
		out, err := w.commit(ctx, args)
		if err != nil {
			return Result{}, err
		}
		w.stops[c.ID] = c
		w.touch(at)
		w.emit(ctx, c, event.ActionUpdate, nil, out, at)
		return Result{Order: c.Clone()}, nil
	}

	pl := w.matcher.Plan(c, u, c.ID, at)
	triggered := w.crossedStops(pl)
	args.plan = pl
	args.orders = triggered
	out, err := w.commit(ctx, args)
	if err != nil {
		return Result{}, err
	}
	w.apply(pl, triggered, at)
	w.emit(ctx, c, event.ActionUpdate, pl, out, at)
	return Result{Order: c.Clone(), Executions: resultsFor(c.ID, out.results)}, nil
}

// otcUpdate reprices every resting EXTERNAL order from its reference.
func (w *Worker) otcUpdate(ctx context.Context, at time.Time) (Result, error) {
	if w.deps.OTC == nil || !w.pair.AutoOrdersEnabled {
		return Result{}, nil
	}
	var ext []*order.Order
	for _, s := range []order.Side{order.Buy, order.Sell} {
		w.book.Each(s, func(o *order.Order) bool {
			if o.Kind == order.External {
				ext = append(ext, o)
			}
			return true
		})
	}
	sort.Slice(ext, func(i, j int) bool { return ext[i].ID < ext[j].ID })

	var repriced []uint64
	for _, o := range ext {
		// an earlier reprice may have filled it
		if _, ok := w.book.Get(o.ID); !ok {
			continue
		}
		next, ok := w.deps.OTC.Reprice(ctx, o, w.pair)
		if !ok {
			continue
		}
		c := o.Clone()
		c.Price = next

		u := w.deps.Ledger.Begin()
		if err := w.adjustHold(u, o, c); err != nil {
			w.log.Debug("otc reprice skipped", zap.Uint64("order_id", o.ID), zap.Error(err))
			continue
		}
		if err := w.record(entrywal.RecordOTCUpdate, entrywal.Command{OrderID: c.ID, UserID: c.UserID, Price: c.Price}, at); err != nil {
			return Result{Repriced: repriced}, err
		}
		if _, err := w.reinsert(ctx, c, u, at); err != nil {
			w.log.Warn("otc reprice failed", zap.Uint64("order_id", o.ID), zap.Error(err))
			continue
		}
		repriced = append(repriced, o.ID)
	}
	if len(repriced) > 0 {
		w.log.Debug("otc orders repriced", zap.Int("count", len(repriced)))
	}
	return Result{Repriced: repriced}, nil
}

func updateCommand(o *order.Order) entrywal.Command {
	return entrywal.Command{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Quantity:   o.Quantity,
		Price:      o.Price,
		Stop:       o.Stop,
		OTCPercent: o.OTCPercent,
		OTCLimit:   o.OTCLimit,
	}
}
