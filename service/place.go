package service

import (
	"context"
	"time"

	"spotex/domain/errs"
	"spotex/domain/event"
	"spotex/domain/order"
	"spotex/domain/pricing"
	entrywal "spotex/infra/wal/entry"
)

func (w *Worker) place(ctx context.Context, req *PlaceRequest, at time.Time) (Result, error) {
	if req.ClientID != "" {
		if id, ok := w.placed.Get(placeKey(req.UserID, req.ClientID)); ok {
			return w.placedResult(ctx, id, req.UserID)
		}
	}
	pair := w.pair
	if !pair.Enabled {
		return Result{}, errs.New(errs.CodePairDisabled, "pair %s is disabled", pair.Code)
	}
	cat := w.deps.Catalog.Current()
	for _, code := range []string{pair.Base, pair.Quote} {
		cur, err := cat.Currency(code)
		if err != nil || !cur.StackEnabled {
			return Result{}, errs.New(errs.CodeCurrencyDisabled, "currency %s is disabled", code)
		}
		if req.Kind == order.Exchange && !cur.ExchangeEnabled {
			return Result{}, errs.New(errs.CodeExchangeDisabled, "exchange is disabled for %s", code)
		}
	}

	o := &order.Order{
		UserID:         req.UserID,
		ClientID:       req.ClientID,
		Pair:           w.code,
		Side:           req.Side,
		Kind:           req.Kind,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Stop:           req.Stop,
		Cost:           req.Cost,
		OTCPercent:     req.OTCPercent,
		OTCLimit:       req.OTCLimit,
		CreatedAt:      at,
		StateChangedAt: at,
	}

	if o.Kind == order.External {
		if err := w.priceExternal(ctx, o); err != nil {
			return Result{}, err
		}
	}
	if err := o.Validate(pair); err != nil {
		return Result{}, err
	}
	if o.Kind == order.Limit {
		if err := pricing.CheckDeviation(o.Price, pair.Deviation, w.reference(ctx)); err != nil {
			return Result{}, err
		}
	}
	o.Init(0)
	if o.Kind == order.Exchange {
		if err := pricing.CheckExchangeQuote(w.matcher.Estimate(o), w.lastPrice, w.cfg.ExchangeLimit); err != nil {
			return Result{}, err
		}
	}
	o.ID = w.deps.Seq.Orders.Next()

	u := w.deps.Ledger.Begin()
	res, err := u.Reserve(o.UserID, o.HoldCurrency(pair.Base, pair.Quote), o.Hold(), o.ID)
	if err != nil {
		return Result{}, err
	}
	if err := w.record(entrywal.RecordPlace, placeCommand(o), at); err != nil {
		return Result{}, err
	}
	args := commitArgs{unit: u, reserve: res, owner: o, changes: []order.Change{o.Snapshot(at)}}

	if !o.InStack {
		// stop-limit waits off the book for its trigger
		args.orders = []*order.Order{o}
		out, err := w.commit(ctx, args)
		if err != nil {
			return Result{}, err
		}
		w.remember(o)
		w.stops[o.ID] = o
		w.touch(at)
		w.emit(ctx, o, event.ActionOpen, nil, out, at)
		return Result{Order: o.Clone()}, nil
	}

	pl := w.matcher.Plan(o, u, 0, at)
	triggered := w.crossedStops(pl)
	args.plan = pl
	args.orders = triggered
	out, err := w.commit(ctx, args)
	if err != nil {
		return Result{}, err
	}
	w.remember(o)
	w.apply(pl, triggered, at)
	w.emit(ctx, o, event.ActionOpen, pl, out, at)

	return Result{Order: o.Clone(), Executions: resultsFor(o.ID, out.results)}, nil
}

// remember maps the client id of a committed order to its id.
func (w *Worker) remember(o *order.Order) {
	if o.ClientID != "" {
		w.placed.Add(placeKey(o.UserID, o.ClientID), o.ID)
	}
}

// placedResult answers a repeated place with the order the first one created.
func (w *Worker) placedResult(ctx context.Context, id, user uint64) (Result, error) {
	o, _, err := w.locate(ctx, id, user)
	if err != nil {
		return Result{}, err
	}
	rs, err := w.deps.Store.ResultsByOrder(ctx, id)
	if err != nil {
		return Result{}, errs.Wrap(errs.CodeInternal, err, "load results")
	}
	return Result{Order: o.Clone(), Executions: resultsFor(id, rs)}, nil
}

// triggerStop submits an activated stop order as a limit. Its funds are
// already held. o is left untouched when the commit fails.
func (w *Worker) triggerStop(ctx context.Context, o *order.Order, at time.Time) (Result, error) {
	if err := w.record(entrywal.RecordStopTrigger, entrywal.Command{OrderID: o.ID, UserID: o.UserID}, at); err != nil {
		return Result{}, err
	}
	c := o.Clone()
	u := w.deps.Ledger.Begin()
	pl := w.matcher.Plan(c, u, 0, at)
	triggered := w.crossedStops(pl)
	out, err := w.commit(ctx, commitArgs{unit: u, plan: pl, orders: triggered})
	if err != nil {
		return Result{}, err
	}
	w.apply(pl, triggered, at)
	w.emit(ctx, c, event.ActionOpen, pl, out, at)
	return Result{Order: c.Clone(), Executions: resultsFor(c.ID, out.results)}, nil
}

func (w *Worker) priceExternal(ctx context.Context, o *order.Order) error {
	if !w.pair.AutoOrdersEnabled || w.deps.OTC == nil {
		return errs.New(errs.CodeOTCOrdersDisabled, "otc orders are disabled on %s", w.code)
	}
	if !w.deps.Policy.AutoOrdersAllowed(o.UserID) {
		return errs.New(errs.CodeAutoOrdersDisabledForUser, "user %d may not place otc orders", o.UserID)
	}
	if err := w.deps.OTC.CheckPercent(o.OTCPercent); err != nil {
		return err
	}
	price, err := w.deps.OTC.Price(ctx, o, w.pair)
	if err != nil {
		return err
	}
	o.Price = price
	return nil
}

func (w *Worker) reference(ctx context.Context) pricing.Reference {
	ref := pricing.Reference{LastTrade: w.lastPrice, Custom: w.pair.CustomPrice}
	if w.deps.External != nil {
		if p, ok := w.deps.External.Price(ctx, w.code); ok {
			ref.External = p
		}
	}
	return ref
}

func placeCommand(o *order.Order) entrywal.Command {
	return entrywal.Command{
		OrderID:    o.ID,
		UserID:     o.UserID,
		ClientID:   o.ClientID,
		Side:       uint8(o.Side),
		Kind:       uint8(o.Kind),
		Quantity:   o.Quantity,
		Price:      o.Price,
		Stop:       o.Stop,
		Cost:       o.Cost,
		OTCPercent: o.OTCPercent,
		OTCLimit:   o.OTCLimit,
	}
}
