package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotex/domain/errs"
	"spotex/domain/event"
	"spotex/domain/ledger"
	"spotex/domain/order"
	entrywal "spotex/infra/wal/entry"
)

// revert undoes every fill of a terminal order together with the matching
// side of each counterparty, then marks the order REVERTED.
func (w *Worker) revert(ctx context.Context, id uint64, at time.Time) (Result, error) {
	o, live, err := w.locate(ctx, id, 0)
	if err != nil {
		return Result{}, err
	}
	switch {
	case live || (o.State != order.Closed && o.State != order.Cancelled):
		return Result{}, errs.New(errs.CodeCannotUpdateOrder, "order %d is %s", id, o.State)
	case !o.Executed:
		return Result{}, errs.New(errs.CodeCannotUpdateOrder, "order %d never executed", id)
	}

	if err := w.record(entrywal.RecordRevert, entrywal.Command{OrderID: id, UserID: o.UserID}, at); err != nil {
		return Result{}, err
	}

	u := w.deps.Ledger.Begin()
	if err := w.planRevert(ctx, u, o); err != nil {
		return Result{}, errs.Wrap(errs.CodeReverted, err, "plan revert")
	}

	c := o.Clone()
	st := c.Transition(order.Reverted, at)
	out, err := w.commit(ctx, commitArgs{
		unit:   u,
		orders: []*order.Order{c},
		states: []order.StateChange{st},
	})
	if err != nil {
		return Result{}, errs.Wrap(errs.CodeReverted, err, "commit revert")
	}
	w.log.Info("order reverted", zap.Uint64("order_id", id), zap.Int("balances", len(out.balances)))
	w.emit(ctx, c, event.ActionRevert, nil, out, at)
	return Result{Order: c.Clone()}, nil
}

func (w *Worker) planRevert(ctx context.Context, u *ledger.Unit, o *order.Order) error {
	txns, err := w.deps.Store.TransactionsByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	for _, tx := range txns {
		if tx.State != ledger.TxCompleted || tx.Amount.IsZero() {
			continue
		}
		credit(u, tx.UserID, tx.Currency, tx.Amount.Neg(), o.ID)
	}

	results, err := w.deps.Store.ResultsByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	// nth fill against a counterparty pairs with its nth result against us
	seen := make(map[uint64]int)
	for _, r := range results {
		if r.Cancelled {
			continue
		}
		n := seen[r.MatchedOrderID]
		seen[r.MatchedOrderID]++

		m, err := w.deps.Store.Order(ctx, r.MatchedOrderID)
		if err != nil {
			return err
		}
		// its revert already compensated this side too
		if m.State == order.Reverted {
			continue
		}
		mr, err := w.nthResult(ctx, m.ID, o.ID, n)
		if err != nil {
			return err
		}
		w.revertCounterparty(u, m, mr)
	}
	return nil
}

func (w *Worker) nthResult(ctx context.Context, id, against uint64, n int) (order.ExecutionResult, error) {
	rs, err := w.deps.Store.ResultsByOrder(ctx, id)
	if err != nil {
		return order.ExecutionResult{}, err
	}
	for _, r := range rs {
		if r.Cancelled || r.MatchedOrderID != against {
			continue
		}
		if n == 0 {
			return r, nil
		}
		n--
	}
	return order.ExecutionResult{}, errs.New(errs.CodeInternal, "order %d has no fill against %d", id, against)
}

// revertCounterparty gives back what m paid in the fill and takes back what
// it was credited, fee included.
func (w *Worker) revertCounterparty(u *ledger.Unit, m *order.Order, r order.ExecutionResult) {
	base, quote := w.pair.Base, w.pair.Quote
	gross := r.Quantity.Mul(r.Price)
	credited := quote
	if m.Side == order.Sell {
		credit(u, m.UserID, base, r.Quantity, m.ID)
		credit(u, m.UserID, quote, gross.Sub(r.FeeAmount).Neg(), m.ID)
	} else {
		credit(u, m.UserID, quote, gross, m.ID)
		credit(u, m.UserID, base, r.Quantity.Sub(r.FeeAmount).Neg(), m.ID)
		credited = base
	}
	if fee := w.cfg.Matching.FeeUserID; fee != 0 && r.FeeAmount.Sign() > 0 {
		credit(u, fee, credited, r.FeeAmount.Neg(), m.ID)
	}
}

func credit(u *ledger.Unit, user uint64, currency string, amount decimal.Decimal, orderID uint64) {
	if amount.IsZero() {
		return
	}
	reason := ledger.ReasonOrderRevertCharge
	if amount.Sign() < 0 {
		reason = ledger.ReasonOrderRevertReturn
	}
	u.Credit(user, currency, amount, reason, orderID)
}
