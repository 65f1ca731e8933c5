package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"spotex/domain/errs"
)

type entry struct {
	key  accountKey
	amt  decimal.Decimal // change of available
	hold decimal.Decimal // change of on_hold
	tx   *Transaction
}

// Unit collects balance changes and commits them all or none.
// A Unit belongs to a single goroutine.
type Unit struct {
	l       *Ledger
	entries []entry
}

// Begin starts an empty unit.
func (l *Ledger) Begin() *Unit {
	return &Unit{l: l}
}

// Empty reports whether the unit has no changes.
func (u *Unit) Empty() bool { return len(u.entries) == 0 }

func (u *Unit) add(user uint64, currency string, amt, hold decimal.Decimal, reason Reason, orderID uint64) *Transaction {
	e := entry{key: accountKey{user: user, currency: currency}, amt: amt, hold: hold}
	if !amt.IsZero() {
		e.tx = &Transaction{
			UserID:   user,
			Currency: currency,
			Amount:   amt,
			Reason:   reason,
			State:    TxCompleted,
			OrderID:  orderID,
		}
	}
	if amt.IsZero() && hold.IsZero() {
		return nil
	}
	u.entries = append(u.entries, e)
	return e.tx
}

// Available is the committed balance plus this unit's pending changes.
func (u *Unit) Available(user uint64, currency string) decimal.Decimal {
	k := accountKey{user: user, currency: currency}
	v := u.l.Available(user, currency)
	for _, e := range u.entries {
		if e.key == k {
			v = v.Add(e.amt)
		}
	}
	return v
}

// Reserve moves amount from available to on_hold as ORDER_OPENED.
// It fails fast when the unit's own view is already short.
func (u *Unit) Reserve(user uint64, currency string, amount decimal.Decimal, orderID uint64) (*Transaction, error) {
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("ledger: negative reservation %s", amount)
	}
	if have := u.Available(user, currency); have.LessThan(amount) {
		return nil, insufficient(accountKey{user: user, currency: currency}, have, amount.Neg())
	}
	return u.add(user, currency, amount.Neg(), amount, ReasonOrderOpened, orderID), nil
}

// Release returns held funds to available. The reason is ORDER_CANCELED or ORDER_CHARGE_RETURN.
func (u *Unit) Release(user uint64, currency string, amount decimal.Decimal, reason Reason, orderID uint64) *Transaction {
	return u.add(user, currency, amount, amount.Neg(), reason, orderID)
}

// Spend consumes held funds that leave the account through a fill.
func (u *Unit) Spend(user uint64, currency string, amount decimal.Decimal) {
	u.add(user, currency, decimal.Zero, amount.Neg(), "", 0)
}

// CreditExecution credits the proceeds of a fill, already net of fee.
func (u *Unit) CreditExecution(user uint64, currency string, amount decimal.Decimal, orderID uint64) *Transaction {
	return u.add(user, currency, amount, decimal.Zero, ReasonOrderExecuted, orderID)
}

// Cashback returns held quote over-reserved by a buy that executed below its limit.
func (u *Unit) Cashback(user uint64, currency string, amount decimal.Decimal, orderID uint64) *Transaction {
	return u.add(user, currency, amount, amount.Neg(), ReasonOrderCashback, orderID)
}

// AdjustReservation changes the hold of an open order. A negative delta holds
// more (ORDER_EXTRA_CHARGE), a positive delta releases (ORDER_CHARGE_RETURN).
func (u *Unit) AdjustReservation(user uint64, currency string, delta decimal.Decimal, orderID uint64) (*Transaction, error) {
	if delta.Sign() < 0 {
		if have := u.Available(user, currency); have.Add(delta).Sign() < 0 {
			return nil, insufficient(accountKey{user: user, currency: currency}, have, delta)
		}
		return u.add(user, currency, delta, delta.Neg(), ReasonOrderExtraCharge, orderID), nil
	}
	return u.add(user, currency, delta, delta.Neg(), ReasonOrderChargeReturn, orderID), nil
}

// Credit applies a plain signed change of available, used for fee topups and reverts.
func (u *Unit) Credit(user uint64, currency string, amount decimal.Decimal, reason Reason, orderID uint64) *Transaction {
	return u.add(user, currency, amount, decimal.Zero, reason, orderID)
}

// Result describes a committed unit.
type Result struct {
	Transactions []Transaction
	Balances     []Balance
}

// Commit locks every touched account, checks that no available or on_hold
// value goes negative, assigns transaction ids, runs persist while the locks
// are held and applies the changes only if persist succeeds.
func (u *Unit) Commit(persist func([]Transaction) error) (Result, error) {
	if len(u.entries) == 0 {
		return Result{}, nil
	}

	keys := make([]accountKey, 0, len(u.entries))
	for _, e := range u.entries {
		keys = append(keys, e.key)
	}
	unlock := u.l.lockAll(keys)
	defer unlock()

	type next struct {
		acc       *account
		available decimal.Decimal
		onHold    decimal.Decimal
	}
	order := make([]accountKey, 0, len(keys))
	state := make(map[accountKey]*next, len(keys))
	for _, e := range u.entries {
		n, ok := state[e.key]
		if !ok {
			a := u.l.account(e.key)
			n = &next{acc: a, available: a.available, onHold: a.onHold}
			state[e.key] = n
			order = append(order, e.key)
		}
		n.available = n.available.Add(e.amt)
		n.onHold = n.onHold.Add(e.hold)
	}
	for _, k := range order {
		n := state[k]
		if n.available.Sign() < 0 {
			return Result{}, insufficient(k, n.acc.available, n.available.Sub(n.acc.available))
		}
		if n.onHold.Sign() < 0 {
			return Result{}, errs.New(errs.CodeInternal, "user %d %s: hold would become %s", k.user, k.currency, n.onHold)
		}
	}

	now := u.l.now()
	txns := make([]Transaction, 0, len(u.entries))
	for _, e := range u.entries {
		if e.tx == nil {
			continue
		}
		e.tx.ID = u.l.ids.Next()
		e.tx.CreatedAt = now
		txns = append(txns, *e.tx)
	}
	if persist != nil {
		if err := persist(txns); err != nil {
			return Result{}, err
		}
	}

	res := Result{Transactions: txns, Balances: make([]Balance, 0, len(order))}
	for _, k := range order {
		n := state[k]
		n.acc.available = n.available
		n.acc.onHold = n.onHold
		res.Balances = append(res.Balances, Balance{UserID: k.user, Currency: k.currency, Available: n.available, OnHold: n.onHold})
	}
	u.entries = nil
	return res, nil
}
