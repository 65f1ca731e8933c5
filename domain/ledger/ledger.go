// Package ledger keeps per-(user, currency) balances. Mutations are grouped in
// a Unit that commits atomically across every account it touches; account
// locks are taken in a fixed order so concurrent units never deadlock.
package ledger

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotex/domain/errs"
)

const stripes = 64

// IDSource issues transaction ids.
type IDSource interface {
	Next() uint64
}

type accountKey struct {
	user     uint64
	currency string
}

func (k accountKey) stripe() int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatUint(k.user, 10)))
	_, _ = h.Write([]byte(k.currency))
	return int(h.Sum32() % stripes)
}

type account struct {
	available decimal.Decimal
	onHold    decimal.Decimal
}

// Ledger is safe for concurrent use by all pair workers.
type Ledger struct {
	ids IDSource
	now func() time.Time

	locks [stripes]sync.Mutex

	mu       sync.RWMutex
	accounts map[accountKey]*account
}

func New(ids IDSource) *Ledger {
	return &Ledger{
		ids:      ids,
		now:      time.Now,
		accounts: make(map[accountKey]*account),
	}
}

// SetClock overrides the timestamp source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) account(k accountKey) *account {
	l.mu.RLock()
	a, ok := l.accounts[k]
	l.mu.RUnlock()
	if ok {
		return a
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[k]; ok {
		return a
	}
	a = &account{}
	l.accounts[k] = a
	return a
}

// Balance returns a consistent read of one account.
func (l *Ledger) Balance(user uint64, currency string) Balance {
	k := accountKey{user: user, currency: currency}
	a := l.account(k)
	mu := &l.locks[k.stripe()]
	mu.Lock()
	defer mu.Unlock()
	return Balance{UserID: user, Currency: currency, Available: a.available, OnHold: a.onHold}
}

func (l *Ledger) Available(user uint64, currency string) decimal.Decimal {
	return l.Balance(user, currency).Available
}

func (l *Ledger) OnHold(user uint64, currency string) decimal.Decimal {
	return l.Balance(user, currency).OnHold
}

// Restore replays persisted completed transactions into available balances.
// It runs before any worker starts and performs no checks.
func (l *Ledger) Restore(txns []Transaction) {
	for _, tx := range txns {
		if tx.State != TxCompleted {
			continue
		}
		a := l.account(accountKey{user: tx.UserID, currency: tx.Currency})
		a.available = a.available.Add(tx.Amount)
	}
}

// RestoreHold re-establishes the hold of an open order during rehydration.
func (l *Ledger) RestoreHold(user uint64, currency string, amount decimal.Decimal) {
	k := accountKey{user: user, currency: currency}
	a := l.account(k)
	mu := &l.locks[k.stripe()]
	mu.Lock()
	a.onHold = a.onHold.Add(amount)
	mu.Unlock()
}

// Deposit credits funds from outside the core in its own unit.
func (l *Ledger) Deposit(user uint64, currency string, amount decimal.Decimal) (*Transaction, error) {
	u := l.Begin()
	tx := u.Credit(user, currency, amount, ReasonDeposit, 0)
	if _, err := u.Commit(nil); err != nil {
		return nil, err
	}
	return tx, nil
}

// lockAll takes the stripes for keys in ascending order and returns the unlock func.
func (l *Ledger) lockAll(keys []accountKey) func() {
	seen := make(map[int]struct{}, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		s := k.stripe()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		idx = append(idx, s)
	}
	sort.Ints(idx)
	for _, s := range idx {
		l.locks[s].Lock()
	}
	return func() {
		for i := len(idx) - 1; i >= 0; i-- {
			l.locks[idx[i]].Unlock()
		}
	}
}

func insufficient(k accountKey, have, delta decimal.Decimal) error {
	return errs.New(errs.CodeInsufficientFunds, "user %d %s: available %s, change %s", k.user, k.currency, have, delta)
}
