package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"spotex/domain/ledger"
	"spotex/domain/order"
)

// Memory is a Store kept in process memory. Used in tests and single-node dev runs.
type Memory struct {
	mu sync.RWMutex

	orders       map[uint64]*order.Order
	txns         []ledger.Transaction
	txnsByOrder  map[uint64][]int
	results      []order.ExecutionResult
	resByOrder   map[uint64][]int
	stateChanges map[uint64][]order.StateChange
	changes      map[uint64][]order.Change
	lastPrice    map[string]decimal.Decimal
	ids          LastIDs
}

func NewMemory() *Memory {
	return &Memory{
		orders:       make(map[uint64]*order.Order),
		txnsByOrder:  make(map[uint64][]int),
		resByOrder:   make(map[uint64][]int),
		stateChanges: make(map[uint64][]order.StateChange),
		changes:      make(map[uint64][]order.Change),
		lastPrice:    make(map[string]decimal.Decimal),
	}
}

func (m *Memory) Commit(_ context.Context, c *Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range c.Orders {
		m.orders[o.ID] = o.Clone()
		m.ids.Order = max(m.ids.Order, o.ID)
	}
	for _, tx := range c.Transactions {
		m.txns = append(m.txns, tx)
		if tx.OrderID != 0 {
			m.txnsByOrder[tx.OrderID] = append(m.txnsByOrder[tx.OrderID], len(m.txns)-1)
		}
		m.ids.Transaction = max(m.ids.Transaction, tx.ID)
	}
	for _, r := range c.Results {
		m.results = append(m.results, r)
		m.resByOrder[r.OrderID] = append(m.resByOrder[r.OrderID], len(m.results)-1)
		m.ids.Result = max(m.ids.Result, r.ID)
	}
	for _, sc := range c.StateChanges {
		m.stateChanges[sc.OrderID] = append(m.stateChanges[sc.OrderID], sc)
	}
	for _, ch := range c.Changes {
		m.changes[ch.OrderID] = append(m.changes[ch.OrderID], ch)
	}
	if c.LastPrice.Sign() > 0 {
		m.lastPrice[c.Pair] = c.LastPrice
	}
	return nil
}

func (m *Memory) Order(_ context.Context, id uint64) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) OpenOrders(_ context.Context, pair string) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*order.Order
	for _, o := range m.orders {
		if o.Pair == pair && o.State == order.Open {
			out = append(out, o.Clone())
		}
	}
	sortOpen(out)
	return out, nil
}

func (m *Memory) TransactionsByOrder(_ context.Context, id uint64) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Transaction, 0, len(m.txnsByOrder[id]))
	for _, i := range m.txnsByOrder[id] {
		out = append(out, m.txns[i])
	}
	return out, nil
}

func (m *Memory) ResultsByOrder(_ context.Context, id uint64) ([]order.ExecutionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]order.ExecutionResult, 0, len(m.resByOrder[id]))
	for _, i := range m.resByOrder[id] {
		out = append(out, m.results[i])
	}
	return out, nil
}

func (m *Memory) StateChanges(_ context.Context, id uint64) ([]order.StateChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]order.StateChange(nil), m.stateChanges[id]...), nil
}

func (m *Memory) Changes(_ context.Context, id uint64) ([]order.Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]order.Change(nil), m.changes[id]...), nil
}

func (m *Memory) ForEachTransaction(_ context.Context, fn func(ledger.Transaction) error) error {
	m.mu.RLock()
	txns := append([]ledger.Transaction(nil), m.txns...)
	m.mu.RUnlock()
	for _, tx := range txns {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) LastTradePrice(_ context.Context, pair string) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.lastPrice[pair]
	return p, ok, nil
}

func (m *Memory) LastIDs(context.Context) (LastIDs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ids, nil
}

func (m *Memory) Close() error { return nil }
