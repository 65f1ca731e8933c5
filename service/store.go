package service

import (
	"context"

	"github.com/shopspring/decimal"

	"spotex/domain/event"
	"spotex/domain/ledger"
	"spotex/domain/order"
	"spotex/infra/store"
	entrywal "spotex/infra/wal/entry"
)

// Store is the persistence the core needs.
type Store interface {
	Commit(ctx context.Context, c *store.Changeset) error
	Order(ctx context.Context, id uint64) (*order.Order, error)
	OpenOrders(ctx context.Context, pair string) ([]*order.Order, error)
	TransactionsByOrder(ctx context.Context, id uint64) ([]ledger.Transaction, error)
	ResultsByOrder(ctx context.Context, id uint64) ([]order.ExecutionResult, error)
	ForEachTransaction(ctx context.Context, fn func(ledger.Transaction) error) error
	LastTradePrice(ctx context.Context, pair string) (decimal.Decimal, bool, error)
	LastIDs(ctx context.Context) (store.LastIDs, error)
}

// Publisher delivers events; bus.Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, events ...event.Event)
}

// Journal is the per-pair command log.
type Journal interface {
	Append(r *entrywal.Record) error
	LastSeq() uint64
	TruncateBefore(seq uint64) (int, error)
}

// IDSource issues ids; sequence.Sequencer implements it.
type IDSource interface {
	Next() uint64
}

// Policy holds per-user restrictions.
type Policy interface {
	AutoOrdersAllowed(user uint64) bool
}

type allowAll struct{}

func (allowAll) AutoOrdersAllowed(uint64) bool { return true }
