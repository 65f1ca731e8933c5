// Package store persists orders, ledger transactions, execution results and
// order history. Every Changeset commits atomically.
package store

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"spotex/domain/ledger"
	"spotex/domain/order"
)

var ErrNotFound = errors.New("store: not found")

// Changeset is the persisted outcome of one command.
type Changeset struct {
	Orders       []*order.Order
	Transactions []ledger.Transaction
	Results      []order.ExecutionResult
	StateChanges []order.StateChange
	Changes      []order.Change

	// Pair and LastPrice record the last trade of the pair when LastPrice is set.
	Pair      string
	LastPrice decimal.Decimal
}

func (c *Changeset) Empty() bool {
	return len(c.Orders) == 0 && len(c.Transactions) == 0 && len(c.Results) == 0 &&
		len(c.StateChanges) == 0 && len(c.Changes) == 0 && c.LastPrice.IsZero()
}

// LastIDs are the highest ids persisted, used to seed the sequencers.
type LastIDs struct {
	Order       uint64
	Transaction uint64
	Result      uint64
}

func sortOpen(out []*order.Order) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}
