package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionResult is one side of a fill, or an audit record of a cancellation.
type ExecutionResult struct {
	ID                uint64          `json:"id"`
	OrderID           uint64          `json:"order_id"`
	MatchedOrderID    uint64          `json:"matched_order_id"`
	Pair              string          `json:"pair"`
	Quantity          decimal.Decimal `json:"quantity"`
	Price             decimal.Decimal `json:"price"`
	MatchedOrderPrice decimal.Decimal `json:"matched_order_price"`
	FeeRate           decimal.Decimal `json:"fee_rate"`
	FeeAmount         decimal.Decimal `json:"fee_amount"`
	CreditTxnID       uint64          `json:"credit_txn_id,omitempty"`
	CashbackTxnID     uint64          `json:"cashback_txn_id,omitempty"`
	Cancelled         bool            `json:"cancelled"`
	CreatedAt         time.Time       `json:"created_at"`
}

// StateChange is appended on every state transition.
type StateChange struct {
	OrderID uint64    `json:"order_id"`
	Prev    State     `json:"prev"`
	Next    State     `json:"next"`
	At      time.Time `json:"at"`
}

// Change is appended on creation and on every field update.
type Change struct {
	OrderID    uint64          `json:"order_id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Stop       decimal.Decimal `json:"stop"`
	OTCPercent decimal.Decimal `json:"otc_percent"`
	OTCLimit   decimal.Decimal `json:"otc_limit"`
	At         time.Time       `json:"at"`
}
