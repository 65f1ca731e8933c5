package grpcserver

import (
	"github.com/shopspring/decimal"

	"spotex/domain/event"
	"spotex/domain/order"
)

type PlaceOrderRequest struct {
	Pair       string          `json:"pair"`
	UserID     uint64          `json:"user_id"`
	ClientID   string          `json:"client_id,omitempty"`
	Side       string          `json:"side"`
	Kind       string          `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Stop       decimal.Decimal `json:"stop"`
	Cost       decimal.Decimal `json:"cost"`
	OTCPercent decimal.Decimal `json:"otc_percent"`
	OTCLimit   decimal.Decimal `json:"otc_limit"`
}

// UpdateOrderRequest leaves null fields unchanged.
type UpdateOrderRequest struct {
	OrderID    uint64              `json:"order_id"`
	UserID     uint64              `json:"user_id"`
	Price      decimal.NullDecimal `json:"price"`
	Quantity   decimal.NullDecimal `json:"quantity"`
	Stop       decimal.NullDecimal `json:"stop"`
	OTCPercent decimal.NullDecimal `json:"otc_percent"`
	OTCLimit   decimal.NullDecimal `json:"otc_limit"`
}

type CancelOrderRequest struct {
	OrderID uint64 `json:"order_id"`
	UserID  uint64 `json:"user_id"`
}

type RevertOrderRequest struct {
	OrderID uint64 `json:"order_id"`
}

type OTCBulkUpdateRequest struct {
	Pair string `json:"pair"`
}

type OrderReply struct {
	Order      *order.Order            `json:"order,omitempty"`
	Executions []order.ExecutionResult `json:"executions,omitempty"`
	Repriced   []uint64                `json:"repriced,omitempty"`
}

// GetBookRequest asks for the current book. A non-zero precision adds the
// grouped view; UserID flags that user's levels and hides everybody's ids.
type GetBookRequest struct {
	Pair      string          `json:"pair"`
	UserID    uint64          `json:"user_id"`
	Precision decimal.Decimal `json:"precision"`
}

type GetBookReply struct {
	Book    event.BookSnapshot       `json:"book"`
	Grouped *event.PrecisionSnapshot `json:"grouped,omitempty"`
}

type DepositRequest struct {
	UserID   uint64          `json:"user_id"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type BalanceRequest struct {
	UserID   uint64 `json:"user_id"`
	Currency string `json:"currency"`
}

type BalanceReply struct {
	UserID    uint64          `json:"user_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	OnHold    decimal.Decimal `json:"on_hold"`
}
