package service

import (
	"time"

	"github.com/shopspring/decimal"

	"spotex/domain/order"
)

type PlaceRequest struct {
	Pair       string
	UserID     uint64
	ClientID   string
	Side       order.Side
	Kind       order.Kind
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Stop       decimal.Decimal
	Cost       decimal.Decimal
	OTCPercent decimal.Decimal
	OTCLimit   decimal.Decimal
}

// UpdateRequest changes an open order. Fields left invalid are kept.
type UpdateRequest struct {
	OrderID    uint64
	UserID     uint64
	Price      decimal.NullDecimal
	Quantity   decimal.NullDecimal
	Stop       decimal.NullDecimal
	OTCPercent decimal.NullDecimal
	OTCLimit   decimal.NullDecimal
}

// Result is what a command returns to its caller.
type Result struct {
	Order *order.Order
	// Executions are the results recorded for Order by this command.
	Executions []order.ExecutionResult
	// Repriced lists orders moved by an OTC bulk update.
	Repriced []uint64
}

type commandKind uint8

const (
	cmdPlace commandKind = iota + 1
	cmdCancel
	cmdUpdate
	cmdStopTrigger
	cmdOTCUpdate
	cmdRevert
)

func (k commandKind) String() string {
	switch k {
	case cmdPlace:
		return "place"
	case cmdCancel:
		return "cancel"
	case cmdUpdate:
		return "update"
	case cmdStopTrigger:
		return "stop_trigger"
	case cmdOTCUpdate:
		return "otc_bulk_update"
	case cmdRevert:
		return "revert"
	}
	return "unknown"
}

type command struct {
	kind    commandKind
	place   *PlaceRequest
	update  *UpdateRequest
	orderID uint64
	userID  uint64
	at      time.Time
	reply   chan reply
}

type reply struct {
	res Result
	err error
}
