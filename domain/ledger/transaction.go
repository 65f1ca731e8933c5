package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reason tags why a transaction moved funds.
type Reason string

const (
	ReasonOrderOpened       Reason = "ORDER_OPENED"
	ReasonOrderExecuted     Reason = "ORDER_EXECUTED"
	ReasonOrderCanceled     Reason = "ORDER_CANCELED"
	ReasonOrderCashback     Reason = "ORDER_CACHEBACK"
	ReasonOrderExtraCharge  Reason = "ORDER_EXTRA_CHARGE"
	ReasonOrderChargeReturn Reason = "ORDER_CHARGE_RETURN"
	ReasonOrderRevertReturn Reason = "ORDER_REVERT_RETURN"
	ReasonOrderRevertCharge Reason = "ORDER_REVERT_CHARGE"
	ReasonFeeTopup          Reason = "FEE_TOPUP"
	// ReasonDeposit is used by wallet collaborators crediting funds from outside the core.
	ReasonDeposit Reason = "DEPOSIT"
)

type TxState uint8

const (
	TxCompleted TxState = iota
	TxPending
	TxCancelled
)

func (s TxState) String() string {
	switch s {
	case TxCompleted:
		return "COMPLETED"
	case TxPending:
		return "PENDING"
	case TxCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Transaction is one signed ledger entry.
type Transaction struct {
	ID        uint64          `json:"id"`
	UserID    uint64          `json:"user_id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    Reason          `json:"reason"`
	State     TxState         `json:"state"`
	OrderID   uint64          `json:"order_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Balance is the derived view of one account.
type Balance struct {
	UserID    uint64          `json:"user_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	OnHold    decimal.Decimal `json:"on_hold"`
}
