package event

import (
	"time"

	"github.com/shopspring/decimal"
)

type Trade struct {
	Pair         string          `json:"pair"`
	TakerOrderID uint64          `json:"taker_order_id"`
	MakerOrderID uint64          `json:"maker_order_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	TakerSide    string          `json:"taker_side"`
	At           time.Time       `json:"ts"`
}

// OrderAction says what happened to an order.
type OrderAction string

const (
	ActionOpen    OrderAction = "open"
	ActionUpdate  OrderAction = "update"
	ActionCancel  OrderAction = "cancel"
	ActionExecute OrderAction = "execute"
	ActionClose   OrderAction = "close"
	ActionRevert  OrderAction = "revert"
)

type OrderState struct {
	UserID       uint64          `json:"user_id"`
	OrderID      uint64          `json:"order_id"`
	Pair         string          `json:"pair"`
	Action       OrderAction     `json:"action"`
	State        string          `json:"state"`
	Side         string          `json:"side"`
	Kind         string          `json:"kind"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	QuantityLeft decimal.Decimal `json:"quantity_left"`
	VWAP         decimal.Decimal `json:"vwap"`
	At           time.Time       `json:"ts"`
}

type BalanceChanged struct {
	UserID    uint64          `json:"user_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	OnHold    decimal.Decimal `json:"on_hold"`
}

// BookLevel is one aggregated price of a snapshot.
type BookLevel struct {
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	OrderIDs        []uint64        `json:"order_ids"`
	UserIDs         []uint64        `json:"user_ids,omitempty"`
	EarliestAt      time.Time       `json:"earliest_ts"`
	CumulativeDepth decimal.Decimal `json:"cumulative_depth"`
	Owner           bool            `json:"owner,omitempty"`
}

type BookSnapshot struct {
	Pair           string          `json:"pair"`
	Bids           []BookLevel     `json:"bids"`
	Asks           []BookLevel     `json:"asks"`
	TopBid         decimal.Decimal `json:"top_bid"`
	TopAsk         decimal.Decimal `json:"top_ask"`
	BuyVolume      decimal.Decimal `json:"buy_volume"`
	SellVolume     decimal.Decimal `json:"sell_volume"`
	BuyAverage     decimal.Decimal `json:"buy_weighted_avg"`
	SellAverage    decimal.Decimal `json:"sell_weighted_avg"`
	Rate           decimal.Decimal `json:"rate"`
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	Touched        time.Time       `json:"last_processed"`
	At             time.Time       `json:"ts"`
}

type PrecisionSnapshot struct {
	Pair      string          `json:"pair"`
	Precision decimal.Decimal `json:"precision"`
	Bids      []BookLevel     `json:"bids"`
	Asks      []BookLevel     `json:"asks"`
	At        time.Time       `json:"ts"`
}

type StackDown struct {
	Pair        string        `json:"pair"`
	Silence     time.Duration `json:"silence"`
	Multiplier  int           `json:"multiplier"`
	LastEmitted time.Time     `json:"last_emitted"`
}
