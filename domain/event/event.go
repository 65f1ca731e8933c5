// Package event defines what the core emits and the topics it is routed on.
package event

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindTrade          Kind = "trade"
	KindOrderState     Kind = "order_state"
	KindBookSnapshot   Kind = "book_snapshot"
	KindBookPrecision  Kind = "book_snapshot_precision"
	KindBalanceChanged Kind = "balance_changed"
	KindStackDown      Kind = "stack_down"
)

// Lossy kinds are superseded by the next emission and never go to durable sinks.
func (k Kind) Lossy() bool {
	return k == KindBookSnapshot || k == KindBookPrecision
}

// Event is the envelope delivered to subscribers. ID is unique per emission
// so redelivered copies can be dropped.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Pair    string    `json:"pair,omitempty"`
	UserID  uint64    `json:"user_id,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

func newEvent(kind Kind, pair string, user uint64, at time.Time, payload any) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Pair: pair, UserID: user, Time: at, Payload: payload}
}

// Topic names.
func PairTopic(pair string) string       { return "pair." + pair }
func TradesTopic(pair string) string     { return "trades." + pair }
func OpenOrdersTopic(pair string) string { return "orders." + pair }
func UserTopic(user uint64) string       { return "user." + strconv.FormatUint(user, 10) }
func PrecisionTopic(pair string, precision decimal.Decimal) string {
	return "pair." + pair + "@" + precision.String()
}

const AlertsTopic = "alerts"

// Topics lists every topic e is delivered on.
func (e Event) Topics() []string {
	switch e.Kind {
	case KindTrade:
		return []string{TradesTopic(e.Pair)}
	case KindOrderState:
		return []string{UserTopic(e.UserID), OpenOrdersTopic(e.Pair)}
	case KindBookSnapshot:
		return []string{PairTopic(e.Pair)}
	case KindBookPrecision:
		if p, ok := e.Payload.(PrecisionSnapshot); ok {
			return []string{PrecisionTopic(e.Pair, p.Precision)}
		}
	case KindBalanceChanged:
		return []string{UserTopic(e.UserID)}
	case KindStackDown:
		return []string{AlertsTopic}
	}
	return nil
}

// DedupKey identifies the fact an event carries, stable across redelivery.
func (e Event) DedupKey() string {
	switch p := e.Payload.(type) {
	case Trade:
		return "trade:" + strconv.FormatUint(p.TakerOrderID, 10) + ":" + strconv.FormatUint(p.MakerOrderID, 10)
	}
	return e.ID
}
