package event

import "time"

func NewTrade(t Trade) Event {
	return newEvent(KindTrade, t.Pair, 0, t.At, t)
}

func NewOrderState(s OrderState) Event {
	return newEvent(KindOrderState, s.Pair, s.UserID, s.At, s)
}

func NewBalanceChanged(b BalanceChanged, at time.Time) Event {
	return newEvent(KindBalanceChanged, "", b.UserID, at, b)
}

func NewBookSnapshot(s BookSnapshot) Event {
	return newEvent(KindBookSnapshot, s.Pair, 0, s.At, s)
}

func NewPrecisionSnapshot(s PrecisionSnapshot) Event {
	return newEvent(KindBookPrecision, s.Pair, 0, s.At, s)
}

func NewStackDown(s StackDown, at time.Time) Event {
	return newEvent(KindStackDown, s.Pair, 0, at, s)
}
