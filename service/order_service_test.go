package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex/domain/errs"
	"spotex/domain/event"
	"spotex/domain/ledger"
	"spotex/domain/order"
	entrywal "spotex/infra/wal/entry"
)

func TestLimitRestsAndReserves(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")

	res := h.limit(1, order.Buy, "0.01", "50000")
	assert.Equal(t, order.Open, res.Order.State)
	assert.True(t, res.Order.InStack)
	assert.NotZero(t, res.Order.ReservationTxnID)

	dEqual(t, "500", h.available(1, "USDT"))
	dEqual(t, "500", h.onHold(1, "USDT"))
	dEqual(t, "50000", h.view().TopBid())

	stored, err := h.svc.Order(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Open, stored.State)
	assert.NotEmpty(t, h.bus.ofKind(event.KindOrderState))
}

func TestFillAtMakerPriceWithFees(t *testing.T) {
	h := newHarness(t, setup{rate: "0.001", feeUser: feeUser})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")

	maker := h.limit(2, order.Sell, "0.01", "50000")
	taker := h.limit(1, order.Buy, "0.01", "51000")

	assert.Equal(t, order.Closed, taker.Order.State)
	require.Len(t, taker.Executions, 1)
	ex := taker.Executions[0]
	dEqual(t, "50000", ex.Price)
	assert.Equal(t, maker.Order.ID, ex.MatchedOrderID)
	assert.NotZero(t, ex.CashbackTxnID)

	dEqual(t, "0.00999", h.available(1, "BTC"))
	dEqual(t, "500", h.available(1, "USDT"), "reserved 510, spent 500")
	dEqual(t, "0", h.onHold(1, "USDT"))
	dEqual(t, "499.5", h.available(2, "USDT"))
	dEqual(t, "0.09", h.available(2, "BTC"))
	dEqual(t, "0.00001", h.available(feeUser, "BTC"))
	dEqual(t, "0.5", h.available(feeUser, "USDT"))

	dEqual(t, "1000", h.total("USDT", 1, 2))
	dEqual(t, "0.1", h.total("BTC", 1, 2))

	trades := h.bus.ofKind(event.KindTrade)
	require.Len(t, trades, 1)
	tr := trades[0].Payload.(event.Trade)
	assert.Equal(t, taker.Order.ID, tr.TakerOrderID)
	dEqual(t, "50000", h.view().LastPrice)
}

func TestMarketByCostRefundsBudget(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")
	h.limit(2, order.Sell, "0.01", "50000")

	res, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.MarketByCost, Cost: d("1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, order.Closed, res.Order.State)
	dEqual(t, "0.01", res.Order.Filled)
	dEqual(t, "0.01", h.available(1, "BTC"))
	dEqual(t, "500", h.available(1, "USDT"))
	dEqual(t, "0", h.onHold(1, "USDT"))
}

func TestMarketWithoutLiquidityIsCancelled(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")

	res, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.MarketByCost, Cost: d("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, order.Cancelled, res.Order.State)
	dEqual(t, "1000", h.available(1, "USDT"))
	dEqual(t, "0", h.onHold(1, "USDT"))
}

func TestPlaceRejections(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "100")
	ctx := context.Background()

	tests := []struct {
		name string
		req  PlaceRequest
		code errs.Code
	}{
		{
			name: "insufficient funds",
			req:  PlaceRequest{Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.Limit, Quantity: d("1"), Price: d("50000")},
			code: errs.CodeInsufficientFunds,
		},
		{
			name: "zero quantity",
			req:  PlaceRequest{Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.Limit, Quantity: d("0"), Price: d("50000")},
			code: errs.CodeInvalidQuantity,
		},
		{
			name: "price off the tick",
			req:  PlaceRequest{Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.Limit, Quantity: d("0.001"), Price: d("50000.001")},
			code: errs.CodeInvalidPrice,
		},
		{
			name: "stop without stop price",
			req:  PlaceRequest{Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.StopLimit, Quantity: d("0.001"), Price: d("50000")},
			code: errs.CodeInvalidStop,
		},
		{
			name: "unknown pair",
			req:  PlaceRequest{Pair: "ETH-USDT", UserID: 1, Side: order.Buy, Kind: order.Limit, Quantity: d("0.001"), Price: d("50000")},
			code: errs.CodePairDisabled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Place(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
	dEqual(t, "100", h.available(1, "USDT"), "rejections leave no trace")
}

func TestPlaceIsIdempotentPerClientID(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	req := PlaceRequest{Pair: pairCode, UserID: 1, ClientID: "c-1", Side: order.Buy, Kind: order.Limit, Quantity: d("0.01"), Price: d("50000")}

	first, err := h.svc.Place(context.Background(), req)
	require.NoError(t, err)
	second, err := h.svc.Place(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	dEqual(t, "500", h.onHold(1, "USDT"))

	req.UserID = 2
	h.deposit(2, "USDT", "1000")
	other, err := h.svc.Place(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.ID, other.Order.ID, "client ids are scoped per user")
}

func TestCancelReleasesAndCoalesces(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(2, "BTC", "0.1")
	placed := h.limit(2, order.Sell, "0.05", "60000")
	ctx := context.Background()

	res, err := h.svc.Cancel(ctx, 2, placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Cancelled, res.Order.State)
	require.Len(t, res.Executions, 1)
	assert.True(t, res.Executions[0].Cancelled)
	dEqual(t, "0.05", res.Executions[0].Quantity)
	dEqual(t, "0.1", h.available(2, "BTC"))
	dEqual(t, "0", h.onHold(2, "BTC"))
	assert.Empty(t, h.view().Asks)

	again, err := h.svc.Cancel(ctx, 2, placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, again.Order.ID)
	dEqual(t, "0.1", h.available(2, "BTC"), "second cancel releases nothing")

	_, err = h.svc.Cancel(ctx, 3, placed.Order.ID)
	assert.Equal(t, errs.CodeOrderNotFound, errs.CodeOf(err))

	_, err = h.svc.Cancel(ctx, 2, 424242)
	assert.Equal(t, errs.CodeOrderNotFound, errs.CodeOf(err))
}

func TestCancelClosedOrder(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")
	h.limit(2, order.Sell, "0.01", "50000")
	taker := h.limit(1, order.Buy, "0.01", "50000")

	_, err := h.svc.Cancel(context.Background(), 1, taker.Order.ID)
	assert.Equal(t, errs.CodeOrderNotOpen, errs.CodeOf(err))

	market, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.MarketByCost, Cost: d("10"),
	})
	require.NoError(t, err)
	_, err = h.svc.Cancel(context.Background(), 1, market.Order.ID)
	assert.Equal(t, errs.CodeCannotCancelMarket, errs.CodeOf(err))
}

func TestStopLimitTriggersOnTrade(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")
	h.deposit(3, "USDT", "1000")

	stop, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 3, Side: order.Buy, Kind: order.StopLimit,
		Quantity: d("0.01"), Price: d("51000"), Stop: d("50000"),
	})
	require.NoError(t, err)
	assert.False(t, stop.Order.InStack)
	assert.Empty(t, h.view().Bids, "stop waits off the book")
	dEqual(t, "510", h.onHold(3, "USDT"))

	h.limit(2, order.Sell, "0.01", "50000")
	h.limit(1, order.Buy, "0.01", "50000")

	require.Eventually(t, func() bool {
		return h.view().TopBid().Equal(d("51000"))
	}, time.Second, 5*time.Millisecond)

	stored, err := h.svc.Order(context.Background(), stop.Order.ID)
	require.NoError(t, err)
	assert.True(t, stored.InStack)
	assert.Equal(t, order.Open, stored.State)
	dEqual(t, "510", h.onHold(3, "USDT"))
}

func TestDeviationGuard(t *testing.T) {
	h := newHarness(t, setup{deviation: "10", customPrice: "50000"})
	h.deposit(1, "USDT", "10000")

	_, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.Limit, Quantity: d("0.01"), Price: d("60000"),
	})
	assert.Equal(t, errs.CodePriceDeviation, errs.CodeOf(err))

	h.limit(1, order.Buy, "0.01", "52000")
}

func TestDepositPersistsAndPublishes(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(7, "btc", "1.5")

	dEqual(t, "1.5", h.available(7, "BTC"))
	var seen []ledger.Transaction
	require.NoError(t, h.st.ForEachTransaction(context.Background(), func(tx ledger.Transaction) error {
		seen = append(seen, tx)
		return nil
	}))
	require.Len(t, seen, 1)
	assert.Equal(t, ledger.ReasonDeposit, seen[0].Reason)
	require.Len(t, h.bus.ofKind(event.KindBalanceChanged), 1)

	_, err := h.svc.Deposit(context.Background(), 7, "BTC", d("-1"))
	assert.Equal(t, errs.CodeInvalidQuantity, errs.CodeOf(err))
}

func TestTimeoutWhenWorkerIsBusy(t *testing.T) {
	h := newHarness(t, setup{idle: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.svc.Place(ctx, PlaceRequest{
		Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.Limit, Quantity: d("0.01"), Price: d("50000"),
	})
	assert.Equal(t, errs.CodeTimeout, errs.CodeOf(err))
}

func TestRetryAfterTimeoutPlacesOnce(t *testing.T) {
	h := newHarness(t, setup{idle: true})
	h.deposit(1, "USDT", "1000")
	req := PlaceRequest{Pair: pairCode, UserID: 1, ClientID: "c-1", Side: order.Buy, Kind: order.Limit, Quantity: d("0.01"), Price: d("50000")}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.svc.Place(ctx, req)
	require.Equal(t, errs.CodeTimeout, errs.CodeOf(err))

	// the queued place still runs once the worker starts
	h.resume()
	res, err := h.svc.Place(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, order.Open, res.Order.State)

	dEqual(t, "500", h.onHold(1, "USDT"))
	dEqual(t, "500", h.available(1, "USDT"))
	bids := h.view().Bids
	require.Len(t, bids, 1)
	require.Len(t, bids[0].Orders, 1)
	assert.Equal(t, res.Order.ID, bids[0].Orders[0].ID)
}

// flakyJournal rejects the first failures appends of kind t.
type flakyJournal struct {
	mu       sync.Mutex
	t        entrywal.RecordType
	failures int
	last     uint64
}

func (j *flakyJournal) Append(r *entrywal.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if r.Type == j.t && j.failures > 0 {
		j.failures--
		return errors.New("disk full")
	}
	j.last = r.Seq
	return nil
}

func (j *flakyJournal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

func (j *flakyJournal) TruncateBefore(uint64) (int, error) { return 0, nil }

func TestFailedStopTriggerIsRetried(t *testing.T) {
	j := &flakyJournal{t: entrywal.RecordStopTrigger, failures: 1}
	h := newHarness(t, setup{journals: func(string) (Journal, error) { return j, nil }})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")
	h.deposit(3, "USDT", "1000")

	stop, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 3, Side: order.Buy, Kind: order.StopLimit,
		Quantity: d("0.01"), Price: d("51000"), Stop: d("50000"),
	})
	require.NoError(t, err)

	h.limit(2, order.Sell, "0.01", "50000")
	h.limit(1, order.Buy, "0.01", "50000")
	// the next command drains the stop again
	h.limit(1, order.Buy, "0.01", "40000")

	require.Eventually(t, func() bool {
		return h.view().TopBid().Equal(d("51000"))
	}, time.Second, 5*time.Millisecond)
	bids := h.view().Bids
	require.Len(t, bids[0].Orders, 1)
	assert.Equal(t, stop.Order.ID, bids[0].Orders[0].ID)
	dEqual(t, "510", h.onHold(3, "USDT"))
}

func TestTriggeredStopIsTheTaker(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")
	h.deposit(3, "USDT", "1000")

	stop, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 3, Side: order.Buy, Kind: order.StopLimit,
		Quantity: d("0.01"), Price: d("51000"), Stop: d("50000"),
	})
	require.NoError(t, err)
	h.limit(2, order.Sell, "0.01", "50000")
	later := h.limit(2, order.Sell, "0.01", "50500")
	h.limit(1, order.Buy, "0.01", "50000")

	var trade event.Trade
	require.Eventually(t, func() bool {
		for _, e := range h.bus.ofKind(event.KindTrade) {
			if tr := e.Payload.(event.Trade); tr.MakerOrderID == later.Order.ID {
				trade = tr
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, stop.Order.ID, trade.TakerOrderID)
	assert.Equal(t, order.Buy.String(), trade.TakerSide)
	dEqual(t, "50500", trade.Price)
	assert.Len(t, h.bus.ofKind(event.KindTrade), 2, "one trade per fill")
}
