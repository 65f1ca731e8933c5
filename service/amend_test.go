package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex/domain/errs"
	"spotex/domain/order"
)

func some(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func TestUpdateMovesOrderAndHold(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	placed := h.limit(1, order.Buy, "0.01", "50000")

	res, err := h.svc.Update(context.Background(), UpdateRequest{
		OrderID: placed.Order.ID, UserID: 1, Price: some("40000"), Quantity: some("0.02"),
	})
	require.NoError(t, err)
	assert.Equal(t, order.Open, res.Order.State)
	dEqual(t, "0.02", res.Order.QuantityLeft)
	dEqual(t, "800", h.onHold(1, "USDT"))
	dEqual(t, "200", h.available(1, "USDT"))

	v := h.view()
	require.Len(t, v.Bids, 1)
	dEqual(t, "40000", v.TopBid())
	assert.Equal(t, placed.Order.ID, v.Bids[0].Orders[0].ID)

	res, err = h.svc.Update(context.Background(), UpdateRequest{OrderID: placed.Order.ID, UserID: 1, Quantity: some("0.005")})
	require.NoError(t, err)
	dEqual(t, "200", h.onHold(1, "USDT"), "shrinking returns the difference")
	dEqual(t, "800", h.available(1, "USDT"))
}

func TestUpdateResetsTimePriority(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(2, "BTC", "1")
	first := h.limit(2, order.Sell, "0.01", "50000")
	second := h.limit(2, order.Sell, "0.01", "50000")

	_, err := h.svc.Update(context.Background(), UpdateRequest{OrderID: first.Order.ID, UserID: 2, Quantity: some("0.02")})
	require.NoError(t, err)

	asks := h.view().Asks
	require.Len(t, asks, 1)
	require.Len(t, asks[0].Orders, 2)
	assert.Equal(t, second.Order.ID, asks[0].Orders[0].ID)
	assert.Equal(t, first.Order.ID, asks[0].Orders[1].ID)
}

func TestUpdateThatCrossesExecutes(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")
	h.limit(2, order.Sell, "0.01", "50000")
	bid := h.limit(1, order.Buy, "0.01", "49000")
	dEqual(t, "490", h.onHold(1, "USDT"))

	res, err := h.svc.Update(context.Background(), UpdateRequest{OrderID: bid.Order.ID, UserID: 1, Price: some("50000")})
	require.NoError(t, err)
	assert.Equal(t, order.Closed, res.Order.State)
	require.Len(t, res.Executions, 1)
	dEqual(t, "0.01", h.available(1, "BTC"))
	dEqual(t, "500", h.available(1, "USDT"))
	dEqual(t, "0", h.onHold(1, "USDT"))
	assert.Empty(t, h.view().Asks)
	assert.Empty(t, h.view().Bids)
}

func TestUpdateRejections(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	bid := h.limit(1, order.Buy, "0.01", "50000")
	ctx := context.Background()

	_, err := h.svc.Update(ctx, UpdateRequest{OrderID: bid.Order.ID, UserID: 1, Quantity: some("0")})
	assert.Equal(t, errs.CodeInvalidQuantity, errs.CodeOf(err))

	_, err = h.svc.Update(ctx, UpdateRequest{OrderID: bid.Order.ID, UserID: 1, Stop: some("1000")})
	assert.Equal(t, errs.CodeCannotUpdateOrder, errs.CodeOf(err))

	_, err = h.svc.Update(ctx, UpdateRequest{OrderID: bid.Order.ID, UserID: 1, Price: some("200000")})
	assert.Equal(t, errs.CodeInsufficientFunds, errs.CodeOf(err))
	dEqual(t, "500", h.onHold(1, "USDT"), "failed update keeps the old hold")

	_, err = h.svc.Update(ctx, UpdateRequest{OrderID: bid.Order.ID, UserID: 2, Price: some("40000")})
	assert.Equal(t, errs.CodeOrderNotFound, errs.CodeOf(err))

	_, err = h.svc.Cancel(ctx, 1, bid.Order.ID)
	require.NoError(t, err)
	_, err = h.svc.Update(ctx, UpdateRequest{OrderID: bid.Order.ID, UserID: 1, Price: some("40000")})
	assert.Equal(t, errs.CodeOrderNotOpen, errs.CodeOf(err))
}

func TestUpdateStopPrice(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(3, "BTC", "1")
	stop, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 3, Side: order.Sell, Kind: order.StopLimit,
		Quantity: d("0.1"), Price: d("45000"), Stop: d("46000"),
	})
	require.NoError(t, err)

	res, err := h.svc.Update(context.Background(), UpdateRequest{OrderID: stop.Order.ID, UserID: 3, Stop: some("47000")})
	require.NoError(t, err)
	dEqual(t, "47000", res.Order.Stop)
	assert.False(t, res.Order.InStack)
	assert.Empty(t, h.view().Asks)
	dEqual(t, "0.1", h.onHold(3, "BTC"))
}

func TestOTCOrderFollowsReference(t *testing.T) {
	h := newHarness(t, setup{noAuto: []uint64{9}})
	h.prices.Set(pairCode, d("50000"))
	h.deposit(1, "USDT", "1000")
	h.deposit(9, "USDT", "1000")
	ctx := context.Background()

	placed, err := h.svc.Place(ctx, PlaceRequest{
		Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.External,
		Quantity: d("0.01"), OTCPercent: d("-1"),
	})
	require.NoError(t, err)
	dEqual(t, "49500", placed.Order.Price)
	dEqual(t, "495", h.onHold(1, "USDT"))

	h.prices.Set(pairCode, d("51000"))
	res, err := h.svc.OTCBulkUpdate(ctx, pairCode)
	require.NoError(t, err)
	assert.Equal(t, []uint64{placed.Order.ID}, res.Repriced)
	dEqual(t, "50490", h.view().TopBid())
	dEqual(t, "504.9", h.onHold(1, "USDT"))

	res, err = h.svc.OTCBulkUpdate(ctx, pairCode)
	require.NoError(t, err)
	assert.Empty(t, res.Repriced, "unchanged reference moves nothing")

	_, err = h.svc.Update(ctx, UpdateRequest{OrderID: placed.Order.ID, UserID: 1, Price: some("50000")})
	assert.Equal(t, errs.CodeCannotUpdateOrder, errs.CodeOf(err))

	_, err = h.svc.Place(ctx, PlaceRequest{
		Pair: pairCode, UserID: 9, Side: order.Buy, Kind: order.External, Quantity: d("0.01"),
	})
	assert.Equal(t, errs.CodeAutoOrdersDisabledForUser, errs.CodeOf(err))

	_, err = h.svc.Place(ctx, PlaceRequest{
		Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.External, Quantity: d("0.01"), OTCPercent: d("20"),
	})
	assert.Equal(t, errs.CodeInvalidPrice, errs.CodeOf(err))
}
