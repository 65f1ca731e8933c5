package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex/domain/errs"
	"spotex/domain/order"
	"spotex/infra/store"
	entrywal "spotex/infra/wal/entry"
)

func TestRestartRebuildsBooksAndBalances(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")
	h.deposit(3, "USDT", "1000")

	bid := h.limit(1, order.Buy, "0.01", "49000")
	h.limit(2, order.Sell, "0.02", "50000")
	stop, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 3, Side: order.Buy, Kind: order.StopLimit,
		Quantity: d("0.01"), Price: d("52000"), Stop: d("50000"),
	})
	require.NoError(t, err)

	h.start()

	v := h.view()
	dEqual(t, "49000", v.TopBid())
	dEqual(t, "50000", v.TopAsk())
	require.Len(t, v.Bids, 1)
	assert.Equal(t, bid.Order.ID, v.Bids[0].Orders[0].ID)

	dEqual(t, "510", h.available(1, "USDT"))
	dEqual(t, "490", h.onHold(1, "USDT"))
	dEqual(t, "0.08", h.available(2, "BTC"))
	dEqual(t, "0.02", h.onHold(2, "BTC"))
	dEqual(t, "520", h.onHold(3, "USDT"))

	next := h.limit(1, order.Buy, "0.01", "50000")
	assert.Greater(t, next.Order.ID, stop.Order.ID, "ids continue after the restart")
	assert.Equal(t, order.Closed, next.Order.State)

	// the trade at 50000 activates the restored stop, which takes the rest of the ask
	require.Eventually(t, func() bool {
		return len(h.view().Asks) == 0
	}, time.Second, 5*time.Millisecond)
	stored, err := h.svc.Order(context.Background(), stop.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Closed, stored.State)
}

func TestRestartMatchesCrossedOrders(t *testing.T) {
	h := newHarness(t, setup{})
	h.deposit(1, "USDT", "1000")
	h.deposit(2, "BTC", "0.1")
	ask := h.limit(2, order.Sell, "0.01", "50000")
	bid := h.limit(1, order.Buy, "0.01", "49000")

	// a book left crossed by a write the worker never applied
	o, err := h.st.Order(context.Background(), ask.Order.ID)
	require.NoError(t, err)
	o.Price = d("49000")
	require.NoError(t, h.st.Commit(context.Background(), &store.Changeset{Orders: []*order.Order{o}}))

	h.start()

	v := h.view()
	assert.Empty(t, v.Bids)
	assert.Empty(t, v.Asks)
	for _, id := range []uint64{ask.Order.ID, bid.Order.ID} {
		stored, err := h.svc.Order(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, order.Closed, stored.State)
	}
	dEqual(t, "0.01", h.available(1, "BTC"))
	dEqual(t, "0", h.onHold(1, "USDT"))
	dEqual(t, "490", h.available(2, "USDT"))
}

func TestJournalRecordsCommands(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, setup{journals: func(pair string) (Journal, error) {
		return entrywal.Open(entrywal.Config{Dir: filepath.Join(dir, pair), SegmentSize: 1})
	}})
	h.deposit(1, "USDT", "1000")
	placed := h.limit(1, order.Buy, "0.01", "50000")

	// commands the ledger rejects leave no record
	_, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: 1, Side: order.Buy, Kind: order.Limit, Quantity: d("1"), Price: d("50000"),
	})
	require.Equal(t, errs.CodeInsufficientFunds, errs.CodeOf(err))
	_, err = h.svc.Update(context.Background(), UpdateRequest{OrderID: placed.Order.ID, UserID: 1, Price: some("200000")})
	require.Equal(t, errs.CodeInsufficientFunds, errs.CodeOf(err))

	_, err = h.svc.Cancel(context.Background(), 1, placed.Order.ID)
	require.NoError(t, err)

	var entries []JournalEntry
	last, err := ReplayJournal(filepath.Join(dir, pairCode), 0, func(e JournalEntry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
	require.Len(t, entries, 2)
	assert.Equal(t, entrywal.RecordPlace, entries[0].Type)
	assert.Equal(t, placed.Order.ID, entries[0].Command.OrderID)
	dEqual(t, "50000", entries[0].Command.Price)
	assert.Equal(t, entrywal.RecordCancel, entries[1].Type)

	marks := make(map[string][]journalMark)
	h.svc.retainJournals(marks, h.now, time.Hour)
	h.svc.retainJournals(marks, h.now.Add(2*time.Hour), time.Hour)

	entries = nil
	_, err = ReplayJournal(filepath.Join(dir, pairCode), 0, func(e JournalEntry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
