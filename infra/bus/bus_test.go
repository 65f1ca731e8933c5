package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spotex/domain/event"
)

type recordingSink struct {
	mu    sync.Mutex
	fail  int
	got   []event.Event
	calls int
}

func (r *recordingSink) Push(_ context.Context, events ...event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail > 0 {
		r.fail--
		return errors.New("unavailable")
	}
	r.got = append(r.got, events...)
	return nil
}

func (r *recordingSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func trade(pair string, taker, maker uint64) event.Event {
	return event.NewTrade(event.Trade{Pair: pair, TakerOrderID: taker, MakerOrderID: maker, At: time.Now()})
}

func recv(t *testing.T, s *Subscription) event.Event {
	t.Helper()
	select {
	case e, ok := <-s.C:
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	return event.Event{}
}

func TestTopicRoutingAndOrder(t *testing.T) {
	b := New(Config{}, zap.NewNop())
	btc := b.Subscribe(event.TradesTopic("BTC-USDT"))
	defer btc.Close()
	all := b.Subscribe()
	defer all.Close()

	b.Publish(context.Background(), trade("BTC-USDT", 2, 1), trade("ETH-USDT", 4, 3), trade("BTC-USDT", 6, 5))

	assert.Equal(t, uint64(2), recv(t, btc).Payload.(event.Trade).TakerOrderID)
	assert.Equal(t, uint64(6), recv(t, btc).Payload.(event.Trade).TakerOrderID)

	for _, want := range []uint64{2, 4, 6} {
		assert.Equal(t, want, recv(t, all).Payload.(event.Trade).TakerOrderID)
	}
}

func TestUserTopicReceivesOrderState(t *testing.T) {
	b := New(Config{}, zap.NewNop())
	sub := b.Subscribe(event.UserTopic(7))
	defer sub.Close()

	b.Publish(context.Background(),
		event.NewOrderState(event.OrderState{UserID: 8, OrderID: 1, Pair: "BTC-USDT"}),
		event.NewOrderState(event.OrderState{UserID: 7, OrderID: 2, Pair: "BTC-USDT"}),
	)
	assert.Equal(t, uint64(2), recv(t, sub).Payload.(event.OrderState).OrderID)
}

func TestFailedSinkIsRetried(t *testing.T) {
	b := New(Config{RetryInterval: 10 * time.Millisecond}, zap.NewNop())
	sink := &recordingSink{fail: 2}
	b.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	b.Publish(ctx, trade("BTC-USDT", 2, 1))
	assert.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSlowSubscriberIsClosed(t *testing.T) {
	b := New(Config{MaxPending: 1}, zap.NewNop())
	sub := b.Subscribe()

	for i := uint64(0); i < 200; i++ {
		b.Publish(context.Background(), trade("BTC-USDT", i+1, 0))
	}
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not closed")
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(16, time.Minute)
	e := trade("BTC-USDT", 2, 1)
	again := trade("BTC-USDT", 2, 1)

	assert.True(t, d.First(e))
	assert.False(t, d.First(again), "same order pair is a duplicate")
	assert.True(t, d.First(trade("BTC-USDT", 3, 1)))
}
