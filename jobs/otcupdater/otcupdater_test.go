package otcupdater

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spotex/service"
)

type fakeRepricer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeRepricer) OTCBulkUpdate(_ context.Context, pair string) (service.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pair)
	if f.fail[pair] {
		return service.Result{}, errors.New("feed stale")
	}
	return service.Result{Repriced: []uint64{1, 2}}, nil
}

func (f *fakeRepricer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRoundSkipsFailingPairs(t *testing.T) {
	svc := &fakeRepricer{fail: map[string]bool{"ETH-USDT": true}}
	u := New(svc, func() []string { return []string{"BTC-USDT", "ETH-USDT", "LTC-USDT"} }, time.Second, zap.NewNop())

	assert.Equal(t, 4, u.Round(context.Background()))
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT", "LTC-USDT"}, svc.calls)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	svc := &fakeRepricer{}
	u := New(svc, func() []string { return []string{"BTC-USDT"} }, 10*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
