package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotex/domain/event"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPushKeepsOnlySnapshots(t *testing.T) {
	fw := &fakeWriter{}
	p := &Producer{writer: fw, timeout: time.Second}
	at := time.Unix(10, 0)

	require.NoError(t, p.Push(context.Background(),
		event.NewBookSnapshot(event.BookSnapshot{Pair: "BTC-USDT", At: at}),
		event.NewTrade(event.Trade{Pair: "BTC-USDT", At: at}),
		event.NewPrecisionSnapshot(event.PrecisionSnapshot{Pair: "BTC-USDT", Precision: decimal.NewFromInt(10), At: at}),
	))

	require.Len(t, fw.msgs, 2)
	assert.Equal(t, "pair.BTC-USDT", string(fw.msgs[0].Key))
	assert.Equal(t, "pair.BTC-USDT@10", string(fw.msgs[1].Key))
	assert.Contains(t, string(fw.msgs[0].Value), `"kind":"book_snapshot"`)
}

func TestPushNothing(t *testing.T) {
	fw := &fakeWriter{}
	p := &Producer{writer: fw, timeout: time.Second}
	require.NoError(t, p.Push(context.Background()))
	assert.Empty(t, fw.msgs)
}
