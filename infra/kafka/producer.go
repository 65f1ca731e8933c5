// Package kafka publishes book snapshots on a compacted topic. Delivery is
// best effort: a lost snapshot is superseded by the next one.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"spotex/domain/event"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer  writer
	timeout time.Duration
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		timeout: 2 * time.Second,
	}
}

func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// Push writes snapshot events keyed by topic so each book and precision view
// compacts to its latest value. Other event kinds are ignored.
func (p *Producer) Push(ctx context.Context, events ...event.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if !e.Kind.Lossy() {
			continue
		}
		val, err := json.Marshal(e)
		if err != nil {
			return err
		}
		var key string
		if topics := e.Topics(); len(topics) > 0 {
			key = topics[0]
		}
		msgs = append(msgs, kafka.Message{Key: []byte(key), Value: val, Time: e.Time})
	}
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
