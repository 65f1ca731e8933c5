// Package bus fans core events out to in-process subscribers by topic and
// hands every batch to durable sinks. Subscribers each get an ordered queue
// so one slow consumer never blocks a pair worker.
package bus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"spotex/domain/event"
)

// Sink receives every published batch. A failing sink is retried until it
// accepts the batch.
type Sink interface {
	Push(ctx context.Context, events ...event.Event) error
}

type Config struct {
	// MaxPending closes a subscription whose queue grows past it.
	MaxPending int
	// RetryInterval paces redelivery to failing sinks.
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPending <= 0 {
		c.MaxPending = 10000
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	return c
}

type Bus struct {
	cfg Config
	log *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[int]*Subscription
	all    map[int]*Subscription
	nextID int

	sinks []Sink

	retryMu sync.Mutex
	retry   []pending
}

type pending struct {
	sink   Sink
	events []event.Event
}

func New(cfg Config, log *zap.Logger) *Bus {
	return &Bus{
		cfg:    cfg.withDefaults(),
		log:    log.Named("bus"),
		topics: make(map[string]map[int]*Subscription),
		all:    make(map[int]*Subscription),
	}
}

// AddSink registers a durable consumer. Call before publishing starts.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Subscribe returns a subscription to the given topics; no topics means every event.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := newSubscription(b, b.nextID, topics, b.cfg.MaxPending)
	if len(topics) == 0 {
		b.all[s.id] = s
	}
	for _, t := range topics {
		m, ok := b.topics[t]
		if !ok {
			m = make(map[int]*Subscription)
			b.topics[t] = m
		}
		m[s.id] = s
	}
	go s.pump()
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.all, s.id)
	for _, t := range s.topics {
		if m, ok := b.topics[t]; ok {
			delete(m, s.id)
			if len(m) == 0 {
				delete(b.topics, t)
			}
		}
	}
}

// Publish delivers events in order. It never fails the caller: sink errors
// are logged and queued for retry.
func (b *Bus) Publish(ctx context.Context, events ...event.Event) {
	if len(events) == 0 {
		return
	}

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Push(ctx, events...); err != nil {
			b.log.Warn("sink push failed, queued for retry", zap.Error(err), zap.Int("events", len(events)))
			b.retryMu.Lock()
			b.retry = append(b.retry, pending{sink: s, events: events})
			b.retryMu.Unlock()
		}
	}

	for _, e := range events {
		for _, s := range b.subscribers(e) {
			s.enqueue(e)
		}
	}
}

func (b *Bus) subscribers(e event.Event) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[int]struct{})
	var out []*Subscription
	add := func(m map[int]*Subscription) {
		for id, s := range m {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, s)
		}
	}
	add(b.all)
	for _, t := range e.Topics() {
		add(b.topics[t])
	}
	return out
}

// Run redelivers failed sink batches until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.redeliver(ctx)
		}
	}
}

func (b *Bus) redeliver(ctx context.Context) {
	b.retryMu.Lock()
	batch := b.retry
	b.retry = nil
	b.retryMu.Unlock()

	var failed []pending
	for i, p := range batch {
		if err := p.sink.Push(ctx, p.events...); err != nil {
			// keep order: everything after the first failure waits for the next round
			failed = append(failed, batch[i:]...)
			break
		}
	}
	if len(failed) == 0 {
		return
	}
	b.retryMu.Lock()
	b.retry = append(failed, b.retry...)
	b.retryMu.Unlock()
}

// Pending is the number of batches waiting for redelivery.
func (b *Bus) Pending() int {
	b.retryMu.Lock()
	defer b.retryMu.Unlock()
	return len(b.retry)
}
