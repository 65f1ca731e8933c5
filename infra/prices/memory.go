// Package prices provides the shared external reference price feeds used for
// deviation checks and OTC repricing.
package prices

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type quote struct {
	price decimal.Decimal
	at    time.Time
}

// Memory is a process-local price table. Entries older than ttl are treated
// as absent; a zero ttl keeps them forever.
type Memory struct {
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	quotes map[string]quote
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, quotes: make(map[string]quote)}
}

func (m *Memory) Set(pair string, price decimal.Decimal) {
	m.mu.Lock()
	m.quotes[pair] = quote{price: price, at: m.now()}
	m.mu.Unlock()
}

func (m *Memory) Price(_ context.Context, pair string) (decimal.Decimal, bool) {
	m.mu.RLock()
	q, ok := m.quotes[pair]
	m.mu.RUnlock()
	if !ok || q.price.Sign() <= 0 {
		return decimal.Zero, false
	}
	if m.ttl > 0 && m.now().Sub(q.at) > m.ttl {
		return decimal.Zero, false
	}
	return q.price, true
}

// Source is satisfied by every feed in this package.
type Source interface {
	Price(ctx context.Context, pair string) (decimal.Decimal, bool)
}

// Chain asks each source in turn and returns the first price found.
type Chain []Source

func (c Chain) Price(ctx context.Context, pair string) (decimal.Decimal, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if p, ok := s.Price(ctx, pair); ok {
			return p, true
		}
	}
	return decimal.Zero, false
}
