package bus

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"spotex/domain/event"
)

// Dedup drops redelivered events for subscribers that must be idempotent.
// Trades are keyed by their order pair, everything else by event id.
type Dedup struct {
	seen *expirable.LRU[string, struct{}]
}

func NewDedup(size int, ttl time.Duration) *Dedup {
	return &Dedup{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// First reports whether e has not been seen within the window and records it.
func (d *Dedup) First(e event.Event) bool {
	k := e.DedupKey()
	if d.seen.Contains(k) {
		return false
	}
	d.seen.Add(k, struct{}{})
	return true
}
