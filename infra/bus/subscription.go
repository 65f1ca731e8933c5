package bus

import (
	"sync"

	"spotex/domain/event"
)

// Subscription is a per-subscriber ordered event stream. Read from C.
type Subscription struct {
	C <-chan event.Event

	id     int
	topics []string
	bus    *Bus
	out    chan event.Event

	mu         sync.Mutex
	queue      []event.Event
	maxPending int
	notify     chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

func newSubscription(b *Bus, id int, topics []string, maxPending int) *Subscription {
	out := make(chan event.Event, 64)
	return &Subscription{
		C:          out,
		id:         id,
		topics:     topics,
		bus:        b,
		out:        out,
		maxPending: maxPending,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (s *Subscription) enqueue(e event.Event) {
	s.mu.Lock()
	if len(s.queue) >= s.maxPending {
		s.mu.Unlock()
		s.bus.log.Warn("slow subscriber dropped")
		s.Close()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()

			for _, e := range batch {
				select {
				case s.out <- e:
				case <-s.done:
					return
				}
			}
		}
	}
}

// Close stops delivery; C is closed once the pump exits.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.bus.unsubscribe(s)
	})
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }
