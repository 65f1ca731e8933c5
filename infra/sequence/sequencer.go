package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing ids. One instance each backs order
// ids, transaction ids and execution result ids.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose first id is start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Advance moves the sequencer forward to at least v. Used after rehydration,
// where the highest persisted id is only known once every pair has loaded.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
