package sequence

import (
	"sync"
	"testing"
)

func TestNextIsMonotonic(t *testing.T) {
	s := New(41)
	if got := s.Next(); got != 42 {
		t.Fatalf("first id = %d, want 42", got)
	}
	if got := s.Current(); got != 42 {
		t.Fatalf("current = %d, want 42", got)
	}
}

func TestAdvanceNeverMovesBack(t *testing.T) {
	s := New(100)
	s.Advance(50)
	if s.Current() != 100 {
		t.Fatalf("advance moved sequencer back to %d", s.Current())
	}
	s.Advance(200)
	if s.Next() != 201 {
		t.Fatalf("expected 201 after advance")
	}
}

func TestConcurrentNextUnique(t *testing.T) {
	s := New(0)
	const workers, per = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, s.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("got %d unique ids, want %d", len(seen), workers*per)
	}
}
