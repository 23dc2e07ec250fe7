package sequence

import (
	"sync"
	"testing"
)

func TestNextIsMonotonic(t *testing.T) {
	s := New(10)
	if got := s.Next(); got != 11 {
		t.Fatalf("first Next = %d, want 11", got)
	}
	if got := s.Current(); got != 11 {
		t.Fatalf("Current = %d, want 11", got)
	}
}

func TestObserveOnlyMovesForward(t *testing.T) {
	s := New(5)
	s.Observe(3)
	if s.Current() != 5 {
		t.Fatalf("Observe moved backwards to %d", s.Current())
	}
	s.Observe(9)
	if s.Next() != 10 {
		t.Fatal("Next after Observe(9) should be 10")
	}
}

func TestConcurrentNextIsUnique(t *testing.T) {
	s := New(0)
	const workers, per = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*per)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, per)
			for j := 0; j < per; j++ {
				local = append(local, s.Next())
			}
			mu.Lock()
			for _, v := range local {
				seen[v] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*per {
		t.Fatalf("got %d unique sequence numbers, want %d", len(seen), workers*per)
	}
	if s.Current() != workers*per {
		t.Fatalf("Current = %d", s.Current())
	}
}
