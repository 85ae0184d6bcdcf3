package relay

import (
	"sync"
	"testing"
)

func TestStepStoreAdvancesPerConversation(t *testing.T) {
	s := NewStepStore()

	if got := s.Next("a"); got != 0 {
		t.Errorf("first step = %d, want 0", got)
	}
	if got := s.Next("a"); got != 1 {
		t.Errorf("second step = %d, want 1", got)
	}
	if got := s.Next("b"); got != 0 {
		t.Errorf("other conversation step = %d, want 0", got)
	}
}

func TestStepStoreReset(t *testing.T) {
	s := NewStepStore()
	s.Next("a")
	s.Next("a")
	s.Reset("a")

	if got := s.Next("a"); got != 0 {
		t.Errorf("step after reset = %d, want 0", got)
	}
}

func TestStepStoreConcurrent(t *testing.T) {
	s := NewStepStore()
	const n = 100

	var wg sync.WaitGroup
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Next("shared")
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for step := range results {
		if seen[step] {
			t.Fatalf("step %d handed out twice", step)
		}
		seen[step] = true
	}
	if len(seen) != n {
		t.Errorf("distinct steps = %d, want %d", len(seen), n)
	}
}
