package guard

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueSerializesSameKey(t *testing.T) {
	q := NewQueue()

	var mu sync.Mutex
	var order []int
	inFlight := 0
	maxInFlight := 0

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			<-start
			// Stagger arrivals so enqueue order is deterministic enough to
			// check overlap, not strict ordering.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			q.Do("note/ev1", func() error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				order = append(order, i)
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	close(start)
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("max in flight = %d, want 1", maxInFlight)
	}
	if len(order) != 10 {
		t.Errorf("ran %d ops, want 10", len(order))
	}
}

func TestQueueReturnsOperationError(t *testing.T) {
	q := NewQueue()
	want := errors.New("disk full")

	err := q.Do("note/ev1", func() error { return want })
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}

	// The lane recovers after a failure.
	if err := q.Do("note/ev1", func() error { return nil }); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestQueueKeysAreIndependent(t *testing.T) {
	q := NewQueue()

	blocked := make(chan struct{})
	release := make(chan struct{})
	go q.Do("slow", func() error {
		close(blocked)
		<-release
		return nil
	})

	<-blocked
	done := make(chan struct{})
	go func() {
		q.Do("fast", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked behind another lane")
	}
	close(release)
}

func TestGenerations(t *testing.T) {
	g := NewGenerations()

	gen := g.Current("page/day/2026-03-10")
	if !g.Still("page/day/2026-03-10", gen) {
		t.Error("generation should be live before any bump")
	}

	next := g.Bump("page/day/2026-03-10")
	if next != gen+1 {
		t.Errorf("bump = %d, want %d", next, gen+1)
	}
	if g.Still("page/day/2026-03-10", gen) {
		t.Error("old generation should be stale after bump")
	}
	if !g.Still("page/day/2026-03-10", next) {
		t.Error("new generation should be live")
	}

	// Other keys are untouched.
	if !g.Still("page/week/2026-03-09", 0) {
		t.Error("unrelated key bumped")
	}
}
