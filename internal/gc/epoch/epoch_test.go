package epoch

import (
	"sync"
	"testing"
	"time"
)

// TestEpochString tests the printable form.
func TestEpochString(t *testing.T) {
	tests := []struct {
		e    Epoch
		want string
	}{
		{0, "#0"},
		{1, "#1"},
		{18446744073709551615, "#18446744073709551615"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("Epoch(%d).String() = %q, want %q", uint64(tt.e), got, tt.want)
		}
	}
}

// TestScheduleCoalesces verifies that requests before the cycle starts
// share one epoch and that a new epoch follows once it has started.
func TestScheduleCoalesces(t *testing.T) {
	s := NewState()

	e1, isNew := s.Schedule()
	if e1 != 1 || !isNew {
		t.Fatalf("Schedule() = (%v, %v), want (#1, true)", e1, isNew)
	}
	e2, isNew := s.Schedule()
	if e2 != 1 || isNew {
		t.Fatalf("second Schedule() = (%v, %v), want (#1, false)", e2, isNew)
	}

	s.Start(1)
	e3, isNew := s.Schedule()
	if e3 != 2 || !isNew {
		t.Fatalf("Schedule() after Start = (%v, %v), want (#2, true)", e3, isNew)
	}
}

// TestMonotonic verifies that stale reports are ignored.
func TestMonotonic(t *testing.T) {
	s := NewState()
	s.Schedule()
	s.Start(1)
	s.Finish(1)
	s.Schedule()
	s.Start(2)
	s.Finish(2)

	s.Finish(1)
	s.Start(1)
	if got := s.Finished(); got != 2 {
		t.Errorf("Finished() = %v, want #2", got)
	}
	if got := s.Started(); got != 2 {
		t.Errorf("Started() = %v, want #2", got)
	}

	s.Finalize(2)
	if got := s.Finalized(); got != 2 {
		t.Errorf("Finalized() = %v, want #2", got)
	}
}

// TestFinalizeRaisesEarlierStages verifies that a finalize report implies
// the earlier stages.
func TestFinalizeRaisesEarlierStages(t *testing.T) {
	s := NewState()
	s.Finalize(3)
	if s.Scheduled() != 3 || s.Started() != 3 || s.Finished() != 3 {
		t.Errorf("stages = %v/%v/%v, want #3/#3/#3", s.Scheduled(), s.Started(), s.Finished())
	}
}

// TestWaitFinishedLaterEpoch verifies that a waiter is released by any
// epoch at or after the awaited one.
func TestWaitFinishedLaterEpoch(t *testing.T) {
	s := NewState()
	e, _ := s.Schedule()

	done := make(chan struct{})
	go func() {
		s.WaitFinished(e)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitFinished returned before any cycle finished")
	case <-time.After(10 * time.Millisecond):
	}

	s.Start(e + 1)
	s.Finish(e + 1)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitFinished did not return")
	}
}

// TestWaitScheduled verifies the pull loop used by a collector goroutine.
func TestWaitScheduled(t *testing.T) {
	s := NewState()
	got := make(chan Epoch, 1)
	go func() {
		e, ok := s.WaitScheduled()
		if !ok {
			e = 0
		}
		got <- e
	}()

	s.Schedule()
	select {
	case e := <-got:
		if e != 1 {
			t.Errorf("WaitScheduled() = %v, want #1", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitScheduled did not return")
	}
}

// TestShutdownIsSticky verifies that Shutdown releases waiters and that
// later calls do not block.
func TestShutdownIsSticky(t *testing.T) {
	s := NewState()
	e, _ := s.Schedule()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.WaitFinalized(e)
		}()
	}

	s.Shutdown()
	s.Shutdown()
	wg.Wait()

	if got, isNew := s.Schedule(); got != 0 || isNew {
		t.Errorf("Schedule() after Shutdown = (%v, %v), want (#0, false)", got, isNew)
	}
	if _, ok := s.WaitScheduled(); ok {
		t.Error("WaitScheduled() after Shutdown ok = true")
	}
	s.WaitFinished(100)
	if !s.IsShutdown() {
		t.Error("IsShutdown() = false")
	}
}
