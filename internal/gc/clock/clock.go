// Package clock abstracts wall-clock time for the GC pacing components.
//
// The interval pacer and the adaptive policy's timer goroutine never call
// the time package directly. They go through a Clock so that tests can
// drive time deterministically with a Manual clock instead of sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a one-shot timer created by a Clock.
type Timer interface {
	// C returns the channel that receives the fire time.
	C() <-chan time.Time

	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer (false if it already fired or was stopped).
	Stop() bool
}

// Clock is a source of time.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// System returns the Clock backed by the time package.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }

// Manual is a Clock that only moves when Advance is called.
//
// Goroutines blocked on a Manual timer are released by Advance once the
// timer's deadline has been reached. WaitForPending lets a test wait until
// a background goroutine has armed a timer, which is how timer-driven code
// is synchronised without sleeps.
//
// Thread Safety: all methods are safe for concurrent use.
type Manual struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*manualTimer
}

// NewManual creates a Manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	m := &Manual{now: start}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTimer arms a timer that fires once the clock reaches now+d.
// A non-positive d fires immediately.
func (m *Manual) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTimer{
		clock:    m,
		deadline: m.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	if d <= 0 {
		t.fired = true
		t.ch <- m.now
		return t
	}
	m.waiters = append(m.waiters, t)
	m.cond.Broadcast()
	return t
}

// Advance moves the clock forward by d and fires every timer whose
// deadline has been reached, in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)

	sort.SliceStable(m.waiters, func(i, j int) bool {
		return m.waiters[i].deadline.Before(m.waiters[j].deadline)
	})
	kept := m.waiters[:0]
	for _, t := range m.waiters {
		if t.deadline.After(m.now) {
			kept = append(kept, t)
			continue
		}
		t.fired = true
		t.ch <- m.now
	}
	for i := len(kept); i < len(m.waiters); i++ {
		m.waiters[i] = nil
	}
	m.waiters = kept
	m.cond.Broadcast()
}

// WaitForPending blocks until some armed timer has a deadline at or after
// deadline.
func (m *Manual) WaitForPending(deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.hasPendingLocked(deadline) {
		m.cond.Wait()
	}
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func (m *Manual) hasPendingLocked(deadline time.Time) bool {
	for _, t := range m.waiters {
		if !t.deadline.Before(deadline) {
			return true
		}
	}
	return false
}

type manualTimer struct {
	clock    *Manual
	deadline time.Time
	ch       chan time.Time
	fired    bool
	stopped  bool
}

func (t *manualTimer) C() <-chan time.Time { return t.ch }

func (t *manualTimer) Stop() bool {
	m := t.clock
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	for i, w := range m.waiters {
		if w == t {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			break
		}
	}
	m.cond.Broadcast()
	return true
}
