// Package epoch tracks collection cycles by a monotonically increasing
// 64-bit identifier.
//
// An Epoch is assigned when a cycle is requested and is never reused. It
// correlates a scheduling request with its completion without the caller
// holding a reference to collector state: a waiter for epoch e is
// satisfied by any cycle numbered e or later reaching the awaited stage.
//
// State is the per-process record of where the latest cycles are:
//
//	scheduled >= started >= finished >= finalized
//
// Each counter only moves forward. Reports for epochs older than the one
// already recorded are ignored.
package epoch

import (
	"strconv"
	"sync"
)

// Epoch identifies one collection cycle. Zero means "no cycle".
type Epoch uint64

// String returns the decimal form of the epoch, prefixed with '#'.
func (e Epoch) String() string {
	return "#" + strconv.FormatUint(uint64(e), 10)
}

// State is the cycle state machine shared by mutators, the scheduling
// policies and the external collector.
//
// A cycle goes Idle -> Requested(e) -> MarkingDone(e) -> FinalizersDone(e).
// Requests that arrive while a cycle is requested but not yet started are
// coalesced into it.
//
// Waiting never holds a lock the collector needs: Start, Finish and
// Finalize only take mu for the counter update and broadcast.
//
// Thread Safety: all methods are safe for concurrent use.
type State struct {
	mu   sync.Mutex
	cond *sync.Cond

	scheduled Epoch
	started   Epoch
	finished  Epoch
	finalized Epoch
	shutdown  bool
}

// NewState returns an idle State.
func NewState() *State {
	s := &State{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Schedule requests a cycle and returns its epoch.
//
// If a cycle is already requested but has not started, its epoch is
// returned and isNew is false. After Shutdown, Schedule returns (0, false).
func (s *State) Schedule() (e Epoch, isNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return 0, false
	}
	if s.scheduled > s.started {
		return s.scheduled, false
	}
	s.scheduled = s.started + 1
	s.cond.Broadcast()
	return s.scheduled, true
}

// Start records that the collector began cycle e.
func (s *State) Start(e Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e <= s.started {
		return
	}
	s.started = e
	if e > s.scheduled {
		// A cycle the collector started on its own.
		s.scheduled = e
	}
	s.cond.Broadcast()
}

// Finish records that marking of cycle e is done.
func (s *State) Finish(e Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e <= s.finished {
		return
	}
	s.finished = e
	s.raiseLocked(e)
	s.cond.Broadcast()
}

// Finalize records that finalizers of cycle e have run.
func (s *State) Finalize(e Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e <= s.finalized {
		return
	}
	s.finalized = e
	if e > s.finished {
		s.finished = e
	}
	s.raiseLocked(e)
	s.cond.Broadcast()
}

func (s *State) raiseLocked(e Epoch) {
	if e > s.started {
		s.started = e
	}
	if e > s.scheduled {
		s.scheduled = e
	}
}

// WaitScheduled blocks until a cycle is requested that has not started
// yet and returns its epoch. It returns (0, false) after Shutdown.
//
// This is the loop entry point for a collector goroutine that pulls work
// rather than being called back.
func (s *State) WaitScheduled() (Epoch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.shutdown && s.scheduled <= s.started {
		s.cond.Wait()
	}
	if s.shutdown {
		return 0, false
	}
	return s.scheduled, true
}

// WaitStarted blocks until cycle e or a later one has started, or until
// Shutdown.
func (s *State) WaitStarted(e Epoch) {
	s.wait(func() bool { return s.started >= e })
}

// WaitFinished blocks until marking of cycle e or a later one is done, or
// until Shutdown.
func (s *State) WaitFinished(e Epoch) {
	s.wait(func() bool { return s.finished >= e })
}

// WaitFinalized blocks until finalizers of cycle e or a later one have
// run, or until Shutdown.
func (s *State) WaitFinalized(e Epoch) {
	s.wait(func() bool { return s.finalized >= e })
}

func (s *State) wait(done func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.shutdown && !done() {
		s.cond.Wait()
	}
}

// Shutdown releases every waiter and makes later Schedule calls no-ops.
// It is idempotent.
func (s *State) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown = true
	s.cond.Broadcast()
}

// IsShutdown reports whether Shutdown has been called.
func (s *State) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Scheduled returns the newest requested epoch.
func (s *State) Scheduled() Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Started returns the newest started epoch.
func (s *State) Started() Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Finished returns the newest epoch whose marking is done.
func (s *State) Finished() Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Finalized returns the newest epoch whose finalizers have run.
func (s *State) Finalized() Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}
