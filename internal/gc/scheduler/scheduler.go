package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kolkov/gcsched/internal/gc/clock"
	"github.com/kolkov/gcsched/internal/gc/config"
	"github.com/kolkov/gcsched/internal/gc/epoch"
	"github.com/kolkov/gcsched/internal/gc/mutator"
	"github.com/kolkov/gcsched/internal/gc/safepoint"
)

// Collector is the external tracer. ScheduleCollection is called once per
// new epoch; the collector later reports back through OnGCStart,
// OnGCFinish and OnGCFinalized. It must not block on the cycle.
type Collector interface {
	ScheduleCollection(e epoch.Epoch)
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func(e epoch.Epoch)

// ScheduleCollection implements Collector.
func (f CollectorFunc) ScheduleCollection(e epoch.Epoch) { f(e) }

// Pulled is the Collector of a tracer that takes work with
// Scheduler.WaitScheduled instead of being called back.
var Pulled Collector = pulled{}

type pulled struct{}

func (pulled) ScheduleCollection(epoch.Epoch) {}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	kind      Kind
	clock     clock.Clock
	lifecycle Lifecycle
	logger    *slog.Logger
	locations int
}

// WithPolicy selects the scheduling policy. The default is KindAdaptive.
func WithPolicy(k Kind) Option { return func(o *options) { o.kind = k } }

// WithClock sets the time source for the pacer and the adaptive timer.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithLifecycle sets the background/foreground observer.
func WithLifecycle(l Lifecycle) Option { return func(o *options) { o.lifecycle = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithLocationCapacity bounds the aggressive policy's location set.
func WithLocationCapacity(n int) Option { return func(o *options) { o.locations = n } }

// Scheduler is the GC scheduling facade.
//
// A cycle goes Idle -> Requested(e) -> MarkingDone(e) -> FinalizersDone(e).
// The state lives in an epoch.State; the Scheduler adds the policy, the
// registry of mutators and the hand-off to the external Collector.
//
// Example:
//
//	s := scheduler.New(cfg, scheduler.CollectorFunc(func(e epoch.Epoch) {
//		go tracer.Run(e) // calls s.OnGCStart(e), s.OnGCFinish(e, alive)...
//	}))
//	s.Start()
//	defer s.Stop()
//
//	td := s.NewMutator()
//	s.OnSafePointAllocation(td, 128)
//	s.SafePoint(td)
type Scheduler struct {
	cfg       *config.Config
	state     *epoch.State
	collector Collector
	collects  bool
	policy    Policy
	observer  SafePointObserver
	locations *safepoint.Depot
	kind      Kind
	log       *slog.Logger

	mu       sync.Mutex
	mutators map[uint64]*mutator.ThreadData

	requested   atomic.Uint64
	coalesced   atomic.Uint64
	assistWaits atomic.Uint64
}

// New creates a Scheduler that hands new epochs to collector. With a nil
// collector nothing ever completes a cycle: requests are still counted,
// but neither mutator assists nor the ScheduleAndWait calls block.
func New(cfg *config.Config, collector Collector, opts ...Option) *Scheduler {
	o := options{kind: KindAdaptive}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.clock == nil {
		o.clock = clock.System()
	}
	collects := collector != nil
	if !collects {
		collector = CollectorFunc(func(epoch.Epoch) {})
	}

	s := &Scheduler{
		cfg:       cfg,
		state:     epoch.NewState(),
		collector: collector,
		collects:  collects,
		kind:      o.kind,
		log:       o.logger.With("component", "scheduler"),
		mutators:  make(map[uint64]*mutator.ThreadData),
	}

	switch o.kind {
	case KindOnSafePoints:
		s.policy = NewOnSafePoints(cfg, o.clock, s, s.log)
	case KindAggressive:
		s.policy = NewAggressive(cfg, o.locations, s, s.log)
	case KindManual:
		s.policy = NewManual(cfg, s, s.log)
	default:
		s.kind = KindAdaptive
		s.policy = NewAdaptive(cfg, o.clock, o.lifecycle, s, s.log)
	}
	if obs, ok := s.policy.(SafePointObserver); ok {
		s.observer = obs
		s.locations = safepoint.NewDepot(o.locations)
	}
	return s
}

// Config returns the tunables the Scheduler reads.
func (s *Scheduler) Config() *config.Config { return s.cfg }

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy { return s.policy }

// Kind returns the active policy kind.
func (s *Scheduler) Kind() Kind { return s.kind }

// State returns the cycle state machine.
func (s *Scheduler) State() *epoch.State { return s.state }

// Start starts the policy's background goroutines.
func (s *Scheduler) Start() {
	s.policy.Start()
	s.log.Info("scheduler started", "policy", s.kind.String())
}

// Stop stops the policy, then shuts the state machine down so that
// waiters return and later requests are no-ops.
func (s *Scheduler) Stop() {
	s.policy.Stop()
	s.state.Shutdown()
	s.log.Info("scheduler stopped")
}

// NewMutator registers a mutator and returns its counters. Its slow path
// dispatches into the active policy.
func (s *Scheduler) NewMutator() *mutator.ThreadData {
	td := mutator.New(s.cfg, s.policy.UpdateFromThreadData)

	s.mu.Lock()
	s.mutators[td.ID()] = td
	s.mu.Unlock()
	return td
}

// RemoveMutator unregisters a mutator. Its unflushed allocation still
// counts toward the heap.
func (s *Scheduler) RemoveMutator(td *mutator.ThreadData) {
	s.policy.Heap().OnAllocated(td.AllocatedBytes())

	s.mu.Lock()
	delete(s.mutators, td.ID())
	s.mu.Unlock()
}

// SafePoint is the per-mutator safepoint hook.
func (s *Scheduler) SafePoint(td *mutator.ThreadData) {
	s.safePoint(td, mutator.WeightFunctionPrologue)
}

// SafePointWeighted is SafePoint with an explicit weight.
func (s *Scheduler) SafePointWeighted(td *mutator.ThreadData, weight uint64) {
	s.safePoint(td, weight)
}

// ObservesLocations reports whether the policy needs safepoint locations.
// Wrappers use it to skip capturing a location that nobody reads.
func (s *Scheduler) ObservesLocations() bool { return s.observer != nil }

// Locations returns the depot safepoint locations are captured into, or
// nil when the policy does not observe locations.
func (s *Scheduler) Locations() *safepoint.Depot { return s.locations }

// SafePointAt is SafePoint for callers that captured the location
// themselves, typically a wrapper one frame further out.
func (s *Scheduler) SafePointAt(td *mutator.ThreadData, loc safepoint.Location, weight uint64) {
	if s.observer != nil {
		s.observer.OnSafePoint(loc)
	}
	td.OnSafePointRegular(weight)
}

func (s *Scheduler) safePoint(td *mutator.ThreadData, weight uint64) {
	if s.observer != nil {
		// Identify the code that called SafePoint, not this package.
		s.observer.OnSafePoint(s.locations.Capture(2))
	}
	td.OnSafePointRegular(weight)
}

// OnSafePointAllocation is the per-mutator allocation hook.
func (s *Scheduler) OnSafePointAllocation(td *mutator.ThreadData, bytes uint64) {
	td.OnSafePointAllocation(bytes)
}

// OnStoppedForGC is called by a mutator goroutine when it parks for a
// collection.
func (s *Scheduler) OnStoppedForGC(td *mutator.ThreadData) {
	td.OnStoppedForGC()
}

// Schedule requests a cycle and returns its epoch. Requests made while a
// cycle is requested but not started share its epoch. After Stop it
// returns 0.
func (s *Scheduler) Schedule() epoch.Epoch {
	e, isNew := s.state.Schedule()
	if e == 0 {
		return 0
	}
	if !isNew {
		s.coalesced.Add(1)
		return e
	}
	s.requested.Add(1)
	s.log.Debug("cycle requested", "epoch", uint64(e))
	s.collector.ScheduleCollection(e)
	return e
}

// WaitFinished blocks until marking of e or a later cycle is done, or
// until Stop. Without a collector it returns at once.
func (s *Scheduler) WaitFinished(e epoch.Epoch) {
	if !s.collects {
		return
	}
	s.assistWaits.Add(1)
	s.state.WaitFinished(e)
}

// ScheduleAndWaitFinished requests a cycle and blocks until its marking
// (or a later cycle's) is done. It holds no lock while waiting. Without a
// collector it does not wait.
func (s *Scheduler) ScheduleAndWaitFinished() epoch.Epoch {
	e := s.Schedule()
	if e != 0 && s.collects {
		s.state.WaitFinished(e)
	}
	return e
}

// ScheduleAndWaitFinalized requests a cycle and blocks until its
// finalizers (or a later cycle's) have run. Without a collector it does
// not wait.
func (s *Scheduler) ScheduleAndWaitFinalized() epoch.Epoch {
	e := s.Schedule()
	if e != 0 && s.collects {
		s.state.WaitFinalized(e)
	}
	return e
}

// HasCollector reports whether anything completes the cycles this
// Scheduler requests.
func (s *Scheduler) HasCollector() bool { return s.collects }

// WaitScheduled blocks until a cycle is requested and returns its epoch.
// It returns false after Stop. A tracer using it is created with Pulled.
func (s *Scheduler) WaitScheduled() (epoch.Epoch, bool) {
	return s.state.WaitScheduled()
}

// OnGCStart is called by the collector when cycle e starts.
func (s *Scheduler) OnGCStart(e epoch.Epoch) {
	s.state.Start(e)
	s.log.Debug("cycle started", "epoch", uint64(e))
}

// OnGCFinish is called by the collector when marking of cycle e is done.
// It feeds aliveBytes into the heap controller, resets the pacer and
// releases WaitFinished callers.
func (s *Scheduler) OnGCFinish(e epoch.Epoch, aliveBytes uint64) {
	s.policy.OnPerformFullGC()
	s.policy.UpdateAliveSetBytes(aliveBytes)
	s.state.Finish(e)
	s.log.Debug("cycle finished", "epoch", uint64(e), "aliveBytes", aliveBytes,
		"targetHeapBytes", s.cfg.TargetHeapBytes())
}

// OnGCFinalized is called by the collector when finalizers of cycle e have
// run.
func (s *Scheduler) OnGCFinalized(e epoch.Epoch) {
	s.state.Finalize(e)
	s.log.Debug("cycle finalized", "epoch", uint64(e))
}

// Stats is a point-in-time summary of the Scheduler.
type Stats struct {
	Policy    string
	Mutators  int
	Requested uint64 // cycles handed to the collector
	Coalesced uint64 // requests that joined a pending cycle
	Assists   uint64 // mutator waits at the Target boundary

	Scheduled epoch.Epoch
	Started   epoch.Epoch
	Finished  epoch.Epoch
	Finalized epoch.Epoch

	HeapBytes       uint64
	AliveSetBytes   uint64
	TargetHeapBytes uint64
}

// Stats returns the current statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	n := len(s.mutators)
	s.mu.Unlock()

	heap := s.policy.Heap()
	return Stats{
		Policy:          s.kind.String(),
		Mutators:        n,
		Requested:       s.requested.Load(),
		Coalesced:       s.coalesced.Load(),
		Assists:         s.assistWaits.Load(),
		Scheduled:       s.state.Scheduled(),
		Started:         s.state.Started(),
		Finished:        s.state.Finished(),
		Finalized:       s.state.Finalized(),
		HeapBytes:       heap.HeapBytes(),
		AliveSetBytes:   heap.AliveSetBytes(),
		TargetHeapBytes: heap.TargetHeapBytes(),
	}
}
