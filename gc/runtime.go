package gc

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/kolkov/gcsched/internal/gc/clock"
	"github.com/kolkov/gcsched/internal/gc/config"
	"github.com/kolkov/gcsched/internal/gc/cyclic"
	"github.com/kolkov/gcsched/internal/gc/epoch"
	"github.com/kolkov/gcsched/internal/gc/heap"
	"github.com/kolkov/gcsched/internal/gc/scheduler"
)

// Re-exported types, so that callers never import internal packages.
type (
	// Epoch numbers a collection cycle.
	Epoch = epoch.Epoch

	// Config is the set of GC tunables.
	Config = config.Config

	// Collector is the external tracer a Runtime hands cycles to.
	Collector = scheduler.Collector

	// CollectorFunc adapts a function to Collector.
	CollectorFunc = scheduler.CollectorFunc

	// Policy names a scheduling policy.
	Policy = scheduler.Kind

	// Lifecycle reports whether the application is in the background.
	Lifecycle = scheduler.Lifecycle

	// Object is a reference-counted heap object.
	Object = heap.Object

	// Kind is the ownership kind of an object.
	Kind = heap.Kind
)

// Scheduling policies.
const (
	PolicyAdaptive     = scheduler.KindAdaptive
	PolicyOnSafePoints = scheduler.KindOnSafePoints
	PolicyAggressive   = scheduler.KindAggressive
	PolicyManual       = scheduler.KindManual
)

// Ownership kinds.
const (
	Local  = heap.Local
	Shared = heap.Shared
	Frozen = heap.Frozen
)

// Pulled is the collector of a tracer goroutine that takes work with
// Scheduler().WaitScheduled instead of being called back.
var Pulled = scheduler.Pulled

// NewConfig returns a Config with default values.
func NewConfig() *Config { return config.New() }

// Option configures a Runtime.
type Option func(*options)

type options struct {
	cfg       *config.Config
	policy    scheduler.Kind
	clock     clock.Clock
	lifecycle scheduler.Lifecycle
	logger    *slog.Logger
}

// WithConfig sets the tunables. The default is NewConfig with the GCSCHED
// environment variable applied.
func WithConfig(cfg *Config) Option { return func(o *options) { o.cfg = cfg } }

// WithPolicy selects the scheduling policy. The default is PolicyAdaptive.
func WithPolicy(p Policy) Option { return func(o *options) { o.policy = p } }

// WithLifecycle sets the background/foreground observer used by the
// adaptive policy.
func WithLifecycle(l Lifecycle) Option { return func(o *options) { o.lifecycle = l } }

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock sets the time source. It is meant for tests.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// Runtime ties together the GC scheduler, the reference-counted heap and
// the cyclic collector. It replaces process-wide singletons: every piece
// of state hangs off one Runtime, and several can coexist.
//
// Thread Safety: all methods are safe for concurrent use. A Mutator
// belongs to one goroutine.
type Runtime struct {
	cfg    *config.Config
	sched  *scheduler.Scheduler
	cyclic *cyclic.Collector
	heap   *heap.Heap
	log    *slog.Logger

	nextWorker atomic.Uint64
	attached   atomic.Int64
	started    atomic.Bool
	stopped    atomic.Bool
}

// New creates a Runtime that hands scheduled cycles to collector.
//
// A nil collector means no tracer at all, which is useful when only the
// cyclic collector matters: cycles are still requested and counted, but
// nothing completes them, so mutator assists and Collect do not wait. A
// tracer that takes work with Scheduler().WaitScheduled passes Pulled.
func New(collector Collector, opts ...Option) *Runtime {
	o := options{policy: scheduler.KindAdaptive}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.cfg == nil {
		var err error
		if o.cfg, err = config.FromEnvironment(); err != nil {
			o.logger.Warn("ignoring invalid tunables", "env", config.EnvVar, "err", err)
		}
	}

	cc := cyclic.New(o.cfg, cyclic.WithClock(o.clock), cyclic.WithLogger(o.logger))
	return &Runtime{
		cfg: o.cfg,
		sched: scheduler.New(o.cfg, collector,
			scheduler.WithPolicy(o.policy),
			scheduler.WithClock(o.clock),
			scheduler.WithLifecycle(o.lifecycle),
			scheduler.WithLogger(o.logger),
		),
		cyclic: cc,
		heap:   heap.New(heap.Options{Tracker: cc}),
		log:    o.logger.With("component", "runtime"),
	}
}

// Start starts the scheduler's timer and the cyclic collector. Calling it
// more than once has no further effect.
func (r *Runtime) Start() {
	if r.started.Swap(true) {
		return
	}
	r.sched.Start()
	r.cyclic.Start()
	r.log.Info("runtime started", "policy", r.sched.Kind().String())
}

// Stop stops the scheduler, wakes every waiter, and terminates the cyclic
// collector after releasing the cycles it has already found. Calling it
// more than once has no further effect.
func (r *Runtime) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	r.sched.Stop()
	r.cyclic.Terminate(true)
	r.log.Info("runtime stopped", "attached", r.attached.Load())
}

// Attach registers the calling goroutine as a mutator.
func (r *Runtime) Attach() *Mutator {
	m := &Mutator{
		rt:   r,
		td:   r.sched.NewMutator(),
		id:   r.nextWorker.Add(1),
		seen: r.sched.State().Started(),
	}
	r.cyclic.AddWorker(m.id)
	r.attached.Add(1)
	return m
}

// Config returns the tunables.
func (r *Runtime) Config() *Config { return r.cfg }

// Heap returns the reference-counted heap.
func (r *Runtime) Heap() *heap.Heap { return r.heap }

// Scheduler returns the GC scheduler, which the external collector reports
// back to.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.sched }

// Cyclic returns the cyclic collector.
func (r *Runtime) Cyclic() *cyclic.Collector { return r.cyclic }

// Collect requests a cycle and waits until its marking is done. It returns
// 0 after Stop, and does not wait when the Runtime has no collector.
func (r *Runtime) Collect() Epoch { return r.sched.ScheduleAndWaitFinished() }

// CollectCycles runs a cyclic pass on the calling goroutine and returns the
// number of garbage roots it queued for release. With mutators attached
// the roots are released at their next SafePoint or Detach; otherwise
// before CollectCycles returns.
func (r *Runtime) CollectCycles() int { return r.cyclic.CollectNow() }

// WriteSummary writes a human-readable report of the scheduler, heap and
// cyclic collector statistics.
//
//nolint:errcheck // best-effort diagnostic output
func (r *Runtime) WriteSummary(w io.Writer) {
	ss := r.sched.Stats()
	hs := r.heap.Stats()
	cs := r.cyclic.Stats()

	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "GC Scheduler Report\n")
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "Policy:    %s (%d mutators)\n", ss.Policy, ss.Mutators)
	fmt.Fprintf(w, "Cycles:    %d requested, %d coalesced, %d mutator assists\n",
		ss.Requested, ss.Coalesced, ss.Assists)
	fmt.Fprintf(w, "Epochs:    scheduled %s, started %s, finished %s, finalized %s\n",
		ss.Scheduled, ss.Started, ss.Finished, ss.Finalized)
	fmt.Fprintf(w, "Heap:      %d bytes, alive set %d bytes, target %d bytes\n",
		ss.HeapBytes, ss.AliveSetBytes, ss.TargetHeapBytes)
	fmt.Fprintf(w, "Objects:   %d allocated, %d freed, %d live (%d bytes)\n",
		hs.Allocated, hs.Freed, hs.Live, hs.LiveBytes)
	fmt.Fprintf(w, "Cyclic:    %d passes, %d restarts, %d roots released, %d roots tracked\n",
		cs.Passes, cs.Restarts, cs.Released, cs.Roots)
	if cs.Abandoned > 0 {
		fmt.Fprintf(w, "WARNING: %d queued cycle(s) abandoned\n", cs.Abandoned)
	}
	fmt.Fprintf(w, "==================\n")
}
