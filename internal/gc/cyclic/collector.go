package cyclic

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/gcsched/internal/gc/clock"
	"github.com/kolkov/gcsched/internal/gc/config"
	"github.com/kolkov/gcsched/internal/gc/heap"
)

// Backoff bounds between restarted passes.
const (
	minBackoff = 100 * time.Microsecond
	maxBackoff = 50 * time.Millisecond
)

// Option configures a Collector.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock sets the time source for the idle timer and backoff.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Collector finds and breaks garbage cycles among frozen objects that go
// through atomic references. It implements heap.RootTracker.
//
// Every atomic reference is a root. A pass walks the frozen graph from
// the roots, counting the references each container receives from inside
// that graph. Containers whose real count is higher are referenced from
// outside, and so is everything they reach. A root that is neither is
// garbage kept alive only by a cycle: it is retained and queued, and
// later released by clearing its slot.
//
// A pass reads slots and counts without stopping mutators. Any slot write,
// or new reference to a frozen object, during a pass makes it restart.
//
// Thread Safety: all methods are safe for concurrent use.
type Collector struct {
	cfg   *config.Config
	clock clock.Clock
	log   *slog.Logger

	mu      sync.Mutex
	roots   map[*heap.Object]struct{}
	workers map[uint64]struct{}
	pending []*heap.Object

	mutated     atomic.Bool
	hasPending  atomic.Bool
	started     atomic.Bool
	terminated  atomic.Bool
	drainOnStop atomic.Bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	passes    atomic.Uint64
	restarts  atomic.Uint64
	backoffs  atomic.Uint64
	found     atomic.Uint64
	released  atomic.Uint64
	abandoned atomic.Uint64
}

// New creates a Collector. It does nothing in the background until Start.
func New(cfg *config.Config, opts ...Option) *Collector {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = clock.System()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return &Collector{
		cfg:     cfg,
		clock:   o.clock,
		log:     o.logger.With("component", "cyclic"),
		roots:   make(map[*heap.Object]struct{}),
		workers: make(map[uint64]struct{}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the collector goroutine. Calling Start more than once has
// no further effect.
func (c *Collector) Start() {
	if c.terminated.Load() {
		panic("gcsched: cyclic collector started after Terminate")
	}
	if c.started.Swap(true) {
		return
	}
	go c.run()
}

// Terminate stops the collector goroutine and waits for it. With drain
// set, one final pass runs and every queued root is released; otherwise
// queued roots are abandoned and stay allocated. Terminating twice panics.
func (c *Collector) Terminate(drain bool) {
	if c.terminated.Swap(true) {
		panic("gcsched: cyclic collector terminated twice")
	}
	c.drainOnStop.Store(drain)
	close(c.stop)
	if c.started.Load() {
		<-c.done
	}

	c.mu.Lock()
	list := c.takePendingLocked()
	c.mu.Unlock()

	if drain {
		c.release(list)
	} else if len(list) > 0 {
		c.abandoned.Add(uint64(len(list)))
		c.log.Warn("abandoning queued cycles", "count", len(list))
	}
	c.log.Info("cyclic collector terminated", "drain", drain)
}

// AddRoot implements heap.RootTracker.
func (c *Collector) AddRoot(ref *heap.Object) {
	c.mu.Lock()
	_, dup := c.roots[ref]
	c.roots[ref] = struct{}{}
	c.mu.Unlock()
	if dup {
		panic(fmt.Sprintf("gcsched: root %s added twice", ref))
	}
}

// RemoveRoot implements heap.RootTracker. Removing a root that was never
// added panics.
func (c *Collector) RemoveRoot(ref *heap.Object) {
	c.mu.Lock()
	_, ok := c.roots[ref]
	delete(c.roots, ref)
	c.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("gcsched: removing unknown root %s", ref))
	}
}

// MutateRoot implements heap.RootTracker. It only flags the running pass,
// if any, for a restart.
func (c *Collector) MutateRoot(*heap.Object) {
	if !c.mutated.Load() {
		c.mutated.Store(true)
	}
}

// AddWorker registers a mutator goroutine. While any worker is registered,
// released cycles are handed to workers through CheckRelease instead of
// being released by the collector.
func (c *Collector) AddWorker(id uint64) {
	c.mu.Lock()
	_, dup := c.workers[id]
	c.workers[id] = struct{}{}
	c.mu.Unlock()
	if dup {
		panic(fmt.Sprintf("gcsched: worker %d added twice", id))
	}
}

// RemoveWorker unregisters a mutator goroutine. With drain set it first
// releases queued cycles on the calling goroutine.
func (c *Collector) RemoveWorker(id uint64, drain bool) {
	c.mu.Lock()
	_, ok := c.workers[id]
	delete(c.workers, id)
	remaining := len(c.workers)
	c.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("gcsched: removing unknown worker %d", id))
	}

	if drain {
		c.CheckRelease()
	}
	if remaining == 0 && c.hasPending.Load() {
		c.Schedule()
	}
}

// Schedule asks the collector goroutine for a pass. It never blocks.
func (c *Collector) Schedule() {
	if c.terminated.Load() {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// CollectNow runs a pass on the calling goroutine, restarting as needed,
// and returns the number of roots it queued. Queued roots are released
// right away if no worker is registered.
func (c *Collector) CollectNow() int {
	if c.terminated.Load() {
		return 0
	}
	n := c.collect()
	c.releaseIfIdle()
	return n
}

// CheckRelease releases queued cycles on the calling goroutine and returns
// how many roots it released. Mutators call it at their safepoints; the
// fast path is a single atomic load.
func (c *Collector) CheckRelease() int {
	if !c.hasPending.Load() {
		return 0
	}
	c.mu.Lock()
	list := c.takePendingLocked()
	c.mu.Unlock()
	c.release(list)
	return len(list)
}

// Candidates returns the roots queued for release.
func (c *Collector) Candidates() []*heap.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*heap.Object, len(c.pending))
	copy(out, c.pending)
	return out
}

func (c *Collector) run() {
	defer close(c.done)

	for {
		var t clock.Timer
		var tick <-chan time.Time
		if d := c.cfg.CyclicInterval(); d > 0 {
			t = c.clock.NewTimer(d)
			tick = t.C()
		}

		select {
		case <-c.stop:
			stopTimer(t)
			if c.drainOnStop.Load() {
				c.collect()
			}
			return
		case <-c.wake:
		case <-tick:
		}
		stopTimer(t)

		c.collect()
		c.releaseIfIdle()
	}
}

func stopTimer(t clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

// collect runs passes until one completes and returns the number of roots
// it queued. After CyclicBackoffRestarts consecutive restarts it sleeps
// between attempts. It gives up once the collector is terminated.
func (c *Collector) collect() int {
	var restarts uint64
	for {
		c.mu.Lock()
		found, ok := c.passLocked()
		if ok {
			for _, root := range found {
				root.Retain()
			}
			c.pending = append(c.pending, found...)
			if len(c.pending) > 0 {
				c.hasPending.Store(true)
			}
			c.mu.Unlock()

			c.passes.Add(1)
			c.found.Add(uint64(len(found)))
			if len(found) > 0 {
				c.log.Debug("cycles found", "roots", len(found), "restarts", restarts)
			}
			return len(found)
		}
		c.mu.Unlock()

		c.restarts.Add(1)
		restarts++
		if c.terminated.Load() {
			return 0
		}
		if threshold := c.cfg.CyclicBackoffRestarts(); threshold > 0 && restarts >= threshold {
			if !c.backoff(restarts - threshold) {
				return 0
			}
		}
	}
}

// backoff sleeps for an exponentially growing delay. It returns false if
// the collector was terminated meanwhile.
func (c *Collector) backoff(n uint64) bool {
	d := minBackoff << min(n, 16)
	d = min(d, maxBackoff)
	c.backoffs.Add(1)

	t := c.clock.NewTimer(d)
	select {
	case <-c.stop:
		t.Stop()
		return false
	case <-t.C():
		return true
	}
}

func (c *Collector) releaseIfIdle() {
	c.mu.Lock()
	if len(c.workers) > 0 || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	list := c.takePendingLocked()
	c.mu.Unlock()
	c.release(list)
}

func (c *Collector) takePendingLocked() []*heap.Object {
	list := c.pending
	c.pending = nil
	c.hasPending.Store(false)
	return list
}

// release breaks each queued cycle by clearing the root's slot, then drops
// the collector's own reference. It must run without c.mu held, since
// freeing a root calls RemoveRoot.
func (c *Collector) release(list []*heap.Object) {
	for _, root := range list {
		root.Set(nil)
		root.Release()
	}
	if len(list) > 0 {
		c.released.Add(uint64(len(list)))
		c.log.Debug("cycles released", "roots", len(list))
	}
}

// Stats is a point-in-time summary of a Collector.
type Stats struct {
	Roots   int
	Workers int
	Pending int

	Passes    uint64 // completed passes
	Restarts  uint64 // passes abandoned because of a concurrent mutation
	Backoffs  uint64
	Found     uint64 // roots queued for release
	Released  uint64
	Abandoned uint64 // queued roots dropped by Terminate(false)
}

// Stats returns the current statistics.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		Roots:   len(c.roots),
		Workers: len(c.workers),
		Pending: len(c.pending),
	}
	c.mu.Unlock()

	s.Passes = c.passes.Load()
	s.Restarts = c.restarts.Load()
	s.Backoffs = c.backoffs.Load()
	s.Found = c.found.Load()
	s.Released = c.released.Load()
	s.Abandoned = c.abandoned.Load()
	return s
}
