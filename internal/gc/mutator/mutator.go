package mutator

import (
	"sync/atomic"

	"github.com/kolkov/gcsched/internal/gc/config"
)

// Safepoint weights. A loop back-edge and a function prologue both count
// as one unit toward config.SafePointThreshold.
const (
	WeightFunctionPrologue = 1
	WeightLoopBody         = 1
)

// SlowPath is invoked when one of the counters reaches its threshold. It
// runs on the owning mutator goroutine and sees the counters as they were
// at the trigger.
type SlowPath func(td *ThreadData)

var nextID atomic.Uint64

// ThreadData holds the scheduling counters of a single mutator.
//
// Only the owning goroutine may call the On* methods. The counters are
// stored atomically so that other goroutines can read them for statistics,
// but they have a single writer.
//
// The thresholds are read from config on every check, so a lowered
// threshold applies to the very next safepoint.
type ThreadData struct {
	id       uint64
	cfg      *config.Config
	slowPath SlowPath

	allocatedBytes    atomic.Uint64
	safePointsCounter atomic.Uint64

	triggers atomic.Uint64
}

// New creates counters for a mutator. slowPath may be nil.
//
// Example:
//
//	td := mutator.New(cfg, func(td *mutator.ThreadData) {
//		policy.UpdateFromThreadData(td)
//	})
//	td.OnSafePointAllocation(64)
func New(cfg *config.Config, slowPath SlowPath) *ThreadData {
	if slowPath == nil {
		slowPath = func(*ThreadData) {}
	}
	return &ThreadData{
		id:       nextID.Add(1),
		cfg:      cfg,
		slowPath: slowPath,
	}
}

// ID returns a process-unique identifier for the mutator.
func (td *ThreadData) ID() uint64 { return td.id }

// AllocatedBytes returns the bytes allocated since the last reset.
func (td *ThreadData) AllocatedBytes() uint64 { return td.allocatedBytes.Load() }

// SafePointsCounter returns the safepoint weight since the last reset.
func (td *ThreadData) SafePointsCounter() uint64 { return td.safePointsCounter.Load() }

// Triggers returns how many times the slow path ran.
func (td *ThreadData) Triggers() uint64 { return td.triggers.Load() }

// OnSafePointRegular adds weight to the safepoint counter and runs the
// slow path once the counter reaches the threshold.
//
// After the slow path the safepoint counter keeps the part of the weight
// that overshot the threshold, reduced modulo the threshold so that a
// counter built up under a larger threshold fires only once. The
// allocation counter is zeroed.
//
// Performance: lock-free, allocation-free fast path.
func (td *ThreadData) OnSafePointRegular(weight uint64) {
	counter := td.safePointsCounter.Load() + weight
	td.safePointsCounter.Store(counter)
	threshold := td.safePointThreshold()
	if counter < threshold {
		return
	}

	remainder := (counter - threshold) % threshold
	td.trigger()
	td.safePointsCounter.Store(remainder)
	td.allocatedBytes.Store(0)
}

// OnSafePointAllocation adds bytes to the allocation counter and runs the
// slow path once the counter reaches the threshold.
//
// The slow path consumes the whole allocation counter, so both counters are
// zeroed after it.
func (td *ThreadData) OnSafePointAllocation(bytes uint64) {
	allocated := td.allocatedBytes.Load() + bytes
	td.allocatedBytes.Store(allocated)
	if allocated < td.allocationThreshold() {
		return
	}

	td.trigger()
	td.allocatedBytes.Store(0)
	td.safePointsCounter.Store(0)
}

// OnStoppedForGC zeroes both counters. It is called by the owning
// goroutine when it parks for a collection, so that progress made before
// the collection does not count toward the next one. It is idempotent.
func (td *ThreadData) OnStoppedForGC() {
	td.allocatedBytes.Store(0)
	td.safePointsCounter.Store(0)
}

func (td *ThreadData) trigger() {
	td.triggers.Add(1)
	td.slowPath(td)
}

func (td *ThreadData) allocationThreshold() uint64 {
	return max(td.cfg.AllocationThresholdBytes(), 1)
}

func (td *ThreadData) safePointThreshold() uint64 {
	return max(td.cfg.SafePointThreshold(), 1)
}
