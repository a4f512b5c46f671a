// Package heapgrowth turns allocation and alive-set observations into a
// heap-size boundary that tells the scheduler when a collection is due.
//
// The controller keeps two counters:
//
//	allocatedBytes    bytes allocated since the last full collection
//	aliveSetBytes     live bytes reported by the last collection
//
// The heap size it reasons about is their sum. The target heap size lives
// in config.Config so that tuning is visible to every reader; the trigger
// heap size is derived from it and never stored.
package heapgrowth

import (
	"log/slog"
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/kolkov/gcsched/internal/gc/config"
)

// Boundary classifies a heap size against the target.
type Boundary int

const (
	// None means no collection is needed yet.
	None Boundary = iota

	// Trigger means the heap crossed target * heapTriggerCoefficient.
	// A collection should be requested without blocking the mutator.
	Trigger

	// Target means the heap reached the target with mutator assists on.
	// The mutator should help by waiting for marking to finish.
	Target
)

// String returns the boundary name.
func (b Boundary) String() string {
	switch b {
	case None:
		return "none"
	case Trigger:
		return "trigger"
	case Target:
		return "target"
	default:
		return "unknown"
	}
}

// Controller decides from heap growth whether a collection is needed.
//
// Thread Safety:
//   - OnAllocated, NeedsGC, BoundaryForHeapSize and the readers are
//     lock-free and may be called from any mutator.
//   - OnPerformFullGC and UpdateAliveSetBytes are called by the collector.
//     A concurrent OnAllocated may be lost by at most one allocation.
type Controller struct {
	cfg *config.Config
	log *slog.Logger

	allocatedBytes atomic.Uint64
	aliveSetBytes  atomic.Uint64
}

// New creates a Controller over cfg. A nil logger discards output.
func New(cfg *config.Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{cfg: cfg, log: logger}
}

// OnAllocated records n freshly allocated bytes.
func (c *Controller) OnAllocated(n uint64) {
	c.allocatedBytes.Add(n)
}

// OnPerformFullGC resets the allocation counter after a full collection.
func (c *Controller) OnPerformFullGC() {
	c.allocatedBytes.Store(0)
}

// UpdateAliveSetBytes records the live-set census of the last collection
// and, with autoTune on, retunes the target heap to
//
//	clamp(bytes / targetHeapUtilization, minHeapBytes, maxHeapBytes)
//
// A non-finite result leaves the previous target in place.
func (c *Controller) UpdateAliveSetBytes(bytes uint64) {
	c.aliveSetBytes.Store(bytes)

	if !c.cfg.AutoTune() {
		return
	}

	util := c.cfg.TargetHeapUtilization()
	target := float64(bytes) / util
	if math.IsNaN(target) || math.IsInf(target, 0) || target < 0 {
		c.log.Warn("ignoring degenerate target heap",
			"aliveBytes", bytes, "utilization", util)
		return
	}

	lo, hi := c.cfg.MinHeapBytes(), c.cfg.MaxHeapBytes()
	next := clamp(floatToBytes(target), lo, hi)
	c.cfg.SetTargetHeapBytes(next)
	c.log.Debug("target heap tuned", "aliveBytes", bytes, "targetBytes", next)
}

// NeedsGC reports whether allocatedBytes + aliveSetBytes >= targetHeapBytes.
func (c *Controller) NeedsGC() bool {
	return c.HeapBytes() >= c.cfg.TargetHeapBytes()
}

// BoundaryForHeapSize classifies a heap of n bytes.
//
// Target is only reported while mutator assists are enabled. Without
// assists every size past the trigger is Trigger.
func (c *Controller) BoundaryForHeapSize(n uint64) Boundary {
	if c.cfg.MutatorAssists() && n >= c.cfg.TargetHeapBytes() {
		return Target
	}
	if n >= c.TriggerHeapBytes() {
		return Trigger
	}
	return None
}

// Boundary classifies the current heap size.
func (c *Controller) Boundary() Boundary {
	return c.BoundaryForHeapSize(c.HeapBytes())
}

// HeapBytes returns allocatedBytes + aliveSetBytes, saturated at MaxUint64.
func (c *Controller) HeapBytes() uint64 {
	sum, carry := bits.Add64(c.allocatedBytes.Load(), c.aliveSetBytes.Load(), 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// AllocatedBytes returns the bytes allocated since the last full collection.
func (c *Controller) AllocatedBytes() uint64 { return c.allocatedBytes.Load() }

// AliveSetBytes returns the last reported live-set size.
func (c *Controller) AliveSetBytes() uint64 { return c.aliveSetBytes.Load() }

// TargetHeapBytes returns the current target heap size.
func (c *Controller) TargetHeapBytes() uint64 { return c.cfg.TargetHeapBytes() }

// TriggerHeapBytes returns target * heapTriggerCoefficient. A coefficient
// outside (0, 1] is treated as 1.
func (c *Controller) TriggerHeapBytes() uint64 {
	target := c.cfg.TargetHeapBytes()
	coeff := c.cfg.HeapTriggerCoefficient()
	if math.IsNaN(coeff) || coeff <= 0 || coeff >= 1 {
		return target
	}
	return floatToBytes(float64(target) * coeff)
}

func floatToBytes(f float64) uint64 {
	if f >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(f)
}

func clamp(v, lo, hi uint64) uint64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
