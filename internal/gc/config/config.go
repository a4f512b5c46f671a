// Package config holds the process-wide GC scheduling tunables.
//
// Config is a bag of independently atomic fields. Any goroutine may read or
// write any field at any time without external locking. Each field is
// individually consistent, but no multi-field snapshot is ever atomic: a
// reader may observe a new targetHeapBytes together with an old
// minHeapBytes. Every consumer tolerates such transient combinations.
//
// Tunables can also be set by name (see Set and ParseEnv), which is how the
// GCSCHED environment variable and the gcsched CLI configure a runtime.
package config

import (
	"math"
	"sync/atomic"
	"time"
)

// Defaults mirror the values the scheduler was tuned with originally.
const (
	DefaultAllocationThresholdBytes = 10 * 1024
	DefaultSafePointThreshold       = 100_000
	DefaultRegularInterval          = 10 * time.Second
	DefaultTargetHeapBytes          = 100 * 1024 * 1024
	DefaultTargetHeapUtilization    = 0.5
	DefaultMinHeapBytes             = 5 * 1024 * 1024
	DefaultMaxHeapBytes             = math.MaxUint64
	DefaultHeapTriggerCoefficient   = 0.9
	DefaultCyclicInterval           = time.Second
	DefaultCyclicBackoffRestarts    = 10
)

// Config is the set of GC scheduling tunables.
//
// The zero value is not useful; create one with New.
type Config struct {
	allocationThresholdBytes atomic.Uint64
	safePointThreshold       atomic.Uint64
	regularInterval          atomic.Int64 // nanoseconds
	autoTune                 atomic.Bool
	targetHeapBytes          atomic.Uint64
	targetHeapUtilization    atomic.Uint64 // float64 bits
	minHeapBytes             atomic.Uint64
	maxHeapBytes             atomic.Uint64
	heapTriggerCoefficient   atomic.Uint64 // float64 bits
	mutatorAssists           atomic.Bool
	cyclicInterval           atomic.Int64 // nanoseconds
	cyclicBackoffRestarts    atomic.Uint64
}

// New returns a Config populated with the defaults.
func New() *Config {
	c := &Config{}
	c.allocationThresholdBytes.Store(DefaultAllocationThresholdBytes)
	c.safePointThreshold.Store(DefaultSafePointThreshold)
	c.regularInterval.Store(int64(DefaultRegularInterval))
	c.autoTune.Store(true)
	c.targetHeapBytes.Store(DefaultTargetHeapBytes)
	c.targetHeapUtilization.Store(math.Float64bits(DefaultTargetHeapUtilization))
	c.minHeapBytes.Store(DefaultMinHeapBytes)
	c.maxHeapBytes.Store(DefaultMaxHeapBytes)
	c.heapTriggerCoefficient.Store(math.Float64bits(DefaultHeapTriggerCoefficient))
	c.mutatorAssists.Store(true)
	c.cyclicInterval.Store(int64(DefaultCyclicInterval))
	c.cyclicBackoffRestarts.Store(DefaultCyclicBackoffRestarts)
	return c
}

// AllocationThresholdBytes is how many bytes a mutator allocates between
// two slow-path checks.
func (c *Config) AllocationThresholdBytes() uint64 { return c.allocationThresholdBytes.Load() }

// SetAllocationThresholdBytes sets the per-mutator allocation threshold.
func (c *Config) SetAllocationThresholdBytes(v uint64) { c.allocationThresholdBytes.Store(v) }

// SafePointThreshold is the accumulated safepoint weight between two
// slow-path checks.
func (c *Config) SafePointThreshold() uint64 { return c.safePointThreshold.Load() }

// SetSafePointThreshold sets the per-mutator safepoint threshold.
func (c *Config) SetSafePointThreshold(v uint64) { c.safePointThreshold.Store(v) }

// RegularInterval is the time-based collection period.
func (c *Config) RegularInterval() time.Duration {
	return time.Duration(c.regularInterval.Load())
}

// SetRegularInterval sets the time-based collection period.
func (c *Config) SetRegularInterval(d time.Duration) { c.regularInterval.Store(int64(d)) }

// AutoTune reports whether the target heap follows the alive set.
func (c *Config) AutoTune() bool { return c.autoTune.Load() }

// SetAutoTune enables or disables target heap tuning.
func (c *Config) SetAutoTune(v bool) { c.autoTune.Store(v) }

// TargetHeapBytes is the heap size at which a collection must happen.
func (c *Config) TargetHeapBytes() uint64 { return c.targetHeapBytes.Load() }

// SetTargetHeapBytes sets the target heap size.
func (c *Config) SetTargetHeapBytes(v uint64) { c.targetHeapBytes.Store(v) }

// TargetHeapUtilization is the desired alive/target ratio, in (0, 1].
func (c *Config) TargetHeapUtilization() float64 {
	return math.Float64frombits(c.targetHeapUtilization.Load())
}

// SetTargetHeapUtilization stores v without validation. Use Set for
// checked updates.
func (c *Config) SetTargetHeapUtilization(v float64) {
	c.targetHeapUtilization.Store(math.Float64bits(v))
}

// MinHeapBytes is the lower clamp for a tuned target heap.
func (c *Config) MinHeapBytes() uint64 { return c.minHeapBytes.Load() }

// SetMinHeapBytes sets the lower clamp for a tuned target heap.
func (c *Config) SetMinHeapBytes(v uint64) { c.minHeapBytes.Store(v) }

// MaxHeapBytes is the upper clamp for a tuned target heap.
func (c *Config) MaxHeapBytes() uint64 { return c.maxHeapBytes.Load() }

// SetMaxHeapBytes sets the upper clamp for a tuned target heap.
func (c *Config) SetMaxHeapBytes(v uint64) { c.maxHeapBytes.Store(v) }

// HeapTriggerCoefficient is the fraction of the target at which a
// collection is requested early, in (0, 1].
func (c *Config) HeapTriggerCoefficient() float64 {
	return math.Float64frombits(c.heapTriggerCoefficient.Load())
}

// SetHeapTriggerCoefficient stores v without validation.
func (c *Config) SetHeapTriggerCoefficient(v float64) {
	c.heapTriggerCoefficient.Store(math.Float64bits(v))
}

// MutatorAssists reports whether mutators block once the target is hit.
func (c *Config) MutatorAssists() bool { return c.mutatorAssists.Load() }

// SetMutatorAssists enables or disables mutator assists.
func (c *Config) SetMutatorAssists(v bool) { c.mutatorAssists.Store(v) }

// CyclicInterval is how often the cyclic collector wakes up on its own.
// Zero means it only runs when scheduled explicitly.
func (c *Config) CyclicInterval() time.Duration {
	return time.Duration(c.cyclicInterval.Load())
}

// SetCyclicInterval sets the cyclic collector's idle wake-up period.
func (c *Config) SetCyclicInterval(d time.Duration) { c.cyclicInterval.Store(int64(d)) }

// CyclicBackoffRestarts is the number of consecutive restarts after which
// the cyclic collector starts backing off.
func (c *Config) CyclicBackoffRestarts() uint64 { return c.cyclicBackoffRestarts.Load() }

// SetCyclicBackoffRestarts sets the restart count that triggers backoff.
func (c *Config) SetCyclicBackoffRestarts(v uint64) { c.cyclicBackoffRestarts.Store(v) }

// Snapshot is a plain copy of every tunable, taken field by field.
type Snapshot struct {
	AllocationThresholdBytes uint64
	SafePointThreshold       uint64
	RegularInterval          time.Duration
	AutoTune                 bool
	TargetHeapBytes          uint64
	TargetHeapUtilization    float64
	MinHeapBytes             uint64
	MaxHeapBytes             uint64
	HeapTriggerCoefficient   float64
	MutatorAssists           bool
	CyclicInterval           time.Duration
	CyclicBackoffRestarts    uint64
}

// Snapshot copies the current values. Fields are read one at a time, so
// the result may mix values from before and after a concurrent update.
func (c *Config) Snapshot() Snapshot {
	return Snapshot{
		AllocationThresholdBytes: c.AllocationThresholdBytes(),
		SafePointThreshold:       c.SafePointThreshold(),
		RegularInterval:          c.RegularInterval(),
		AutoTune:                 c.AutoTune(),
		TargetHeapBytes:          c.TargetHeapBytes(),
		TargetHeapUtilization:    c.TargetHeapUtilization(),
		MinHeapBytes:             c.MinHeapBytes(),
		MaxHeapBytes:             c.MaxHeapBytes(),
		HeapTriggerCoefficient:   c.HeapTriggerCoefficient(),
		MutatorAssists:           c.MutatorAssists(),
		CyclicInterval:           c.CyclicInterval(),
		CyclicBackoffRestarts:    c.CyclicBackoffRestarts(),
	}
}
