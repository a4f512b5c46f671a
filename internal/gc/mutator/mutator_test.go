package mutator

import (
	"testing"

	"github.com/kolkov/gcsched/internal/gc/config"
)

const (
	testWeight = 2
	testSize   = 2
	testCount  = 10

	testThreshold           = testCount * testWeight
	testAllocationThreshold = testCount * testSize
)

// recorder captures the counters seen by each slow-path call.
type recorder struct {
	calls []snapshot
}

type snapshot struct {
	allocated  uint64
	safePoints uint64
}

func (r *recorder) slowPath(td *ThreadData) {
	r.calls = append(r.calls, snapshot{td.AllocatedBytes(), td.SafePointsCounter()})
}

func (r *recorder) take() []snapshot {
	calls := r.calls
	r.calls = nil
	return calls
}

func newThreadData(allocationThreshold, safePointThreshold uint64) (*ThreadData, *config.Config, *recorder) {
	cfg := config.New()
	cfg.SetAllocationThresholdBytes(allocationThreshold)
	cfg.SetSafePointThreshold(safePointThreshold)
	r := &recorder{}
	return New(cfg, r.slowPath), cfg, r
}

func expectCounters(t *testing.T, td *ThreadData, allocated, safePoints uint64) {
	t.Helper()
	if got := td.AllocatedBytes(); got != allocated {
		t.Errorf("AllocatedBytes() = %d, want %d", got, allocated)
	}
	if got := td.SafePointsCounter(); got != safePoints {
		t.Errorf("SafePointsCounter() = %d, want %d", got, safePoints)
	}
}

func expectOneCall(t *testing.T, r *recorder, want snapshot) {
	t.Helper()
	calls := r.take()
	if len(calls) != 1 {
		t.Fatalf("slow path ran %d times, want 1", len(calls))
	}
	if calls[0] != want {
		t.Errorf("slow path saw %+v, want %+v", calls[0], want)
	}
}

func expectNoCall(t *testing.T, r *recorder) {
	t.Helper()
	if calls := r.take(); len(calls) != 0 {
		t.Fatalf("slow path ran %d times, want 0", len(calls))
	}
}

// TestRegularSafePoint verifies that the slow path runs exactly on the
// call that reaches the threshold.
func TestRegularSafePoint(t *testing.T) {
	td, _, r := newThreadData(1, testThreshold)

	for range testCount - 1 {
		td.OnSafePointRegular(testWeight)
	}
	expectNoCall(t, r)
	expectCounters(t, td, 0, testThreshold-testWeight)

	td.OnSafePointRegular(testWeight)
	expectOneCall(t, r, snapshot{0, testThreshold})
	expectCounters(t, td, 0, 0)

	td.OnSafePointRegular(testWeight)
	expectNoCall(t, r)
	expectCounters(t, td, 0, testWeight)
}

// TestRegularSafePointKeepsRemainder verifies that the part of the weight
// past the threshold carries over.
func TestRegularSafePointKeepsRemainder(t *testing.T) {
	td, _, r := newThreadData(1, 5)

	td.OnSafePointRegular(3)
	td.OnSafePointRegular(4)
	expectOneCall(t, r, snapshot{0, 7})
	expectCounters(t, td, 0, 2)

	td.OnSafePointRegular(3)
	expectOneCall(t, r, snapshot{0, 5})
	expectCounters(t, td, 0, 0)
}

// TestAllocationSafePoint verifies the allocation threshold.
func TestAllocationSafePoint(t *testing.T) {
	td, _, r := newThreadData(testAllocationThreshold, 1)

	for range testCount - 1 {
		td.OnSafePointAllocation(testSize)
	}
	expectNoCall(t, r)
	expectCounters(t, td, testAllocationThreshold-testSize, 0)

	td.OnSafePointAllocation(testSize)
	expectOneCall(t, r, snapshot{testAllocationThreshold, 0})
	expectCounters(t, td, 0, 0)

	td.OnSafePointAllocation(testSize)
	expectNoCall(t, r)
	expectCounters(t, td, testSize, 0)
}

// TestResetByGC verifies that OnStoppedForGC zeroes both counters without
// running the slow path, and is idempotent.
func TestResetByGC(t *testing.T) {
	td, _, r := newThreadData(testAllocationThreshold, testThreshold)

	for range testCount - 1 {
		td.OnSafePointRegular(testWeight)
		td.OnSafePointAllocation(testSize)
	}
	expectNoCall(t, r)
	expectCounters(t, td, testAllocationThreshold-testSize, testThreshold-testWeight)

	td.OnStoppedForGC()
	expectNoCall(t, r)
	expectCounters(t, td, 0, 0)

	td.OnStoppedForGC()
	expectCounters(t, td, 0, 0)
}

// lowerThresholds makes the config thresholds one step smaller than the
// ones the counters started under.
func lowerThresholds(cfg *config.Config) {
	cfg.SetAllocationThresholdBytes(testAllocationThreshold - testSize)
	cfg.SetSafePointThreshold(testThreshold - testWeight)
}

// TestLoweredThresholdsApplyAtOnce verifies that both counters trigger at
// a threshold lowered before they started counting.
func TestLoweredThresholdsApplyAtOnce(t *testing.T) {
	td, cfg, r := newThreadData(testAllocationThreshold, testThreshold)
	lowerThresholds(cfg)

	for range testCount - 1 {
		td.OnSafePointRegular(testWeight)
	}
	expectOneCall(t, r, snapshot{0, testThreshold - testWeight})
	expectCounters(t, td, 0, 0)

	for range testCount - 1 {
		td.OnSafePointAllocation(testSize)
	}
	expectOneCall(t, r, snapshot{testAllocationThreshold - testSize, 0})
	expectCounters(t, td, 0, 0)
}

// TestThresholdLoweredBelowCounter verifies that lowering a threshold
// below a running counter fires on the next safepoint, and only once.
func TestThresholdLoweredBelowCounter(t *testing.T) {
	td, cfg, r := newThreadData(testAllocationThreshold, testThreshold)

	for range 6 {
		td.OnSafePointRegular(testWeight)
	}
	expectNoCall(t, r)
	expectCounters(t, td, 0, 12)

	cfg.SetSafePointThreshold(10)
	td.OnSafePointRegular(testWeight)
	expectOneCall(t, r, snapshot{0, 14})
	expectCounters(t, td, 0, 4)

	td.OnSafePointRegular(testWeight)
	expectNoCall(t, r)

	for range 6 {
		td.OnSafePointAllocation(testSize)
	}
	expectNoCall(t, r)
	cfg.SetAllocationThresholdBytes(10)
	td.OnSafePointAllocation(testSize)
	expectOneCall(t, r, snapshot{14, 6})
	expectCounters(t, td, 0, 0)
}

// TestThresholdFarBelowCounter verifies that a counter accumulated under a
// much larger threshold keeps less than one threshold after firing.
func TestThresholdFarBelowCounter(t *testing.T) {
	td, cfg, r := newThreadData(1<<20, 100)

	td.OnSafePointRegular(90)
	cfg.SetSafePointThreshold(4)
	td.OnSafePointRegular(1)
	expectOneCall(t, r, snapshot{0, 91})
	expectCounters(t, td, 0, 3) // (91-4) % 4

	td.OnSafePointRegular(1)
	expectOneCall(t, r, snapshot{0, 4})
	expectCounters(t, td, 0, 0)
}

// TestRaisedThreshold verifies that raising a threshold postpones the
// trigger for a counter that has not reached it.
func TestRaisedThreshold(t *testing.T) {
	td, cfg, r := newThreadData(testAllocationThreshold, testThreshold)

	for range testCount - 1 {
		td.OnSafePointRegular(testWeight)
	}
	cfg.SetSafePointThreshold(testThreshold + testWeight)
	td.OnSafePointRegular(testWeight)
	expectNoCall(t, r)

	td.OnSafePointRegular(testWeight)
	expectOneCall(t, r, snapshot{0, testThreshold + testWeight})
	expectCounters(t, td, 0, 0)
}

// TestIDsAreUnique verifies that every ThreadData gets its own ID.
func TestIDsAreUnique(t *testing.T) {
	cfg := config.New()
	seen := make(map[uint64]bool)
	for range 100 {
		td := New(cfg, nil)
		if seen[td.ID()] {
			t.Fatalf("duplicate ID %d", td.ID())
		}
		seen[td.ID()] = true
	}
}

// TestTriggersCounted verifies the slow-path counter.
func TestTriggersCounted(t *testing.T) {
	td, _, _ := newThreadData(1, 1)
	td.OnSafePointRegular(1)
	td.OnSafePointAllocation(1)
	if got := td.Triggers(); got != 2 {
		t.Errorf("Triggers() = %d, want 2", got)
	}
}

// BenchmarkOnSafePointRegular measures the fast path.
func BenchmarkOnSafePointRegular(b *testing.B) {
	cfg := config.New()
	td := New(cfg, nil)
	b.ReportAllocs()
	for b.Loop() {
		td.OnSafePointRegular(WeightLoopBody)
	}
}

// BenchmarkOnSafePointAllocation measures the allocation fast path.
func BenchmarkOnSafePointAllocation(b *testing.B) {
	cfg := config.New()
	td := New(cfg, nil)
	b.ReportAllocs()
	for b.Loop() {
		td.OnSafePointAllocation(16)
	}
}
