package cyclic

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kolkov/gcsched/internal/gc/clock"
	"github.com/kolkov/gcsched/internal/gc/config"
	"github.com/kolkov/gcsched/internal/gc/heap"
)

func newTestCollector(opts ...Option) (*Collector, *heap.Heap) {
	cfg := config.New()
	cfg.SetCyclicInterval(0)
	c := New(cfg, opts...)
	return c, heap.New(heap.Options{Tracker: c})
}

// link publishes a frozen node into ref whose only field points at next.
// It closes a cycle when next leads back to ref.
func link(h *heap.Heap, ref, next *heap.Object) *heap.Object {
	n := h.NewObject(heap.Local, 1)
	n.SetField(0, next)
	n.Freeze()
	ref.Set(n)
	n.Release()
	return n
}

// selfCycle builds ref -> node -> ref and returns ref, still held by the
// caller.
func selfCycle(h *heap.Heap) (ref, node *heap.Object) {
	ref = h.NewAtomicRef(nil)
	node = link(h, ref, ref)
	return ref, node
}

func expectPanic(t *testing.T, substr string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		msg, _ := r.(string)
		if r == nil || !strings.HasPrefix(msg, "gcsched:") || !strings.Contains(msg, substr) {
			t.Fatalf("panic = %v, want gcsched: ...%s...", r, substr)
		}
	}()
	fn()
}

// TestCollectSimpleCycle verifies that an unreachable cycle through one
// atomic reference is released.
func TestCollectSimpleCycle(t *testing.T) {
	c, h := newTestCollector()
	ref, node := selfCycle(h)
	ref.Release()

	if ref.Freed() {
		t.Fatal("cycle freed by reference counting alone")
	}
	if got := c.CollectNow(); got != 1 {
		t.Fatalf("CollectNow() = %d, want 1", got)
	}
	if !ref.Freed() || !node.Freed() {
		t.Error("cycle not freed")
	}
	if h.Live() != 0 {
		t.Errorf("Live() = %d, want 0", h.Live())
	}

	st := c.Stats()
	if st.Roots != 0 || st.Released != 1 || st.Found != 1 || st.Passes != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

// TestExternalReferencesKeepCycle verifies that a cycle referenced from
// outside, at any member, is never collected.
func TestExternalReferencesKeepCycle(t *testing.T) {
	tests := []struct {
		name string
		// hold keeps one external reference into the cycle and returns
		// the function that drops it.
		hold func(ref, node *heap.Object) func()
	}{
		{"root held", func(ref, _ *heap.Object) func() {
			return ref.Release
		}},
		{"member held", func(ref, node *heap.Object) func() {
			node.Retain()
			ref.Release()
			return node.Release
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, h := newTestCollector()
			ref, node := selfCycle(h)
			release := tt.hold(ref, node)

			if got := c.CollectNow(); got != 0 {
				t.Fatalf("CollectNow() = %d with an external reference, want 0", got)
			}
			if ref.Freed() || node.Freed() {
				t.Fatal("externally referenced cycle freed")
			}
			if got := ref.Container().Header().Color(); got != heap.Black {
				t.Errorf("root color = %v, want black", got)
			}

			release()
			if got := c.CollectNow(); got != 1 {
				t.Errorf("CollectNow() after release = %d, want 1", got)
			}
			if h.Live() != 0 {
				t.Errorf("Live() = %d, want 0", h.Live())
			}
		})
	}
}

// TestLocalHolderKeepsCycle verifies that a reference from a local object
// counts as external.
func TestLocalHolderKeepsCycle(t *testing.T) {
	c, h := newTestCollector()
	ref, node := selfCycle(h)
	holder := h.NewObject(heap.Local, 1)
	holder.SetField(0, node)
	ref.Release()

	if got := c.CollectNow(); got != 0 {
		t.Fatalf("CollectNow() = %d, want 0", got)
	}
	holder.Release()
	if got := c.CollectNow(); got != 1 {
		t.Fatalf("CollectNow() after dropping holder = %d, want 1", got)
	}
	if h.Live() != 0 {
		t.Errorf("Live() = %d, want 0", h.Live())
	}
}

// TestAcyclicRootNotCollected verifies that a root without a cycle is left
// to reference counting.
func TestAcyclicRootNotCollected(t *testing.T) {
	c, h := newTestCollector()
	leaf := h.NewObject(heap.Frozen, 0)
	ref := h.NewAtomicRef(leaf)
	leaf.Release()

	if got := c.CollectNow(); got != 0 {
		t.Fatalf("CollectNow() = %d, want 0", got)
	}
	ref.Release()
	if !leaf.Freed() {
		t.Error("leaf not freed with its root")
	}
	if c.Stats().Roots != 0 {
		t.Errorf("Roots = %d, want 0", c.Stats().Roots)
	}
}

// TestTwoRootCycle verifies a cycle closed through two atomic references.
func TestTwoRootCycle(t *testing.T) {
	c, h := newTestCollector()
	a := h.NewAtomicRef(nil)
	b := h.NewAtomicRef(nil)
	link(h, a, b)
	link(h, b, a)
	a.Release()
	b.Release()

	if got := c.CollectNow(); got != 2 {
		t.Fatalf("CollectNow() = %d, want 2", got)
	}
	if h.Live() != 0 {
		t.Errorf("Live() = %d, want 0", h.Live())
	}
}

// TestAggregateCycle verifies a cycle through members of one aggregate.
func TestAggregateCycle(t *testing.T) {
	c, h := newTestCollector()
	ref := h.NewAtomicRef(nil)
	objs := h.NewAggregate(heap.Local, 1, 1)
	objs[0].SetField(0, objs[1])
	objs[1].SetField(0, ref)
	objs[0].Freeze()
	ref.Set(objs[0])
	objs[0].Release()
	ref.Release()

	if got := c.CollectNow(); got != 1 {
		t.Fatalf("CollectNow() = %d, want 1", got)
	}
	if !objs[0].Freed() || !objs[1].Freed() || !ref.Freed() {
		t.Error("aggregate cycle not freed")
	}
}

// TestDeferredRelease verifies that with workers registered, cycles wait
// for a worker to release them.
func TestDeferredRelease(t *testing.T) {
	c, h := newTestCollector()
	c.AddWorker(1)

	ref, node := selfCycle(h)
	ref.Release()

	if got := c.CollectNow(); got != 1 {
		t.Fatalf("CollectNow() = %d, want 1", got)
	}
	if ref.Freed() {
		t.Fatal("released by the collector while a worker is registered")
	}
	if cand := c.Candidates(); len(cand) != 1 || cand[0] != ref {
		t.Fatalf("Candidates() = %v, want [%v]", cand, ref)
	}
	if got := ref.Container().Header().Color(); got != heap.Purple {
		t.Errorf("queued root color = %v, want purple", got)
	}
	if got := node.Container().Header().Color(); got != heap.White {
		t.Errorf("cycle member color = %v, want white", got)
	}

	// A queued root is held by the collector, so a second pass skips it.
	if got := c.CollectNow(); got != 0 {
		t.Errorf("second CollectNow() = %d, want 0", got)
	}

	if got := c.CheckRelease(); got != 1 {
		t.Fatalf("CheckRelease() = %d, want 1", got)
	}
	if !ref.Freed() || h.Live() != 0 {
		t.Error("cycle not freed by CheckRelease")
	}
	if got := c.CheckRelease(); got != 0 {
		t.Errorf("CheckRelease() with nothing queued = %d, want 0", got)
	}
	c.RemoveWorker(1, false)
}

// TestPassColors verifies the colors a walk leaves behind: Gray while
// counting, Black for containers held from outside, Green kept for leaves.
func TestPassColors(t *testing.T) {
	c, h := newTestCollector()

	ref := h.NewAtomicRef(nil)
	leaf := h.NewObject(heap.Local, 0)
	leaf.Freeze()
	node := h.NewObject(heap.Local, 2)
	node.SetField(0, ref)
	node.SetField(1, leaf)
	node.Freeze()
	ref.Set(node)
	node.Release()
	leaf.Release()

	color := func(o *heap.Object) heap.Color { return o.Container().Header().Color() }
	if got := color(leaf); got != heap.Green {
		t.Fatalf("leaf color = %v, want green", got)
	}

	w := newWalk()
	w.visit(ref.Container())
	w.countSides()
	if color(ref) != heap.Gray || color(node) != heap.Gray {
		t.Errorf("colors after counting = %v/%v, want gray/gray", color(ref), color(node))
	}
	if got := color(leaf); got != heap.Green {
		t.Errorf("leaf color after counting = %v, want green", got)
	}
	if w.side[leaf.Container()] != 1 {
		t.Errorf("leaf side count = %d, want 1", w.side[leaf.Container()])
	}

	// ref is still held by this test.
	if got := c.CollectNow(); got != 0 {
		t.Fatalf("CollectNow() = %d, want 0", got)
	}
	for _, o := range []*heap.Object{ref, node} {
		if got := color(o); got != heap.Black {
			t.Errorf("%s color = %v, want black", o, got)
		}
	}
	if got := color(leaf); got != heap.Green {
		t.Errorf("leaf color = %v, want green", got)
	}

	ref.Release()
	if got := c.CollectNow(); got != 1 {
		t.Fatalf("CollectNow() = %d after release, want 1", got)
	}
	if h.Live() != 0 {
		t.Errorf("Live() = %d, want 0", h.Live())
	}
}

// TestRemoveWorkerDrains verifies that a leaving worker releases queued
// cycles when asked to.
func TestRemoveWorkerDrains(t *testing.T) {
	c, h := newTestCollector()
	c.AddWorker(7)
	ref, _ := selfCycle(h)
	ref.Release()
	c.CollectNow()

	c.RemoveWorker(7, true)
	if !ref.Freed() {
		t.Error("RemoveWorker(drain) did not release queued cycles")
	}
	if c.Stats().Workers != 0 {
		t.Errorf("Workers = %d, want 0", c.Stats().Workers)
	}
}

// TestTerminate tests draining, abandoning and double termination.
func TestTerminate(t *testing.T) {
	t.Run("drain", func(t *testing.T) {
		c, h := newTestCollector()
		c.Start()
		ref, _ := selfCycle(h)
		ref.Release()

		c.Terminate(true)
		if !ref.Freed() {
			t.Error("Terminate(true) left the cycle allocated")
		}
		expectPanic(t, "terminated twice", func() { c.Terminate(true) })
	})

	t.Run("abandon", func(t *testing.T) {
		c, h := newTestCollector()
		c.AddWorker(1)
		ref, _ := selfCycle(h)
		ref.Release()
		c.CollectNow()

		c.Terminate(false)
		if ref.Freed() {
			t.Error("Terminate(false) released a queued cycle")
		}
		if got := c.Stats().Abandoned; got != 1 {
			t.Errorf("Abandoned = %d, want 1", got)
		}
		if got := c.CollectNow(); got != 0 {
			t.Errorf("CollectNow() after Terminate = %d, want 0", got)
		}
		expectPanic(t, "after Terminate", c.Start)
	})
}

// TestMisuse verifies the fatal misuse panics.
func TestMisuse(t *testing.T) {
	c, _ := newTestCollector()
	other := heap.New(heap.Options{})
	stranger := other.NewAtomicRef(nil)

	expectPanic(t, "unknown root", func() { c.RemoveRoot(stranger) })
	c.AddRoot(stranger)
	expectPanic(t, "added twice", func() { c.AddRoot(stranger) })

	expectPanic(t, "unknown worker", func() { c.RemoveWorker(3, false) })
	c.AddWorker(3)
	expectPanic(t, "added twice", func() { c.AddWorker(3) })
}

// TestScheduleRunsPass verifies that Schedule wakes the background
// goroutine.
func TestScheduleRunsPass(t *testing.T) {
	c, h := newTestCollector()
	c.Start()
	defer c.Terminate(true)

	ref, _ := selfCycle(h)
	ref.Release()
	c.Schedule()

	deadline := time.Now().Add(10 * time.Second)
	for !ref.Freed() {
		if time.Now().After(deadline) {
			t.Fatal("scheduled pass did not release the cycle")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestIntervalRunsPass verifies the idle timer with a manual clock.
func TestIntervalRunsPass(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	cfg := config.New()
	cfg.SetCyclicInterval(time.Second)
	c := New(cfg, WithClock(clk))
	h := heap.New(heap.Options{Tracker: c})

	ref, _ := selfCycle(h)
	ref.Release()

	c.Start()
	defer c.Terminate(true)
	clk.WaitForPending(clk.Now().Add(time.Second))
	clk.Advance(time.Second)
	// The timer is re-armed only after the pass and its release.
	clk.WaitForPending(clk.Now().Add(time.Second))

	if !ref.Freed() {
		t.Error("timer pass did not release the cycle")
	}
	if got := c.Stats().Passes; got != 1 {
		t.Errorf("Passes = %d, want 1", got)
	}
}

// TestDetectCycles tests the leak checker report.
func TestDetectCycles(t *testing.T) {
	c, h := newTestCollector()
	a := h.NewAtomicRef(nil)
	b := h.NewAtomicRef(nil)
	link(h, a, b)
	link(h, b, a)

	leaf := h.NewObject(heap.Frozen, 0)
	acyclic := h.NewAtomicRef(leaf)
	leaf.Release()

	if path := c.FindCycle(acyclic); path != nil {
		t.Errorf("FindCycle(acyclic) = %v, want nil", path)
	}
	path := c.FindCycle(a)
	if len(path) != 4 || path[0] != a || path[2] != b {
		t.Fatalf("FindCycle(a) = %v, want [a node b node]", path)
	}

	reports := c.DetectCycles()
	if len(reports) != 1 {
		t.Fatalf("DetectCycles() = %d reports, want 1 (same cycle from two roots)", len(reports))
	}
	out := reports[0].String()
	for _, want := range []string{"WARNING: REFERENCE CYCLE", a.String(), b.String(), "keeps 4 objects alive"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	// Detection does not collect: the cycle is still referenced.
	if a.Freed() || b.Freed() {
		t.Error("DetectCycles freed objects")
	}
}

// TestConcurrentMutators runs mutators that rewire a shared set of atomic
// references, building and dropping cycles, next to a collector that runs
// continuously. Objects a mutator holds must never be freed, and once
// everything is dropped every cycle must be collected.
func TestConcurrentMutators(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrent mutator test in short mode")
	}

	cfg := config.New()
	cfg.SetCyclicInterval(time.Millisecond)
	cfg.SetCyclicBackoffRestarts(4)
	c := New(cfg)
	h := heap.New(heap.Options{Tracker: c})

	const (
		shared    = 8
		mutators  = 4
		perWorker = 3000
	)
	refs := make([]*heap.Object, shared)
	for i := range refs {
		refs[i] = h.NewAtomicRef(nil)
	}

	c.Start()

	errs := make(chan string, mutators)
	var wg sync.WaitGroup
	for id := range mutators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddWorker(uint64(id))
			defer c.RemoveWorker(uint64(id), true)

			rng := rand.New(rand.NewPCG(uint64(id), 42))
			fail := func(format string, args ...any) {
				select {
				case errs <- fmt.Sprintf(format, args...):
				default:
				}
			}

			for i := range perWorker {
				r := refs[rng.IntN(shared)]
				switch rng.IntN(4) {
				case 0:
					link(h, r, refs[rng.IntN(shared)])
				case 1:
					v := r.Get()
					if v == nil {
						break
					}
					if v.Freed() {
						fail("held value %v was freed", v)
					}
					if f := v.Field(0); f != nil && f.Freed() {
						fail("field %v of held value was freed", f)
					}
					v.Release()
				case 2:
					r.Set(nil)
				case 3:
					p, _ := selfCycle(h)
					p.Release()
				}
				if i%32 == 0 {
					c.CheckRelease()
					c.Schedule()
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}

	for _, r := range refs {
		if r.Freed() {
			t.Fatalf("shared root %v freed while held", r)
		}
	}
	for _, r := range refs {
		r.Release()
	}

	for range 10 {
		c.CollectNow()
		if h.Live() == 0 {
			break
		}
	}
	c.Terminate(true)

	if got := h.Live(); got != 0 {
		t.Errorf("Live() = %d after collecting everything, want 0", got)
	}
	if got := c.Stats().Roots; got != 0 {
		t.Errorf("Roots = %d, want 0", got)
	}
}
