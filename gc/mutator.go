package gc

import (
	"github.com/kolkov/gcsched/internal/gc/epoch"
	"github.com/kolkov/gcsched/internal/gc/mutator"
)

// Mutator is a goroutine attached to a Runtime. It carries the
// goroutine's safepoint and allocation counters and must only be used by
// the goroutine that attached it.
type Mutator struct {
	rt   *Runtime
	td   *mutator.ThreadData
	id   uint64
	seen epoch.Epoch

	detached bool
}

// ID returns the mutator's id.
func (m *Mutator) ID() uint64 { return m.id }

// SafePoint is called at function prologues and loop back-edges. It
// advances the safepoint counter, resets the counters if a cycle has
// started since the last safepoint, and releases cycles queued by the
// cyclic collector.
func (m *Mutator) SafePoint() {
	m.safePoint(mutator.WeightFunctionPrologue)
}

// SafePointWeighted is SafePoint with an explicit weight.
func (m *Mutator) SafePointWeighted(weight uint64) {
	m.safePoint(weight)
}

func (m *Mutator) safePoint(weight uint64) {
	s := m.rt.sched
	if s.ObservesLocations() {
		// Identify the caller of SafePoint.
		s.SafePointAt(m.td, s.Locations().Capture(2), weight)
	} else {
		s.SafePointWeighted(m.td, weight)
	}

	if started := s.State().Started(); started > m.seen {
		m.seen = started
		s.OnStoppedForGC(m.td)
	}
	m.rt.cyclic.CheckRelease()
}

// Allocated records bytes allocated outside the Runtime's heap.
func (m *Mutator) Allocated(bytes uint64) {
	m.rt.sched.OnSafePointAllocation(m.td, bytes)
}

// NewObject allocates an object and accounts its size to this mutator.
func (m *Mutator) NewObject(kind Kind, fields int) *Object {
	o := m.rt.heap.NewObject(kind, fields)
	m.Allocated(o.Size())
	return o
}

// NewAggregate allocates an aggregate and accounts its size to this
// mutator.
func (m *Mutator) NewAggregate(kind Kind, fields ...int) []*Object {
	objs := m.rt.heap.NewAggregate(kind, fields...)
	var size uint64
	for _, o := range objs {
		size += o.Size()
	}
	m.Allocated(size)
	return objs
}

// NewAtomicRef allocates an atomic reference holding initial, which must
// be frozen or nil.
func (m *Mutator) NewAtomicRef(initial *Object) *Object {
	ref := m.rt.heap.NewAtomicRef(initial)
	m.Allocated(ref.Size())
	return ref
}

// Allocations returns the bytes allocated since the counters were last
// flushed to the heap controller.
func (m *Mutator) Allocations() uint64 { return m.td.AllocatedBytes() }

// Detach unregisters the mutator. With drain set it first releases any
// cycles the cyclic collector has queued. Detaching twice panics.
func (m *Mutator) Detach(drain bool) {
	if m.detached {
		panic("gcsched: mutator detached twice")
	}
	m.detached = true
	m.rt.sched.RemoveMutator(m.td)
	m.rt.cyclic.RemoveWorker(m.id, drain)
	m.rt.attached.Add(-1)
}
