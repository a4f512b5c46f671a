package heap

import (
	"fmt"
	"sync/atomic"
)

const (
	// HeaderSize is the accounted size of an object header.
	HeaderSize = 16
	// WordSize is the accounted size of one reference field.
	WordSize = 8
)

// RootTracker is told about atomic references. The cyclic collector
// implements it.
type RootTracker interface {
	// AddRoot is called when an atomic reference is created.
	AddRoot(ref *Object)
	// RemoveRoot is called when an atomic reference is freed.
	RemoveRoot(ref *Object)
	// MutateRoot is called when a slot changes value, and when a new
	// reference to a frozen object is taken.
	MutateRoot(value *Object)
}

type nopTracker struct{}

func (nopTracker) AddRoot(*Object)    {}
func (nopTracker) RemoveRoot(*Object) {}
func (nopTracker) MutateRoot(*Object) {}

// Options configures a Heap.
type Options struct {
	// Tracker receives root events. Nil means none.
	Tracker RootTracker

	// OnFree is called for every freed object, on the goroutine that
	// dropped the last reference.
	OnFree func(obj *Object)
}

// Heap allocates objects and keeps live-object statistics.
type Heap struct {
	tracker RootTracker
	onFree  func(*Object)

	nextID atomic.Uint64

	allocated      atomic.Uint64
	allocatedBytes atomic.Uint64
	freed          atomic.Uint64
	freedBytes     atomic.Uint64
}

// New creates a Heap.
func New(opts Options) *Heap {
	h := &Heap{tracker: opts.Tracker, onFree: opts.OnFree}
	if h.tracker == nil {
		h.tracker = nopTracker{}
	}
	return h
}

func (h *Heap) newContainer(kind Kind, counts []int) *Container {
	ct := &Container{heap: h}
	ct.header.kind = kind
	ct.header.count = newCounter(kind, 1)

	ct.objects = make([]*Object, len(counts))
	var bytes uint64
	for i, n := range counts {
		if n < 0 {
			panic(fmt.Sprintf("gcsched: negative field count %d", n))
		}
		obj := &Object{
			id:        h.nextID.Add(1),
			container: ct,
			size:      HeaderSize + uint64(n)*WordSize,
		}
		if n > 0 {
			obj.fields = make([]*Object, n)
		}
		ct.objects[i] = obj
		bytes += obj.size
	}
	h.allocated.Add(uint64(len(counts)))
	h.allocatedBytes.Add(bytes)
	return ct
}

// NewObject allocates an object with the given number of fields and
// returns it holding one reference for the caller. A Frozen object
// allocated this way keeps nil fields forever.
func (h *Heap) NewObject(kind Kind, fields int) *Object {
	return h.newContainer(kind, []int{fields}).objects[0]
}

// NewAggregate allocates one container with an object per entry of
// fields. The caller holds one reference to the whole container, through
// any of its members.
func (h *Heap) NewAggregate(kind Kind, fields ...int) []*Object {
	if len(fields) == 0 {
		panic("gcsched: empty aggregate")
	}
	return h.newContainer(kind, fields).objects
}

// NewAtomicRef allocates a frozen atomic reference holding initial, which
// must be frozen or nil, and registers it with the tracker.
func (h *Heap) NewAtomicRef(initial *Object) *Object {
	checkPublishable(initial)
	ct := h.newContainer(Frozen, []int{0})
	ref := ct.objects[0]
	ref.slot = &atomicSlot{}
	ref.size += WordSize
	h.allocatedBytes.Add(WordSize)
	if initial != nil {
		initial.retainQuiet()
		ref.slot.value.Store(initial)
	}
	h.tracker.AddRoot(ref)
	return ref
}

// free releases a container whose count reached zero, and then every
// container that drops to zero as a result.
func (h *Heap) free(ct *Container) {
	stack := []*Container{ct}
	for len(stack) > 0 {
		ct := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var bytes uint64
		for _, obj := range ct.objects {
			obj.freed.Store(true)
			bytes += obj.size
		}
		drop := func(v *Object) {
			if v.container.header.count.add(-1) == 0 {
				stack = append(stack, v.container)
			}
		}
		for _, obj := range ct.objects {
			if obj.slot != nil {
				obj.slot.mu.Lock()
				v := obj.slot.value.Swap(nil)
				obj.slot.mu.Unlock()
				if v != nil {
					h.tracker.MutateRoot(nil)
					drop(v)
				}
				h.tracker.RemoveRoot(obj)
				continue
			}
			// Fields stay in place: a concurrent collector walk may still
			// read them.
			for _, f := range obj.fields {
				if f != nil && f.container != ct {
					drop(f)
				}
			}
		}

		h.freed.Add(uint64(len(ct.objects)))
		h.freedBytes.Add(bytes)
		if h.onFree != nil {
			for _, obj := range ct.objects {
				h.onFree(obj)
			}
		}
	}
}

// Stats is a point-in-time summary of a Heap.
type Stats struct {
	Allocated      uint64
	AllocatedBytes uint64
	Freed          uint64
	FreedBytes     uint64
	Live           uint64
	LiveBytes      uint64
}

// Stats returns the current statistics.
func (h *Heap) Stats() Stats {
	freed, freedBytes := h.freed.Load(), h.freedBytes.Load()
	alloc, allocBytes := h.allocated.Load(), h.allocatedBytes.Load()
	s := Stats{
		Allocated:      alloc,
		AllocatedBytes: allocBytes,
		Freed:          freed,
		FreedBytes:     freedBytes,
	}
	if alloc > freed {
		s.Live = alloc - freed
	}
	if allocBytes > freedBytes {
		s.LiveBytes = allocBytes - freedBytes
	}
	return s
}

// Live returns the number of objects not yet freed.
func (h *Heap) Live() uint64 { return h.Stats().Live }
