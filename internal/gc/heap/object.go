package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Container is the unit of reference counting. A plain object has a
// container of its own; an aggregate shares one container between its
// members, and references between members are not counted.
type Container struct {
	header  Header
	objects []*Object
	heap    *Heap
}

// Header returns the reference-count header.
func (c *Container) Header() *Header { return &c.header }

// Objects returns the members of the container. The slice must not be
// modified.
func (c *Container) Objects() []*Object { return c.objects }

// Object is a heap object: a fixed number of reference fields, or one
// atomic slot for an atomic reference.
type Object struct {
	id        uint64
	container *Container
	fields    []*Object
	slot      *atomicSlot
	size      uint64
	freed     atomic.Bool
}

// atomicSlot is the mutable cell of an atomic reference. The mutex pairs
// the load with the retain in Get; the collector reads value without it.
type atomicSlot struct {
	mu    sync.Mutex
	value atomic.Pointer[Object]
}

// ID returns the object's heap-unique id.
func (o *Object) ID() uint64 { return o.id }

// Container returns the container the object belongs to.
func (o *Object) Container() *Container { return o.container }

// Kind returns the ownership kind of the object's container.
func (o *Object) Kind() Kind { return o.container.header.kind }

// IsFrozen reports whether the object is frozen.
func (o *Object) IsFrozen() bool { return o.container.header.kind == Frozen }

// IsAtomicRef reports whether the object is an atomic reference.
func (o *Object) IsAtomicRef() bool { return o.slot != nil }

// Freed reports whether the object's container has been freed.
func (o *Object) Freed() bool { return o.freed.Load() }

// Size returns the accounted size in bytes.
func (o *Object) Size() uint64 { return o.size }

// NumFields returns the number of reference fields.
func (o *Object) NumFields() int { return len(o.fields) }

// String returns a short debug name such as "obj#3(frozen)".
func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	if o.slot != nil {
		return fmt.Sprintf("ref#%d", o.id)
	}
	return fmt.Sprintf("obj#%d(%s)", o.id, o.Kind())
}

// Field returns field i without retaining it. The result is only valid
// while o is held.
func (o *Object) Field(i int) *Object { return o.fields[i] }

// SetField stores v in field i, retaining v and releasing the previous
// value. References inside one container are not counted. Writing to a
// frozen object panics.
func (o *Object) SetField(i int, v *Object) {
	if o.IsFrozen() {
		panic(fmt.Sprintf("gcsched: write to field %d of frozen %s", i, o))
	}
	if v != nil && v.container != o.container {
		v.Retain()
	}
	old := o.fields[i]
	o.fields[i] = v
	if old != nil && old.container != o.container {
		old.Release()
	}
}

// Retain adds a reference. Taking a new reference to a frozen object is
// reported to the root tracker, since it can make a cycle reachable again.
func (o *Object) Retain() {
	if o.freed.Load() {
		panic(fmt.Sprintf("gcsched: retain of freed %s", o))
	}
	h := &o.container.header
	h.count.add(1)
	if h.kind == Frozen {
		o.container.heap.tracker.MutateRoot(o)
	}
}

// retainQuiet adds a reference without notifying the tracker. Used for the
// reference an atomic slot takes, which is reported by the slot write.
func (o *Object) retainQuiet() {
	if o.freed.Load() {
		panic(fmt.Sprintf("gcsched: retain of freed %s", o))
	}
	o.container.header.count.add(1)
}

// Release drops a reference. The container is freed when its count
// reaches zero, releasing everything it references.
func (o *Object) Release() {
	n := o.container.header.count.add(-1)
	switch {
	case n == 0:
		o.container.heap.free(o.container)
	case n < 0:
		panic(fmt.Sprintf("gcsched: release of freed %s", o))
	}
}

// Freeze makes o and everything reachable from it permanently immutable.
// The caller must be the only goroutine with access to the unfrozen part
// of the graph.
func (o *Object) Freeze() {
	if o.IsFrozen() {
		return
	}
	stack := []*Container{o.container}
	for len(stack) > 0 {
		ct := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if ct.header.kind == Frozen {
			continue
		}
		ct.header.freeze()

		outgoing := false
		for _, obj := range ct.objects {
			for _, f := range obj.fields {
				if f == nil || f.container == ct {
					continue
				}
				outgoing = true
				if f.container.header.kind != Frozen {
					stack = append(stack, f.container)
				}
			}
		}
		if !outgoing {
			ct.header.SetColor(Green)
		}
	}
}

// EachRef calls fn for every outgoing reference. For an atomic reference
// that is the slot value, read atomically, with viaSlot set.
func (o *Object) EachRef(fn func(target *Object, viaSlot bool)) {
	if o.slot != nil {
		if v := o.slot.value.Load(); v != nil {
			fn(v, true)
		}
		return
	}
	for _, f := range o.fields {
		if f != nil {
			fn(f, false)
		}
	}
}

func (o *Object) mustSlot() *atomicSlot {
	if o.slot == nil {
		panic(fmt.Sprintf("gcsched: %s is not an atomic reference", o))
	}
	return o.slot
}

func checkPublishable(v *Object) {
	if v != nil && !v.IsFrozen() {
		panic(fmt.Sprintf("gcsched: atomic reference value %s must be frozen", v))
	}
}

// Load returns the slot value without retaining it.
func (o *Object) Load() *Object { return o.mustSlot().value.Load() }

// Get returns the slot value, retained for the caller.
func (o *Object) Get() *Object {
	s := o.mustSlot()
	s.mu.Lock()
	v := s.value.Load()
	if v != nil {
		v.Retain()
	}
	s.mu.Unlock()
	return v
}

// Set stores v, which must be frozen or nil. The tracker is told about
// the write unless the value did not change.
func (o *Object) Set(v *Object) {
	s := o.mustSlot()
	checkPublishable(v)
	if v != nil {
		v.retainQuiet()
	}
	s.mu.Lock()
	old := s.value.Swap(v)
	s.mu.Unlock()
	if old != v {
		o.container.heap.tracker.MutateRoot(v)
	}
	if old != nil {
		old.Release()
	}
}

// CompareAndSet stores v if the slot holds expected and reports whether
// it did.
func (o *Object) CompareAndSet(expected, v *Object) bool {
	s := o.mustSlot()
	checkPublishable(v)
	if v != nil {
		v.retainQuiet()
	}
	s.mu.Lock()
	swapped := s.value.CompareAndSwap(expected, v)
	s.mu.Unlock()
	if !swapped {
		if v != nil {
			v.Release()
		}
		return false
	}
	if expected != v {
		o.container.heap.tracker.MutateRoot(v)
	}
	if expected != nil {
		expected.Release()
	}
	return true
}
