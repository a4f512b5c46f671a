package heap

import "sync/atomic"

// Kind is the ownership of a container.
type Kind uint8

const (
	// Local objects belong to one goroutine and use a plain counter.
	Local Kind = iota

	// Shared objects are mutable and shared; their counter is atomic and
	// field writes need external synchronization.
	Shared

	// Frozen objects are permanently immutable and safe to share. Only
	// the slot of an atomic reference changes after freezing.
	Frozen
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Shared:
		return "shared"
	case Frozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// Color is scratch state written by the cyclic collector.
type Color uint32

const (
	// Black: referenced from outside the analyzed closure.
	Black Color = iota
	// Gray: visited by an unfinished walk.
	Gray
	// White: only referenced from inside the closure.
	White
	// Purple: a root queued for release.
	Purple
	// Green: has no outgoing references, so it cannot be on a cycle.
	Green
)

// String returns the color name.
func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case Gray:
		return "gray"
	case White:
		return "white"
	case Purple:
		return "purple"
	case Green:
		return "green"
	default:
		return "unknown"
	}
}

// refCounter is the counting strategy of a header. Local containers use
// a plain integer; shared and frozen ones an atomic.
type refCounter interface {
	load() int64
	add(delta int64) int64
}

type localCount struct{ n int64 }

func (c *localCount) load() int64           { return c.n }
func (c *localCount) add(delta int64) int64 { c.n += delta; return c.n }

type sharedCount struct{ n atomic.Int64 }

func (c *sharedCount) load() int64           { return c.n.Load() }
func (c *sharedCount) add(delta int64) int64 { return c.n.Add(delta) }

func newCounter(k Kind, initial int64) refCounter {
	if k == Local {
		return &localCount{n: initial}
	}
	c := &sharedCount{}
	c.n.Store(initial)
	return c
}

// Header is the reference-count header of a container: a count, the
// ownership kind, and a collector color, kept as separate fields.
type Header struct {
	count refCounter
	kind  Kind
	color atomic.Uint32
}

// Count returns the current reference count.
func (h *Header) Count() int64 { return h.count.load() }

// Kind returns the ownership kind.
func (h *Header) Kind() Kind { return h.kind }

// Color returns the collector color.
func (h *Header) Color() Color { return Color(h.color.Load()) }

// SetColor sets the collector color.
func (h *Header) SetColor(c Color) { h.color.Store(uint32(c)) }

// freeze switches the header to Frozen, carrying the count over to an
// atomic counter. The caller must be the only goroutine touching it.
func (h *Header) freeze() {
	if h.kind == Frozen {
		return
	}
	h.count = newCounter(Frozen, h.count.load())
	h.kind = Frozen
}
