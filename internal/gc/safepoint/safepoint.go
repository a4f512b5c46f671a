// Package safepoint identifies safepoint call sites.
//
// A Location is a compact 64-bit identifier of the program point that hit a
// safepoint. The aggressive scheduling policy uses it to notice the first
// visit to every new location; reports resolve it back to file:line.
//
// Design:
//   - The identifier is the FNV-1a hash of the caller's program counters
//     (one frame by default, up to MaxFrames).
//   - Program counters are kept in a Depot keyed by Location so that
//     Describe can symbolize them later. A Depot is owned by whoever
//     captures (the Scheduler) and holds a bounded number of traces; the
//     oldest are evicted first.
//
// Performance:
//   - Capture: runtime.Callers plus a hash, a depot lookup, and on first
//     sight a depot store.
//   - Describe: runtime.CallersFrames; only for reporting.
//
// Usage:
//
//	d := safepoint.NewDepot(0)
//	loc := d.Capture(0)        // identifies the caller of Capture
//	fmt.Println(d.Describe(loc)) // e.g. "worker.go:42"
package safepoint

import (
	"encoding/binary"
	"hash/fnv"
	"path/filepath"
	"runtime"
	"strconv"

	"go.dw1.io/fastcache"
)

// MaxFrames is the largest number of frames CaptureFrames records.
const MaxFrames = 8

// DefaultCapacity is the number of traces a Depot keeps when NewDepot is
// given a non-positive capacity.
const DefaultCapacity = 4096

// Location identifies a safepoint call site. Zero means unknown.
type Location uint64

// Key returns the identifier in a form usable as a string map key.
func (l Location) Key() string {
	return strconv.FormatUint(uint64(l), 16)
}

// String returns the identifier in hex. Use Depot.Describe for file:line.
func (l Location) String() string {
	return "loc:" + l.Key()
}

type trace struct {
	pcs [MaxFrames]uintptr
	n   int
}

// Depot records the program counters behind each captured Location.
//
// Thread Safety: all methods are safe for concurrent use.
type Depot struct {
	traces *fastcache.Cache[Location, *trace]
}

// NewDepot creates a Depot holding up to capacity traces.
func NewDepot(capacity int) *Depot {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Depot{traces: fastcache.New[Location, *trace](capacity)}
}

// Capture returns the Location of the function that called Capture, or of
// one of its callers when skip > 0.
func (d *Depot) Capture(skip int) Location {
	return d.capture(skip+1, 1)
}

// CaptureFrames is like Capture but identifies the location by the top
// frames of the stack, so the same call site reached through different
// callers gets different identifiers.
func (d *Depot) CaptureFrames(skip, frames int) Location {
	return d.capture(skip+1, min(max(frames, 1), MaxFrames))
}

func (d *Depot) capture(skip, frames int) Location {
	var t trace
	// Skip runtime.Callers, capture and the exported wrapper.
	t.n = runtime.Callers(skip+2, t.pcs[:frames])
	if t.n == 0 {
		return 0
	}

	loc := hashPCs(t.pcs[:t.n])
	if !d.traces.Has(loc) {
		d.traces.Set(loc, &t)
	}
	return loc
}

func hashPCs(pcs []uintptr) Location {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		_, _ = h.Write(buf[:])
	}
	loc := Location(h.Sum64())
	if loc == 0 {
		loc = 1
	}
	return loc
}

// Frame is a symbolized call site.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Lookup resolves a Location to its innermost frame.
func (d *Depot) Lookup(l Location) (Frame, bool) {
	frames := d.LookupFrames(l)
	if len(frames) == 0 {
		return Frame{}, false
	}
	return frames[0], true
}

// LookupFrames resolves every recorded frame of a Location, innermost
// first. It returns nil for an unknown or evicted Location.
func (d *Depot) LookupFrames(l Location) []Frame {
	t, ok := d.traces.Get(l)
	if !ok {
		return nil
	}

	var out []Frame
	frames := runtime.CallersFrames(t.pcs[:t.n])
	for {
		f, more := frames.Next()
		if f.PC != 0 {
			out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			break
		}
	}
	return out
}

// Describe returns "file.go:line" for a known location and "<unknown>"
// otherwise.
func (d *Depot) Describe(l Location) string {
	f, ok := d.Lookup(l)
	if !ok {
		return "<unknown>"
	}
	return filepath.Base(f.File) + ":" + strconv.Itoa(f.Line)
}

// Len returns how many traces the Depot holds.
func (d *Depot) Len() int { return d.traces.Len() }
