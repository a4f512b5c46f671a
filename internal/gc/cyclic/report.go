package cyclic

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/kolkov/gcsched/internal/gc/heap"
)

// CycleReport describes one reference cycle found by DetectCycles.
type CycleReport struct {
	// Root is the atomic reference the cycle was found from.
	Root *heap.Object

	// Path is the reference path from Root back to Root, Root first.
	Path []*heap.Object

	// Key identifies the cycle by the sorted ids of its members, so the
	// same cycle found from two roots is reported once.
	Key string
}

func newCycleReport(path []*heap.Object) *CycleReport {
	ids := make([]uint64, len(path))
	for i, o := range path {
		ids[i] = o.ID()
	}
	slices.Sort(ids)

	var key strings.Builder
	for i, id := range ids {
		if i > 0 {
			key.WriteByte(':')
		}
		key.WriteString(strconv.FormatUint(id, 10))
	}
	return &CycleReport{Root: path[0], Path: path, Key: key.String()}
}

// Format writes the report in the style of a runtime warning:
//
//	==================
//	WARNING: REFERENCE CYCLE
//	ref#3 (count 1) keeps 2 objects alive:
//	  ref#3 -> obj#1(frozen) -> ref#3
//	==================
//
//nolint:errcheck // best-effort diagnostic output
func (r *CycleReport) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: REFERENCE CYCLE\n")
	fmt.Fprintf(w, "%s (count %d) keeps %d objects alive:\n",
		r.Root, r.Root.Container().Header().Count(), len(r.Path))

	fmt.Fprintf(w, "  ")
	for _, o := range r.Path {
		fmt.Fprintf(w, "%s -> ", o)
	}
	fmt.Fprintf(w, "%s\n", r.Root)
	fmt.Fprintf(w, "==================\n")
}

// String returns the formatted report.
func (r *CycleReport) String() string {
	var buf strings.Builder
	r.Format(&buf)
	return buf.String()
}

// FindCycle returns the shortest reference path leading from root back to
// itself, root first, or nil if there is none. Only frozen objects are
// followed.
func (c *Collector) FindCycle(root *heap.Object) []*heap.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return findCycle(root)
}

func findCycle(root *heap.Object) []*heap.Object {
	if root.Freed() || !root.IsFrozen() {
		return nil
	}
	prev := make(map[*heap.Object]*heap.Object)
	queue := []*heap.Object{root}

	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]

		closed := false
		obj.EachRef(func(target *heap.Object, _ bool) {
			if closed || !target.IsFrozen() {
				return
			}
			if target == root {
				closed = true
				return
			}
			if _, ok := prev[target]; ok {
				return
			}
			prev[target] = obj
			queue = append(queue, target)
		})
		if !closed {
			continue
		}

		var path []*heap.Object
		for o := obj; o != root; o = prev[o] {
			path = append(path, o)
		}
		path = append(path, root)
		slices.Reverse(path)
		return path
	}
	return nil
}

// DetectCycles reports every cycle that passes through a root, whether or
// not it is garbage. It is a debugging aid and holds the collector lock
// for the whole walk.
func (c *Collector) DetectCycles() []*CycleReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	var reports []*CycleReport
	for root := range c.roots {
		path := findCycle(root)
		if path == nil {
			continue
		}
		r := newCycleReport(path)
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		reports = append(reports, r)
	}
	slices.SortFunc(reports, func(a, b *CycleReport) int { return strings.Compare(a.Key, b.Key) })
	return reports
}
