package cyclic

import "github.com/kolkov/gcsched/internal/gc/heap"

// walk is the scratch state of one pass.
type walk struct {
	order    []*heap.Container
	queue    []*heap.Container
	seen     map[*heap.Container]bool
	side     map[*heap.Container]int64
	external map[*heap.Container]bool
}

func newWalk() *walk {
	return &walk{
		seen:     make(map[*heap.Container]bool),
		side:     make(map[*heap.Container]int64),
		external: make(map[*heap.Container]bool),
	}
}

func (w *walk) visit(ct *heap.Container) {
	if w.seen[ct] {
		return
	}
	w.seen[ct] = true
	w.order = append(w.order, ct)
	w.queue = append(w.queue, ct)
}

// countSides walks everything reachable from the queued roots and counts,
// per container, the references coming from inside the walk. References
// between members of one container are not counted; a slot reference
// always is. Scanned containers are painted Gray; Green ones have nothing
// to scan.
func (w *walk) countSides() {
	for len(w.queue) > 0 {
		ct := w.queue[0]
		w.queue = w.queue[1:]
		h := ct.Header()
		if h.Kind() != heap.Frozen || h.Color() == heap.Green {
			continue
		}
		h.SetColor(heap.Gray)
		for _, obj := range ct.Objects() {
			obj.EachRef(func(target *heap.Object, viaSlot bool) {
				tc := target.Container()
				if viaSlot || tc != ct {
					w.side[tc]++
				}
				w.visit(tc)
			})
		}
	}
}

// markExternal marks every container whose real count differs from its
// side count, and everything reachable from those.
func (w *walk) markExternal() {
	var stack []*heap.Container
	for _, ct := range w.order {
		h := ct.Header()
		if h.Kind() != heap.Frozen || h.Count() != w.side[ct] {
			w.external[ct] = true
			stack = append(stack, ct)
		}
	}
	for len(stack) > 0 {
		ct := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h := ct.Header(); h.Kind() != heap.Frozen || h.Color() == heap.Green {
			continue
		}
		for _, obj := range ct.Objects() {
			obj.EachRef(func(target *heap.Object, _ bool) {
				tc := target.Container()
				if !w.external[tc] {
					w.external[tc] = true
					stack = append(stack, tc)
				}
			})
		}
	}
}

// garbage reports whether the walk proved ct unreachable from outside.
func (w *walk) garbage(ct *heap.Container) bool {
	return w.seen[ct] && !w.external[ct] && w.side[ct] > 0
}

// paint replaces the Gray of a finished walk: Black for containers
// reachable from outside, White for the rest, Purple for queued roots.
func (w *walk) paint(found []*heap.Object) {
	for _, ct := range w.order {
		h := ct.Header()
		switch {
		case h.Color() == heap.Green:
		case w.external[ct]:
			h.SetColor(heap.Black)
		default:
			h.SetColor(heap.White)
		}
	}
	for _, root := range found {
		root.Container().Header().SetColor(heap.Purple)
	}
}

// passLocked runs one analysis of the frozen graph reachable from the
// roots and returns the roots found to be garbage. It returns false if a
// mutation was seen during the pass, in which case nothing it computed
// can be trusted. c.mu must be held.
func (c *Collector) passLocked() ([]*heap.Object, bool) {
	c.mutated.Store(false)

	w := newWalk()
	for root := range c.roots {
		if !root.Freed() && root.IsFrozen() {
			w.visit(root.Container())
		}
	}
	w.countSides()
	if c.mutated.Load() {
		return nil, false
	}

	w.markExternal()
	if c.mutated.Load() {
		return nil, false
	}

	var found []*heap.Object
	for root := range c.roots {
		if !root.Freed() && w.garbage(root.Container()) {
			found = append(found, root)
		}
	}
	w.paint(found)
	return found, true
}
