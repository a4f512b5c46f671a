package scheduler

import (
	"log/slog"
	"sync/atomic"

	"go.dw1.io/fastcache"

	"github.com/kolkov/gcsched/internal/gc/config"
	"github.com/kolkov/gcsched/internal/gc/mutator"
	"github.com/kolkov/gcsched/internal/gc/safepoint"
)

// DefaultLocationCapacity bounds the Aggressive policy's location set.
const DefaultLocationCapacity = 16_384

// Aggressive requests a cycle on the first visit to every safepoint
// location, by any mutator. It maximizes collection frequency to shake out
// concurrency bugs and is not meant for production.
//
// The set of visited locations is a bounded cache. Once it is full, old
// locations may be evicted and count as new again on their next visit.
type Aggressive struct {
	heapPolicy
	seen *fastcache.Cache[string, bool]

	newLocations atomic.Uint64
}

// NewAggressive creates an Aggressive policy remembering up to capacity
// locations. A non-positive capacity uses DefaultLocationCapacity.
func NewAggressive(cfg *config.Config, capacity int, req Requester, logger *slog.Logger) *Aggressive {
	if capacity <= 0 {
		capacity = DefaultLocationCapacity
	}
	return &Aggressive{
		heapPolicy: newHeapPolicy(cfg, req, logger),
		seen:       fastcache.New[string, bool](capacity),
	}
}

// OnSafePoint implements SafePointObserver.
func (a *Aggressive) OnSafePoint(loc safepoint.Location) {
	key := loc.Key()
	if _, ok := a.seen.Get(key); ok {
		return
	}
	a.seen.Set(key, true)
	a.newLocations.Add(1)
	a.log.Debug("new safepoint location", "location", loc)
	a.req.Schedule()
}

// NewLocations returns how many first visits requested a cycle.
func (a *Aggressive) NewLocations() uint64 { return a.newLocations.Load() }

// UpdateFromThreadData implements Policy. It falls back to the heap
// growth check.
func (a *Aggressive) UpdateFromThreadData(td *mutator.ThreadData) {
	a.flush(td)
	a.checkHeap()
}

// OnPerformFullGC implements Policy.
func (a *Aggressive) OnPerformFullGC() { a.heap.OnPerformFullGC() }

// Start implements Policy.
func (a *Aggressive) Start() {}

// Stop implements Policy.
func (a *Aggressive) Stop() {}
