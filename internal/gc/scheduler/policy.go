package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kolkov/gcsched/internal/gc/config"
	"github.com/kolkov/gcsched/internal/gc/epoch"
	"github.com/kolkov/gcsched/internal/gc/heapgrowth"
	"github.com/kolkov/gcsched/internal/gc/mutator"
	"github.com/kolkov/gcsched/internal/gc/safepoint"
)

// Requester is what a policy calls to get a cycle going. The Scheduler
// implements it.
type Requester interface {
	// Schedule requests a cycle without blocking and returns its epoch,
	// or 0 after shutdown.
	Schedule() epoch.Epoch

	// WaitFinished blocks until marking of e or a later cycle is done.
	WaitFinished(e epoch.Epoch)
}

// Policy decides when to request a cycle.
type Policy interface {
	// UpdateFromThreadData is the mutator slow path. It runs on the
	// mutator goroutine that owns td.
	UpdateFromThreadData(td *mutator.ThreadData)

	// OnPerformFullGC is called by the collector after a full cycle.
	OnPerformFullGC()

	// UpdateAliveSetBytes feeds the live-set census of the last cycle.
	UpdateAliveSetBytes(bytes uint64)

	// Heap returns the heap-growth controller the policy consults.
	Heap() *heapgrowth.Controller

	// Start and Stop manage background goroutines, if any. Stop waits for
	// them to exit.
	Start()
	Stop()
}

// SafePointObserver is implemented by policies that look at the location
// of every safepoint, not just at the counters.
type SafePointObserver interface {
	OnSafePoint(loc safepoint.Location)
}

// Kind names a policy.
type Kind int

const (
	KindAdaptive Kind = iota
	KindOnSafePoints
	KindAggressive
	KindManual
)

// ErrUnknownPolicy is returned by ParseKind.
var ErrUnknownPolicy = errors.New("unknown scheduling policy")

var kindNames = [...]string{
	KindAdaptive:     "adaptive",
	KindOnSafePoints: "on-safepoints",
	KindAggressive:   "aggressive",
	KindManual:       "manual",
}

// String returns the policy name.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind parses a policy name as printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// heapPolicy is the heap-growth part shared by every policy.
type heapPolicy struct {
	cfg  *config.Config
	heap *heapgrowth.Controller
	req  Requester
	log  *slog.Logger
}

func newHeapPolicy(cfg *config.Config, req Requester, logger *slog.Logger) heapPolicy {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return heapPolicy{
		cfg:  cfg,
		heap: heapgrowth.New(cfg, logger),
		req:  req,
		log:  logger,
	}
}

// flush moves the mutator's allocation counter into the heap controller.
func (p *heapPolicy) flush(td *mutator.ThreadData) {
	p.heap.OnAllocated(td.AllocatedBytes())
}

// checkHeap requests a cycle according to the heap boundary and reports
// whether it did. At the Target boundary the calling mutator assists by
// waiting until marking of that cycle is done.
func (p *heapPolicy) checkHeap() bool {
	switch b := p.heap.Boundary(); b {
	case heapgrowth.Trigger:
		p.req.Schedule()
		return true
	case heapgrowth.Target:
		if e := p.req.Schedule(); e != 0 {
			p.log.Debug("mutator assist", "epoch", e, "heapBytes", p.heap.HeapBytes())
			p.req.WaitFinished(e)
		}
		return true
	default:
		return false
	}
}

func (p *heapPolicy) UpdateAliveSetBytes(bytes uint64) { p.heap.UpdateAliveSetBytes(bytes) }

func (p *heapPolicy) Heap() *heapgrowth.Controller { return p.heap }

// Manual never requests a cycle on its own. The heap controller still
// tracks allocation and tunes the target so that statistics stay useful.
type Manual struct {
	heapPolicy
}

// NewManual creates a Manual policy.
func NewManual(cfg *config.Config, req Requester, logger *slog.Logger) *Manual {
	return &Manual{heapPolicy: newHeapPolicy(cfg, req, logger)}
}

// UpdateFromThreadData implements Policy.
func (m *Manual) UpdateFromThreadData(td *mutator.ThreadData) { m.flush(td) }

// OnPerformFullGC implements Policy.
func (m *Manual) OnPerformFullGC() { m.heap.OnPerformFullGC() }

// Start implements Policy.
func (m *Manual) Start() {}

// Stop implements Policy.
func (m *Manual) Stop() {}
