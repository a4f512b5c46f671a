// Package pacer implements the time-based collection trigger.
//
// A Pacer answers "has regularInterval elapsed since the last collection?".
// Combined with the adaptive policy's timer it guarantees a collection is
// attempted at least once per interval and at most once per two intervals,
// independent of allocation volume.
package pacer

import (
	"sync/atomic"
	"time"

	"github.com/kolkov/gcsched/internal/gc/clock"
	"github.com/kolkov/gcsched/internal/gc/config"
)

// Pacer tracks the time of the last full collection.
//
// Thread Safety: NeedsGC and the readers may be called from any goroutine.
// OnPerformFullGC is called by the collector.
type Pacer struct {
	cfg   *config.Config
	clock clock.Clock

	lastGC atomic.Pointer[time.Time] // keeps the monotonic reading
}

// New creates a Pacer whose last collection is "now".
func New(cfg *config.Config, clk clock.Clock) *Pacer {
	if clk == nil {
		clk = clock.System()
	}
	p := &Pacer{cfg: cfg, clock: clk}
	p.OnPerformFullGC()
	return p
}

// NeedsGC reports whether now >= lastGC + regularInterval.
func (p *Pacer) NeedsGC() bool {
	return !p.clock.Now().Before(p.NextDeadline())
}

// OnPerformFullGC records that a collection finished now.
func (p *Pacer) OnPerformFullGC() {
	now := p.clock.Now()
	p.lastGC.Store(&now)
}

// LastGC returns the time of the last recorded collection. With the
// system clock it carries a monotonic reading, so a wall-clock step does
// not move the deadline.
func (p *Pacer) LastGC() time.Time {
	return *p.lastGC.Load()
}

// NextDeadline returns lastGC + regularInterval.
func (p *Pacer) NextDeadline() time.Time {
	return p.LastGC().Add(p.cfg.RegularInterval())
}
