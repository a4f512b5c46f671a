package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kolkov/gcsched/internal/gc/clock"
	"github.com/kolkov/gcsched/internal/gc/config"
	"github.com/kolkov/gcsched/internal/gc/mutator"
	"github.com/kolkov/gcsched/internal/gc/pacer"
)

// OnSafePoints checks both heap growth and the interval pacer from the
// mutator slow path. It runs no goroutines, so a mutator that never hits a
// safepoint never triggers a time-based cycle.
type OnSafePoints struct {
	heapPolicy
	pacer *pacer.Pacer
}

// NewOnSafePoints creates an OnSafePoints policy.
func NewOnSafePoints(cfg *config.Config, clk clock.Clock, req Requester, logger *slog.Logger) *OnSafePoints {
	return &OnSafePoints{
		heapPolicy: newHeapPolicy(cfg, req, logger),
		pacer:      pacer.New(cfg, clk),
	}
}

// UpdateFromThreadData implements Policy.
func (p *OnSafePoints) UpdateFromThreadData(td *mutator.ThreadData) {
	p.flush(td)
	if p.checkHeap() {
		return
	}
	if p.pacer.NeedsGC() {
		p.req.Schedule()
	}
}

// OnPerformFullGC implements Policy.
func (p *OnSafePoints) OnPerformFullGC() {
	p.heap.OnPerformFullGC()
	p.pacer.OnPerformFullGC()
}

// Pacer returns the interval pacer.
func (p *OnSafePoints) Pacer() *pacer.Pacer { return p.pacer }

// Start implements Policy.
func (p *OnSafePoints) Start() {}

// Stop implements Policy.
func (p *OnSafePoints) Stop() {}

// Adaptive checks heap growth from the mutator slow path and runs a timer
// goroutine for time-based cycles.
//
// The timer is armed for regularInterval. When it fires, and the
// application is not in the background, the pacer is asked whether a cycle
// is due. Every full cycle re-arms the timer, so the next time-based
// request comes a whole interval after the last cycle.
type Adaptive struct {
	heapPolicy
	pacer     *pacer.Pacer
	clock     clock.Clock
	lifecycle Lifecycle

	restart chan struct{}
	stop    chan struct{}
	done    chan struct{}

	started   atomic.Bool
	stopOnce  sync.Once
	timerRuns atomic.Uint64
}

// NewAdaptive creates an Adaptive policy. A nil lifecycle means always in
// the foreground.
func NewAdaptive(cfg *config.Config, clk clock.Clock, lifecycle Lifecycle, req Requester, logger *slog.Logger) *Adaptive {
	if clk == nil {
		clk = clock.System()
	}
	if lifecycle == nil {
		lifecycle = foreground{}
	}
	return &Adaptive{
		heapPolicy: newHeapPolicy(cfg, req, logger),
		pacer:      pacer.New(cfg, clk),
		clock:      clk,
		lifecycle:  lifecycle,
		restart:    make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// UpdateFromThreadData implements Policy.
func (a *Adaptive) UpdateFromThreadData(td *mutator.ThreadData) {
	a.flush(td)
	a.checkHeap()
}

// OnPerformFullGC implements Policy. It re-arms the timer.
func (a *Adaptive) OnPerformFullGC() {
	a.heap.OnPerformFullGC()
	a.pacer.OnPerformFullGC()
	select {
	case a.restart <- struct{}{}:
	default:
	}
}

// Pacer returns the interval pacer.
func (a *Adaptive) Pacer() *pacer.Pacer { return a.pacer }

// TimerRuns returns how many times the timer fired.
func (a *Adaptive) TimerRuns() uint64 { return a.timerRuns.Load() }

// Start launches the timer goroutine. Calling Start more than once has no
// further effect.
func (a *Adaptive) Start() {
	if a.started.Swap(true) {
		return
	}
	go a.timerLoop()
}

// Stop terminates the timer goroutine and waits for it.
func (a *Adaptive) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	if a.started.Load() {
		<-a.done
	}
}

func (a *Adaptive) timerLoop() {
	defer close(a.done)

	for {
		t := a.clock.NewTimer(a.cfg.RegularInterval())
		select {
		case <-a.stop:
			t.Stop()
			return
		case <-a.restart:
			t.Stop()
		case <-t.C():
			a.onTimer()
		}
	}
}

func (a *Adaptive) onTimer() {
	a.timerRuns.Add(1)
	if a.lifecycle.Background() {
		a.log.Debug("timer: in background, skipping")
		return
	}
	if a.pacer.NeedsGC() {
		a.req.Schedule()
	}
}
