package pacer

import (
	"strings"
	"testing"
	"time"

	"github.com/kolkov/gcsched/internal/gc/clock"
	"github.com/kolkov/gcsched/internal/gc/config"
)

func newPacer(interval time.Duration) (*Pacer, *clock.Manual) {
	cfg := config.New()
	cfg.SetRegularInterval(interval)
	clk := clock.NewManual(time.Unix(0, 0))
	return New(cfg, clk), clk
}

// TestNeedsGCAfterInterval verifies the time-based trigger.
func TestNeedsGCAfterInterval(t *testing.T) {
	p, clk := newPacer(10 * time.Microsecond)

	if p.NeedsGC() {
		t.Fatal("NeedsGC() = true at start")
	}
	clk.Advance(9 * time.Microsecond)
	if p.NeedsGC() {
		t.Fatal("NeedsGC() = true before interval")
	}
	clk.Advance(time.Microsecond)
	if !p.NeedsGC() {
		t.Fatal("NeedsGC() = false at interval")
	}
}

// TestFullIntervalAfterLastGC verifies that OnPerformFullGC restarts the
// interval from the collection time, not from the previous deadline.
func TestFullIntervalAfterLastGC(t *testing.T) {
	p, clk := newPacer(10 * time.Microsecond)

	clk.Advance(5 * time.Microsecond)
	p.OnPerformFullGC()

	clk.Advance(5 * time.Microsecond)
	if p.NeedsGC() {
		t.Error("NeedsGC() = true 5us after last collection")
	}

	clk.Advance(5 * time.Microsecond)
	if !p.NeedsGC() {
		t.Error("NeedsGC() = false 10us after last collection")
	}

	want := time.Unix(0, 0).Add(15 * time.Microsecond)
	if got := p.NextDeadline(); !got.Equal(want) {
		t.Errorf("NextDeadline() = %v, want %v", got, want)
	}
	if got := p.LastGC(); !got.Equal(time.Unix(0, 0).Add(5*time.Microsecond)) {
		t.Errorf("LastGC() = %v", got)
	}
}

// TestIntervalChangeTakesEffect verifies that the interval is read live.
func TestIntervalChangeTakesEffect(t *testing.T) {
	cfg := config.New()
	cfg.SetRegularInterval(time.Hour)
	clk := clock.NewManual(time.Unix(0, 0))
	p := New(cfg, clk)

	clk.Advance(time.Minute)
	if p.NeedsGC() {
		t.Fatal("NeedsGC() = true before interval")
	}
	cfg.SetRegularInterval(time.Second)
	if !p.NeedsGC() {
		t.Error("NeedsGC() = false after shrinking the interval")
	}
}

// TestLastGCKeepsMonotonicReading verifies that the recorded time, and so
// the deadline, is measured on the monotonic clock rather than wall time.
func TestLastGCKeepsMonotonicReading(t *testing.T) {
	cfg := config.New()
	cfg.SetRegularInterval(time.Hour)
	p := New(cfg, clock.System())

	// time.Time.String reports the monotonic reading as "m=".
	if s := p.LastGC().String(); !strings.Contains(s, "m=") {
		t.Errorf("LastGC() = %s, want a monotonic reading", s)
	}
	p.OnPerformFullGC()
	if s := p.NextDeadline().String(); !strings.Contains(s, "m=") {
		t.Errorf("NextDeadline() = %s, want a monotonic reading", s)
	}
	if p.NeedsGC() {
		t.Error("NeedsGC() = true right after a collection")
	}
}
