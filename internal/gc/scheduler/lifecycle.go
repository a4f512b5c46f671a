package scheduler

import "sync/atomic"

// Lifecycle reports whether the application is in the background. The
// adaptive timer skips time-based collections while it is.
type Lifecycle interface {
	Background() bool
}

// StaticLifecycle is a Lifecycle switched explicitly by the embedder.
// The zero value is in the foreground.
type StaticLifecycle struct {
	background atomic.Bool
}

// Background implements Lifecycle.
func (l *StaticLifecycle) Background() bool { return l.background.Load() }

// SetBackground moves the application to the background (true) or the
// foreground (false).
func (l *StaticLifecycle) SetBackground(v bool) { l.background.Store(v) }

type foreground struct{}

func (foreground) Background() bool { return false }
