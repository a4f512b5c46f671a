// Package scheduler decides when a garbage collection cycle runs.
//
// The Scheduler facade is the single entry point the rest of the runtime
// calls: mutators report safepoints and allocations, callers request or
// await a cycle, and the external collector reports progress. Behind it
// sits one interchangeable Policy:
//
//   - Adaptive: heap-growth checks on the mutator slow path plus a timer
//     goroutine that requests a cycle every regularInterval, suppressed
//     while the application is in the background.
//   - OnSafePoints: like Adaptive but the interval pacer is polled from the
//     mutator slow path instead of a timer goroutine.
//   - Aggressive: the first visit to every safepoint location requests a
//     cycle; otherwise the heap-growth check applies. Diagnostic only.
//   - Manual: never requests a cycle on its own.
//
// Requests are coalesced through epoch.State, so any number of concurrent
// requests from mutators and the timer yields at most one pending cycle.
//
// Thread Safety: every exported method is safe for concurrent use, except
// that a mutator.ThreadData must only be passed in by its owning goroutine.
package scheduler
