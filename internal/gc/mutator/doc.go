// Package mutator implements per-mutator scheduling counters.
//
// Every mutator goroutine owns one ThreadData holding two counters:
//   - allocatedBytes: bytes allocated since the last slow-path check
//   - safePointsCounter: accumulated safepoint weight since the last check
//
// Safepoints and allocations only bump a counter and compare it to the
// configured threshold. Once a threshold is reached the slow path runs: the active
// scheduling policy consumes the counters, asks the heap controller and the
// pacer, and possibly requests a collection. This amortizes the cost of the
// real checks over many safepoints.
//
// Performance requirements:
//   - OnSafePointRegular / OnSafePointAllocation: two loads, an add, a
//     compare and a store on the fast path; no locks, no allocations.
//
// Thresholds are atomic loads from config.Config on every check. A
// threshold lowered below a running counter fires on the next safepoint,
// once.
package mutator
