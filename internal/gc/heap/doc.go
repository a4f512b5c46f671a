// Package heap is the reference-counted object model the cyclic collector
// works on.
//
// Objects live in containers. A container carries the reference count,
// the ownership Kind and a collector Color; the counting strategy follows
// the kind, plain for Local containers and atomic otherwise. Freeze turns
// a graph Frozen: immutable and shareable between goroutines. The only
// mutable state of a frozen graph is the slot of an atomic reference,
// which is why atomic references are the roots a cyclic collector starts
// from.
//
// Reference counting alone cannot free a cycle of frozen objects linked
// through atomic references. The heap reports such references to a
// RootTracker so that a collector can find and break those cycles.
package heap
