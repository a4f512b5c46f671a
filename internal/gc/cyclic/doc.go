// Package cyclic collects reference cycles among frozen objects.
//
// Reference counting frees acyclic garbage as soon as the last reference
// goes away. A cycle of frozen objects can only be closed through an
// atomic reference, the one mutable cell a frozen graph has, so atomic
// references are the roots the Collector analyzes. See Collector for the
// algorithm and the restart protocol that lets it run next to mutators.
//
// Usage:
//
//	c := cyclic.New(cfg)
//	h := heap.New(heap.Options{Tracker: c})
//	c.Start()
//	defer c.Terminate(true)
//
//	c.AddWorker(id)
//	defer c.RemoveWorker(id, true)
//	// ... at each safepoint:
//	c.CheckRelease()
package cyclic
