// Package gc is the public API of the gcsched runtime: a GC scheduler that
// decides when an external tracing collector should run, and a cyclic
// collector that frees reference cycles a reference-counted heap cannot.
//
// # Quick Start
//
//	rt := gc.New(gc.CollectorFunc(func(e gc.Epoch) {
//		go trace(rt, e) // calls OnGCStart, OnGCFinish, OnGCFinalized
//	}))
//	rt.Start()
//	defer rt.Stop()
//
//	m := rt.Attach()
//	defer m.Detach(true)
//	for {
//		m.SafePoint()
//		obj := m.NewObject(gc.Local, 2)
//		// ...
//		obj.Release()
//	}
//
// # Scheduling
//
// Every mutator counts safepoints and allocated bytes. Crossing either
// threshold takes the slow path into the scheduling policy, which compares
// the heap size against the target:
//
//	heap < trigger            nothing
//	trigger <= heap < target  request a cycle
//	heap >= target            request a cycle and, with mutator assists,
//	                          wait until its marking is done
//
// The adaptive policy also requests a cycle when regularInterval has
// passed since the last one, unless the application is in the background.
// Requests made before a cycle starts share its epoch.
//
// # Cycle Collection
//
// Objects are reference counted. Freezing makes an object graph immutable
// and shareable; atomic references are its only mutable cells, and the
// only way a frozen graph can form a cycle. The cyclic collector analyses
// the graph reachable from atomic references next to running mutators,
// and restarts whenever a slot changes under it.
//
// # Configuration
//
// Tunables are read from the GCSCHED environment variable, e.g.
//
//	GCSCHED="targetHeapBytes=64MiB autoTune=false regularInterval=5s"
//
// Use Config.Describe for the full list.
package gc
