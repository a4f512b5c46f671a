package gc_test

import (
	"fmt"

	"github.com/kolkov/gcsched/gc"
)

// Example builds a cycle through an atomic reference, which reference
// counting alone cannot free, and lets the cyclic collector release it.
func Example() {
	cfg := gc.NewConfig()
	cfg.SetCyclicInterval(0) // collect cycles only on request

	rt := gc.New(nil, gc.WithConfig(cfg), gc.WithPolicy(gc.PolicyManual))
	rt.Start()
	defer rt.Stop()

	m := rt.Attach()
	defer m.Detach(true)

	ref := m.NewAtomicRef(nil)
	node := m.NewObject(gc.Local, 1)
	node.SetField(0, ref)
	node.Freeze()
	ref.Set(node)
	node.Release()
	ref.Release()

	fmt.Println("live before:", rt.Heap().Live())
	fmt.Println("roots queued:", rt.CollectCycles())

	// Attached mutators release queued cycles at their next safepoint.
	m.SafePoint()
	fmt.Println("roots released:", rt.Cyclic().Stats().Released)
	fmt.Println("live after:", rt.Heap().Live())

	// Output:
	// live before: 2
	// roots queued: 1
	// roots released: 1
	// live after: 0
}

// Example_compatible shows the version check.
func Example_compatible() {
	fmt.Println(gc.Compatible(gc.Version))
	fmt.Println(gc.Compatible("v0.0.9"))
	fmt.Println(gc.Compatible("1.0.0"))
	fmt.Println(gc.Compatible("not-a-version"))

	// Output:
	// true
	// true
	// false
	// false
}
