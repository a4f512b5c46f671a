// simulate.go implements the 'gcsched simulate' command.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/gcsched/gc"
	"github.com/kolkov/gcsched/internal/gc/config"
	"github.com/kolkov/gcsched/internal/gc/scheduler"
)

// simulateConfig holds parsed 'simulate' arguments.
type simulateConfig struct {
	mutators   int
	iterations int
	policy     gc.Policy
	sets       []string
	verbose    bool
}

// simulateResult is what a run leaves behind, for tests.
type simulateResult struct {
	requested uint64
	finished  gc.Epoch
	live      uint64
	released  uint64
}

// simulateCommand implements the 'gcsched simulate' command.
//
// Mutator goroutines allocate short-lived object chains and, now and then,
// publish a cycle through an atomic reference and drop it. A fake tracer
// completes every cycle the scheduler requests, reporting the heap's live
// bytes as the alive set.
//
// Example:
//
//	gcsched simulate -mutators 8 -policy aggressive
func simulateCommand(args []string) {
	cfg, err := parseSimulateArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := runSimulation(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}
}

// parseSimulateArgs parses the simulate flags. Numeric values are
// converted with cast, the same way tunable values are.
func parseSimulateArgs(args []string) (*simulateConfig, error) {
	cfg := &simulateConfig{
		mutators:   4,
		iterations: 10_000,
		policy:     gc.PolicyAdaptive,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-v" || arg == "--verbose" {
			cfg.verbose = true
			continue
		}

		if i+1 >= len(args) {
			return nil, fmt.Errorf("flag %s requires a value", arg)
		}
		i++
		value := args[i]

		switch arg {
		case "-mutators":
			n, err := cast.ToIntE(value)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid -mutators %q", value)
			}
			cfg.mutators = n
		case "-iterations":
			n, err := cast.ToIntE(value)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid -iterations %q", value)
			}
			cfg.iterations = n
		case "-policy":
			k, err := scheduler.ParseKind(value)
			if err != nil {
				return nil, err
			}
			cfg.policy = k
		case "-set":
			cfg.sets = append(cfg.sets, value)
		default:
			return nil, fmt.Errorf("unknown flag %s", arg)
		}
	}
	return cfg, nil
}

// runSimulation runs the workload and writes the summary to w.
func runSimulation(ctx context.Context, sc *simulateConfig, w io.Writer) (*simulateResult, error) {
	cfg, err := config.FromEnvironment()
	if err != nil {
		return nil, err
	}
	if err := applySets(cfg, sc.sets); err != nil {
		return nil, err
	}

	logger := slog.New(slog.DiscardHandler)
	if sc.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	rt := gc.New(gc.Pulled, gc.WithConfig(cfg), gc.WithPolicy(sc.policy), gc.WithLogger(logger))
	tracerDone := startTracer(rt)
	rt.Start()

	g, ctx := errgroup.WithContext(ctx)
	for range sc.mutators {
		g.Go(func() error { return mutate(ctx, rt, sc.iterations) })
	}
	werr := g.Wait()

	rt.CollectCycles()
	rt.Stop()
	<-tracerDone

	rt.WriteSummary(w)

	res := &simulateResult{
		requested: rt.Scheduler().Stats().Requested,
		finished:  rt.Scheduler().State().Finished(),
		live:      rt.Heap().Live(),
		released:  rt.Cyclic().Stats().Released,
	}
	return res, werr
}

// startTracer runs a fake tracing collector that completes each requested
// cycle immediately. It exits when the scheduler stops.
func startTracer(rt *gc.Runtime) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s := rt.Scheduler()
		for {
			e, ok := s.WaitScheduled()
			if !ok {
				return
			}
			s.OnGCStart(e)
			s.OnGCFinish(e, rt.Heap().Stats().LiveBytes)
			s.OnGCFinalized(e)
		}
	}()
	return done
}

// mutate is one mutator goroutine.
func mutate(ctx context.Context, rt *gc.Runtime, iterations int) error {
	m := rt.Attach()
	defer m.Detach(true)

	for i := range iterations {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		m.SafePoint()

		// A short chain that reference counting frees on the spot.
		head := m.NewObject(gc.Local, 1)
		next := m.NewObject(gc.Local, 0)
		head.SetField(0, next)
		next.Release()
		head.Release()

		if i%64 == 0 {
			ref := m.NewAtomicRef(nil)
			node := m.NewObject(gc.Local, 1)
			node.SetField(0, ref)
			node.Freeze()
			ref.Set(node)
			node.Release()
			if !ref.IsFrozen() || ref.Load() != node {
				return fmt.Errorf("mutator %d: atomic reference lost its value", m.ID())
			}
			ref.Release()
		}
	}
	return nil
}
