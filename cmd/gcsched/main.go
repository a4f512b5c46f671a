// Package main implements the gcsched CLI tool.
//
// The gcsched tool exercises the GC scheduling runtime outside of a real
// language runtime. It can:
//
//  1. Run a synthetic workload of mutator goroutines against a fake tracer
//  2. List the runtime tunables and their current values
//
// Usage:
//
//	gcsched simulate -mutators 8 -iterations 10000
//	gcsched tunables -set targetHeapBytes=64MiB
//	gcsched version
package main

import (
	"fmt"
	"os"

	"github.com/kolkov/gcsched/gc"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "simulate":
		simulateCommand(os.Args[2:])
	case "tunables":
		tunablesCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("gcsched version %s\n", gc.Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`gcsched - GC scheduling and cycle collection runtime

USAGE:
    gcsched <command> [arguments]

COMMANDS:
    simulate   Run a synthetic mutator workload and print a summary
    tunables   List tunables and their current values
    version    Show version information
    help       Show this help message

SIMULATE FLAGS:
    -mutators N      Number of mutator goroutines (default 4)
    -iterations N    Loop iterations per mutator (default 10000)
    -policy NAME     adaptive, on-safepoints, aggressive or manual
    -set NAME=VALUE  Override a tunable (repeatable)
    -v               Log scheduler events to stderr

EXAMPLES:
    # Run with a small heap target to see frequent cycles
    gcsched simulate -set targetHeapBytes=64KiB -set minHeapBytes=16KiB

    # Show the effect of the GCSCHED environment variable
    GCSCHED="autoTune=false regularInterval=1s" gcsched tunables

ABOUT:
    The scheduler decides when a tracing collector should run, from
    safepoint and allocation counters, heap growth and elapsed time. The
    cyclic collector frees reference cycles among frozen objects that
    reference counting cannot.

`)
}
