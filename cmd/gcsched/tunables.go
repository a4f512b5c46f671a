// tunables.go implements the 'gcsched tunables' command.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kolkov/gcsched/gc"
	"github.com/kolkov/gcsched/internal/gc/config"
)

// tunablesCommand prints every tunable with its kind, current value and
// description. The values start from the defaults with GCSCHED applied,
// then any -set overrides.
//
// Example:
//
//	gcsched tunables -set targetHeapBytes=64MiB -set autoTune=false
func tunablesCommand(args []string) {
	sets, err := parseSetArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.FromEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s: %v\n", config.EnvVar, err)
	}
	if err := applySets(cfg, sets); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	writeTunables(os.Stdout, cfg)
}

// parseSetArgs collects the NAME=VALUE operands of repeated -set flags.
func parseSetArgs(args []string) ([]string, error) {
	var sets []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-set" || arg == "--set":
			if i+1 >= len(args) {
				return nil, errors.New("-set requires NAME=VALUE")
			}
			i++
			sets = append(sets, args[i])
		case strings.HasPrefix(arg, "-set="):
			sets = append(sets, strings.TrimPrefix(arg, "-set="))
		default:
			return nil, fmt.Errorf("unexpected argument %q", arg)
		}
	}
	return sets, nil
}

// applySets applies NAME=VALUE overrides and joins every failure.
func applySets(cfg *gc.Config, sets []string) error {
	var errs []error
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			errs = append(errs, fmt.Errorf("%q: expected NAME=VALUE", s))
			continue
		}
		if err := cfg.Set(name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

//nolint:errcheck // best-effort terminal output
func writeTunables(w io.Writer, cfg *gc.Config) {
	for _, t := range cfg.Describe() {
		fmt.Fprintf(w, "%-26s %-9s %-22v %s\n", t.Name, t.Kind, t.Value, t.Usage)
	}
}
