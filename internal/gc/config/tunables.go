package config

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.dw1.io/safemath"
)

// EnvVar is the environment variable read by FromEnvironment.
const EnvVar = "GCSCHED"

var (
	// ErrUnknownTunable is returned for a name that is not in the table.
	ErrUnknownTunable = errors.New("unknown tunable")

	// ErrOutOfRange is returned for a value the scheduler cannot work with.
	ErrOutOfRange = errors.New("value out of range")
)

// TunableError describes a rejected tunable update.
//
// Err is ErrUnknownTunable, ErrOutOfRange, or the conversion error from
// the value parser; errors.Is sees through TunableError to it.
type TunableError struct {
	Name  string
	Value any
	Err   error
}

// Error implements the error interface.
func (e *TunableError) Error() string {
	if errors.Is(e.Err, ErrUnknownTunable) {
		return fmt.Sprintf("tunable %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("tunable %q: invalid value %v: %v", e.Name, e.Value, e.Err)
}

// Unwrap returns the underlying error.
func (e *TunableError) Unwrap() error { return e.Err }

type valueKind int

const (
	kindBytes valueKind = iota
	kindCount
	kindDuration
	kindBool
	kindRatio
)

func (k valueKind) String() string {
	switch k {
	case kindBytes:
		return "bytes"
	case kindCount:
		return "count"
	case kindDuration:
		return "duration"
	case kindBool:
		return "bool"
	case kindRatio:
		return "ratio"
	default:
		return "unknown"
	}
}

type tunable struct {
	name     string
	kind     valueKind
	nonZero  bool
	usage    string
	get      func(*Config) any
	setU64   func(*Config, uint64)
	setDur   func(*Config, time.Duration)
	setBool  func(*Config, bool)
	setRatio func(*Config, float64)
}

var tunables = []tunable{
	{
		name: "allocationThresholdBytes", kind: kindBytes, nonZero: true,
		usage:  "bytes a mutator allocates between slow-path checks",
		get:    func(c *Config) any { return c.AllocationThresholdBytes() },
		setU64: (*Config).SetAllocationThresholdBytes,
	},
	{
		name: "autoTune", kind: kindBool,
		usage:   "tune the target heap from the alive set after each cycle",
		get:     func(c *Config) any { return c.AutoTune() },
		setBool: (*Config).SetAutoTune,
	},
	{
		name: "regularInterval", kind: kindDuration, nonZero: true,
		usage:  "time-based collection period",
		get:    func(c *Config) any { return c.RegularInterval() },
		setDur: (*Config).SetRegularInterval,
	},
	{
		name: "targetHeapBytes", kind: kindBytes, nonZero: true,
		usage:  "heap size at which a collection must happen",
		get:    func(c *Config) any { return c.TargetHeapBytes() },
		setU64: (*Config).SetTargetHeapBytes,
	},
	{
		name: "targetHeapUtilization", kind: kindRatio,
		usage:    "desired alive/target ratio, in (0, 1]",
		get:      func(c *Config) any { return c.TargetHeapUtilization() },
		setRatio: (*Config).SetTargetHeapUtilization,
	},
	{
		name: "minHeapBytes", kind: kindBytes,
		usage:  "lower clamp for the tuned target heap",
		get:    func(c *Config) any { return c.MinHeapBytes() },
		setU64: (*Config).SetMinHeapBytes,
	},
	{
		name: "maxHeapBytes", kind: kindBytes, nonZero: true,
		usage:  "upper clamp for the tuned target heap",
		get:    func(c *Config) any { return c.MaxHeapBytes() },
		setU64: (*Config).SetMaxHeapBytes,
	},
	{
		name: "heapTriggerCoefficient", kind: kindRatio,
		usage:    "fraction of the target at which a collection is requested early, in (0, 1]",
		get:      func(c *Config) any { return c.HeapTriggerCoefficient() },
		setRatio: (*Config).SetHeapTriggerCoefficient,
	},
	{
		name: "safepointThreshold", kind: kindCount, nonZero: true,
		usage:  "safepoint weight between slow-path checks",
		get:    func(c *Config) any { return c.SafePointThreshold() },
		setU64: (*Config).SetSafePointThreshold,
	},
	{
		name: "mutatorAssistsEnabled", kind: kindBool,
		usage:   "block mutators once the target heap is reached",
		get:     func(c *Config) any { return c.MutatorAssists() },
		setBool: (*Config).SetMutatorAssists,
	},
	{
		name: "cyclicInterval", kind: kindDuration,
		usage:  "idle wake-up period of the cyclic collector (0 disables)",
		get:    func(c *Config) any { return c.CyclicInterval() },
		setDur: (*Config).SetCyclicInterval,
	},
	{
		name: "cyclicBackoffRestarts", kind: kindCount, nonZero: true,
		usage:  "consecutive cyclic restarts before backing off",
		get:    func(c *Config) any { return c.CyclicBackoffRestarts() },
		setU64: (*Config).SetCyclicBackoffRestarts,
	},
}

// Tunable describes one named tunable for listings.
type Tunable struct {
	Name  string
	Kind  string
	Usage string
	Value any
}

// Names returns the tunable names in table order.
func Names() []string {
	names := make([]string, 0, len(tunables))
	for _, t := range tunables {
		names = append(names, t.name)
	}
	return names
}

// Describe lists every tunable with its current value.
func (c *Config) Describe() []Tunable {
	out := make([]Tunable, 0, len(tunables))
	for _, t := range tunables {
		out = append(out, Tunable{Name: t.name, Kind: t.kind.String(), Usage: t.usage, Value: t.get(c)})
	}
	return out
}

func lookup(name string) (*tunable, bool) {
	key := strings.ReplaceAll(name, "_", "")
	for i := range tunables {
		if strings.EqualFold(tunables[i].name, key) {
			return &tunables[i], true
		}
	}
	return nil, false
}

// Get returns the current value of the named tunable.
func (c *Config) Get(name string) (any, error) {
	t, ok := lookup(name)
	if !ok {
		return nil, &TunableError{Name: name, Err: ErrUnknownTunable}
	}
	return t.get(c), nil
}

// Set converts value and stores it in the named tunable.
//
// Names match case-insensitively and ignore underscores, so both
// "targetHeapBytes" and "target_heap_bytes" work. Byte sizes accept a
// KiB, MiB or GiB suffix when given as strings. Integer inputs are
// converted with overflow checks; everything else goes through cast.
func (c *Config) Set(name string, value any) error {
	t, ok := lookup(name)
	if !ok {
		return &TunableError{Name: name, Value: value, Err: ErrUnknownTunable}
	}

	fail := func(err error) error {
		return &TunableError{Name: t.name, Value: value, Err: err}
	}

	switch t.kind {
	case kindBytes, kindCount:
		v, err := toUint64(value, t.kind == kindBytes)
		if err != nil {
			return fail(err)
		}
		if t.nonZero && v == 0 {
			return fail(ErrOutOfRange)
		}
		t.setU64(c, v)
	case kindDuration:
		d, err := cast.ToE[time.Duration](value)
		if err != nil {
			return fail(err)
		}
		if d < 0 || (t.nonZero && d == 0) {
			return fail(ErrOutOfRange)
		}
		t.setDur(c, d)
	case kindBool:
		b, err := cast.ToE[bool](value)
		if err != nil {
			return fail(err)
		}
		t.setBool(c, b)
	case kindRatio:
		f, err := cast.ToE[float64](value)
		if err != nil {
			return fail(err)
		}
		if math.IsNaN(f) || f <= 0 || f > 1 {
			return fail(ErrOutOfRange)
		}
		t.setRatio(c, f)
	}
	return nil
}

var byteSuffixes = []struct {
	suffix string
	shift  uint
}{
	{"GiB", 30},
	{"MiB", 20},
	{"KiB", 10},
	{"B", 0},
}

func toUint64(value any, allowSuffix bool) (uint64, error) {
	if isIntVal(value) {
		return safemath.ConvertAny[uint64](value)
	}

	s, ok := value.(string)
	if !ok || !allowSuffix {
		return cast.ToE[uint64](value)
	}

	s = strings.TrimSpace(s)
	for _, sfx := range byteSuffixes {
		num, found := strings.CutSuffix(s, sfx.suffix)
		if !found {
			continue
		}
		n, err := cast.ToE[uint64](strings.TrimSpace(num))
		if err != nil {
			return 0, err
		}
		hi, lo := bits.Mul64(n, 1<<sfx.shift)
		if hi != 0 {
			return 0, fmt.Errorf("%s overflows uint64: %w", s, ErrOutOfRange)
		}
		return lo, nil
	}
	return cast.ToE[uint64](s)
}

func isIntVal(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr:
		return true
	default:
		return false
	}
}

// ParseEnv applies a GORACE-style list of name=value pairs separated by
// spaces or commas, e.g. "targetHeapBytes=64MiB autoTune=false".
//
// Every pair is attempted; the returned error joins all failures.
func (c *Config) ParseEnv(s string) error {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})

	var errs []error
	for _, field := range fields {
		name, value, ok := strings.Cut(field, "=")
		if !ok {
			errs = append(errs, &TunableError{Name: field, Err: fmt.Errorf("missing '=': %w", ErrOutOfRange)})
			continue
		}
		if err := c.Set(name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromEnvironment returns a default Config with the GCSCHED variable
// applied on top.
func FromEnvironment() (*Config, error) {
	c := New()
	if s, ok := os.LookupEnv(EnvVar); ok {
		if err := c.ParseEnv(s); err != nil {
			return c, err
		}
	}
	return c, nil
}
