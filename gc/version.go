package gc

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version information for the GC scheduling runtime.
const (
	// Version is the current version of the runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides information about the runtime.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Scheduler names the default scheduling policy.
	Scheduler string

	// CycleCollector describes the cycle collection algorithm.
	CycleCollector string
}

// GetInfo returns information about the runtime.
//
// Example:
//
//	info := gc.GetInfo()
//	fmt.Printf("gcsched %s (%s)\n", info.Version, info.Scheduler)
func GetInfo() Info {
	return Info{
		Version:        Version,
		Scheduler:      PolicyAdaptive.String(),
		CycleCollector: "trial deletion over frozen roots",
	}
}

// Compatible reports whether code written against version v can use this
// runtime: v must be a valid semantic version with the same major version
// and not newer than Version. The "v" prefix is optional.
func Compatible(v string) bool {
	v = canonical(v)
	cur := canonical(Version)
	if v == "" {
		return false
	}
	return semver.Major(v) == semver.Major(cur) && semver.Compare(v, cur) <= 0
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}
