package version

import (
	"regexp"
	"strconv"
	"strings"
)

// Version is a parsed tag: up to four numeric components plus a suffix.
// DateBased marks calendar tags (2021.12.16) so the comparator can rank any
// semantic tuple above them.
type Version struct {
	DateBased bool   `json:"date_based"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Build     int    `json:"build"`
	Suffix    string `json:"suffix,omitempty"`
}

var tagPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.(\d+))?(?:-(.+))?$`)

// Rolling tags that never parse as versions.
var rollingTags = map[string]bool{
	"latest": true, "stable": true, "edge": true, "dev": true,
	"nightly": true, "master": true, "main": true,
}

// Platform and base-image suffixes that mark a tag as platform-specific.
var platformSuffixes = []string{
	"-windowsservercore", "-nanoserver", "-windows",
	"-linux", "-alpine", "-slim", "-buster", "-bullseye", "-bookworm",
	"-arm64", "-amd64", "-armhf", "-arm32v7", "-arm64v8",
	"-ltsc2019", "-ltsc2022", "-1809",
}

// Pre-release and development channel markers. Matched against
// separator-split components, never as substrings, so "main" does not match
// "maintenance" and "test" does not match "latest".
var unstableIndicators = map[string]bool{
	"develop": true, "dev": true, "beta": true, "alpha": true, "rc": true,
	"nightly": true, "unstable": true, "test": true, "snapshot": true,
	"canary": true, "preview": true, "pre": true, "edge": true,
	"experimental": true, "trunk": true, "master": true, "main": true,
	"next": true, "tip": true, "draft": true, "staging": true, "ci": true,
	"build": true, "hotfix": true,
}

var componentSplit = regexp.MustCompile(`[-._]`)

// IsPlatformSpecific reports whether the tag carries a platform suffix.
func IsPlatformSpecific(tag string) bool {
	lower := strings.ToLower(tag)
	for _, suffix := range platformSuffixes {
		if strings.Contains(lower, suffix) {
			return true
		}
	}
	return false
}

// IsUnstable reports whether the tag names a dev/pre-release channel.
func IsUnstable(tag string) bool {
	for _, part := range componentSplit.Split(strings.ToLower(tag), -1) {
		if unstableIndicators[part] {
			return true
		}
	}
	return false
}

// IsStable reports whether the tag is a plain stable release.
func IsStable(tag string) bool {
	return !IsUnstable(tag) && !IsPlatformSpecific(tag)
}

// isDateBased reports whether the numeric triple looks like YYYY.MM.DD.
func isDateBased(major, minor, patch int) bool {
	return major >= 2019 && major <= 2099 &&
		minor >= 1 && minor <= 12 &&
		patch >= 1 && patch <= 31
}

// Parse parses a tag into a comparable Version. ok is false for rolling
// tags, non-version strings, and bare integers ("168" is a build number,
// not a version — major.minor is the minimum).
func Parse(tag string) (Version, bool) {
	if rollingTags[tag] {
		return Version{}, false
	}

	m := tagPattern.FindStringSubmatch(tag)
	if m == nil || m[2] == "" {
		return Version{}, false
	}

	v := Version{
		Major:  atoi(m[1]),
		Minor:  atoi(m[2]),
		Patch:  atoi(m[3]),
		Build:  atoi(m[4]),
		Suffix: m[5],
	}
	v.DateBased = isDateBased(v.Major, v.Minor, v.Patch)
	return v, true
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// Compare returns -1 when a is older than b, 0 when equal, 1 when newer.
// A semantic tuple is strictly newer than any date-based tuple, whatever the
// magnitudes: projects migrate from calendar to semantic versioning, never
// the reverse. Equal numerics without a suffix outrank the same numerics
// with one (1.0.0 > 1.0.0-beta).
func Compare(a, b Version) int {
	if a.DateBased && !b.DateBased {
		return -1
	}
	if !a.DateBased && b.DateBased {
		return 1
	}

	pairs := [][2]int{
		{a.Major, b.Major},
		{a.Minor, b.Minor},
		{a.Patch, b.Patch},
		{a.Build, b.Build},
	}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}

	if a.Suffix != "" && b.Suffix == "" {
		return -1
	}
	if a.Suffix == "" && b.Suffix != "" {
		return 1
	}
	return 0
}

// IsNewer reports whether candidate parses and is strictly newer than
// current.
func IsNewer(current, candidate string) bool {
	a, ok := Parse(current)
	if !ok {
		return false
	}
	b, ok := Parse(candidate)
	if !ok {
		return false
	}
	return Compare(a, b) < 0
}

// segmentCount counts the explicit numeric segments of a tag's version
// portion: "4.0.11" has three, "5.14" has two. Used to reject narrow rolling
// tracks when the running tag pins more segments.
func segmentCount(tag string) int {
	ver := strings.TrimPrefix(tag, "v")
	if i := strings.Index(ver, "-"); i >= 0 {
		ver = ver[:i]
	}
	return strings.Count(ver, ".") + 1
}
