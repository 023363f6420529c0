package version

import (
	"regexp"
	"sort"

	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/cache"
	"github.com/dockpeek/dockpeek/pkg/log"
)

// Info describes the newest tag found for an image.
type Info struct {
	Tag      string  `json:"tag"`
	Version  Version `json:"version"`
	IsNewer  bool    `json:"is_newer"`
	IsStable bool    `json:"is_stable"`
}

// compoundSuffixPattern matches suffixes that embed another version number,
// e.g. "2.0.0.5344-ls5" inside "5.14-2.0.0.5344-ls5".
var compoundSuffixPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// TagLister lists the tags available for a reference. *RegistryClient is
// the production implementation.
type TagLister interface {
	Tags(ref Reference) []string
}

// Checker resolves whether a newer tag exists for an image reference.
// Positive and negative outcomes are both cached in the shared file cache so
// every worker process answers from the same data.
type Checker struct {
	registry TagLister
	cache    cache.Typed[*Info]
	raw      *cache.Cache
	logger   zerolog.Logger
}

// NewChecker creates a checker over the given shared cache file.
func NewChecker(registry TagLister, c *cache.Cache) *Checker {
	return &Checker{
		registry: registry,
		cache:    cache.NewTyped[*Info](c),
		raw:      c,
		logger:   log.WithComponent("version"),
	}
}

// Cached returns the cached answer for image without any registry traffic.
// nil means either "no newer version" or "never checked"; use CachedEntry
// when the difference matters.
func (ch *Checker) Cached(image string) *Info {
	info, ok := ch.cache.Get(image)
	if !ok || info == nil || !info.IsNewer {
		return nil
	}
	return info
}

// CachedEntry returns the cached value and whether an entry exists at all.
func (ch *Checker) CachedEntry(image string) (*Info, bool) {
	return ch.cache.Get(image)
}

// CheckForNewer queries the registry for a tag newer than the one the image
// currently runs, honoring the stability, platform, compound-suffix and
// segment-count filters. Outcomes are cached either way; an empty tag list
// is treated as transient and not cached.
func (ch *Checker) CheckForNewer(image string) *Info {
	if info, ok := ch.cache.Get(image); ok {
		return info
	}

	ref := ParseReference(image)
	current, ok := Parse(ref.Tag)
	if !ok {
		ch.logger.Debug().Str("tag", ref.Tag).Msg("cannot parse version from tag")
		return nil
	}

	tags := ch.registry.Tags(ref)
	if len(tags) == 0 {
		ch.logger.Debug().Str("image", ref.FullName()).Msg("no tags found")
		return nil
	}

	newest := selectNewest(ref.Tag, current, tags)
	if newest == nil {
		ch.cache.Set(image, nil)
		return nil
	}

	ch.cache.Set(image, newest)
	ch.logger.Info().Str("image", image).Str("tag", newest.Tag).Msg("newer version available")
	return newest
}

// candidate pairs a tag with its parse and filter flags for sorting.
type candidate struct {
	tag      string
	version  Version
	platform bool
	unstable bool
}

// selectNewest applies the newer-tag filters and ranking to the tag list and
// returns the winner, or nil when nothing survives.
func selectNewest(currentTag string, current Version, tags []string) *Info {
	currentUnstable := IsUnstable(currentTag)
	currentPlatform := IsPlatformSpecific(currentTag)
	currentSegments := segmentCount(currentTag)

	var candidates []candidate
	for _, tag := range tags {
		v, ok := Parse(tag)
		if !ok || Compare(current, v) >= 0 {
			continue
		}

		unstable := IsUnstable(tag)
		if unstable && !currentUnstable {
			continue
		}

		platform := IsPlatformSpecific(tag)
		if platform && !currentPlatform {
			continue
		}

		if v.Suffix != "" && compoundSuffixPattern.MatchString(v.Suffix) {
			continue
		}

		if segmentCount(tag) < currentSegments {
			continue
		}

		candidates = append(candidates, candidate{tag: tag, version: v, platform: platform, unstable: unstable})
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.unstable != b.unstable {
			return !a.unstable
		}
		if a.platform != b.platform {
			return !a.platform
		}
		if a.version.DateBased != b.version.DateBased {
			return !a.version.DateBased
		}
		return Compare(a.version, b.version) > 0
	})

	best := candidates[0]
	return &Info{
		Tag:      best.tag,
		Version:  best.version,
		IsNewer:  true,
		IsStable: IsStable(best.tag),
	}
}

// AvailableVersions lists up to limit parseable versions for an image,
// stable and semantic tags first, newest first.
func (ch *Checker) AvailableVersions(image string, limit int) []Info {
	ref := ParseReference(image)
	current, haveCurrent := Parse(ref.Tag)

	tags := ch.registry.Tags(ref)

	var versions []Info
	for _, tag := range tags {
		v, ok := Parse(tag)
		if !ok {
			continue
		}
		versions = append(versions, Info{
			Tag:      tag,
			Version:  v,
			IsNewer:  haveCurrent && Compare(current, v) < 0,
			IsStable: IsStable(tag),
		})
	}

	sort.SliceStable(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if a.IsStable != b.IsStable {
			return a.IsStable
		}
		if a.Version.DateBased != b.Version.DateBased {
			return !a.Version.DateBased
		}
		return Compare(a.Version, b.Version) > 0
	})

	if len(versions) > limit {
		versions = versions[:limit]
	}
	return versions
}

// ClearCache drops every cached version answer.
func (ch *Checker) ClearCache() {
	ch.raw.Clear()
}

// CacheStats reports the version cache contents.
func (ch *Checker) CacheStats() cache.Stats {
	return ch.raw.Stats()
}
