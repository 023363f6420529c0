package update

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/cache"
	"github.com/dockpeek/dockpeek/pkg/log"
)

// CheckerClient is the slice of the engine client the update checker uses.
type CheckerClient interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
}

// ParseImageName splits a declared image reference into (base, tag), with
// latest as the default tag.
func ParseImageName(image string) (string, string) {
	if i := strings.LastIndex(image, ":"); i >= 0 && !strings.Contains(image[i:], "/") {
		return image[:i], image[i+1:]
	}
	return image, "latest"
}

// Checker answers "is this container behind its tag?" by pulling the tag
// and comparing image ids. Decisions are cached per (host, container,
// image) in the shared file cache.
type Checker struct {
	cache        cache.Typed[bool]
	raw          *cache.Cache
	cancellation *CancellationToken
	pullTimeout  time.Duration
	floatingMode string
	logger       zerolog.Logger
}

// NewChecker creates a checker. floatingMode is one of disabled, latest,
// major, minor.
func NewChecker(c *cache.Cache, floatingMode string, pullTimeout time.Duration) *Checker {
	return &Checker{
		cache:        cache.NewTyped[bool](c),
		raw:          c,
		cancellation: &CancellationToken{},
		pullTimeout:  pullTimeout,
		floatingMode: floatingMode,
		logger:       log.WithComponent("update-check"),
	}
}

// StartCheck resets the shared cancellation token for a new run.
func (c *Checker) StartCheck() {
	c.cancellation.Reset()
	c.logger.Debug().Msg("update check started")
}

// CancelCheck requests cancellation of every in-flight check.
func (c *Checker) CancelCheck() {
	c.cancellation.Cancel()
	c.logger.Info().Msg("update check cancellation requested")
}

// IsCancelled reports whether a cancel is pending.
func (c *Checker) IsCancelled() bool {
	return c.cancellation.IsCancelled()
}

// CacheKey builds the decision cache key for (host, container, image).
func (c *Checker) CacheKey(server, container, image string) string {
	return fmt.Sprintf("%s:%s:%s", server, container, image)
}

// CachedDecision returns the cached decision and its validity.
func (c *Checker) CachedDecision(key string) (bool, bool) {
	return c.cache.Get(key)
}

// SetDecision stores a decision.
func (c *Checker) SetDecision(key string, result bool) {
	c.cache.Set(key, result)
}

// ClearCache drops every cached decision.
func (c *Checker) ClearCache() {
	c.raw.Clear()
	c.logger.Info().Msg("update checker cache cleared")
}

// CacheStats reports the decision cache contents.
func (c *Checker) CacheStats() cache.Stats {
	return c.raw.Stats()
}

// CacheTTL returns the decision cache TTL.
func (c *Checker) CacheTTL() time.Duration {
	return c.raw.TTL()
}

// ResolveFloatingTag rewrites a tag according to the floating-tag mode:
// disabled keeps it, latest floats everything, major/minor truncate the
// version while keeping any suffix.
func (c *Checker) ResolveFloatingTag(currentTag string) string {
	if c.floatingMode == "disabled" || currentTag == "latest" {
		return currentTag
	}
	if c.floatingMode == "latest" {
		return "latest"
	}

	versionPart, suffix, hasSuffix := strings.Cut(currentTag, "-")
	if hasSuffix {
		suffix = "-" + suffix
	} else {
		suffix = ""
	}

	parts := strings.Split(versionPart, ".")
	switch c.floatingMode {
	case "major":
		if len(parts) >= 1 && isDigits(parts[0]) {
			return parts[0] + suffix
		}
	case "minor":
		if len(parts) >= 2 && isDigits(parts[0]) && isDigits(parts[1]) {
			return parts[0] + "." + parts[1] + suffix
		}
	}
	return currentTag
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CheckLocal is the non-pulling variant: it asks the engine whether the tag
// already resolves locally to a different image id than the container runs.
func (c *Checker) CheckLocal(ctx context.Context, cli CheckerClient, imageID, declaredImage, server string) bool {
	if c.cancellation.IsCancelled() {
		return false
	}
	if imageID == "" || declaredImage == "" {
		return false
	}

	base, tag := ParseImageName(declaredImage)
	resolved := c.ResolveFloatingTag(tag)

	local, _, err := cli.ImageInspectWithRaw(ctx, base+":"+resolved)
	if err != nil {
		return false
	}
	return imageID != local.ID
}

// Check pulls the candidate tag and compares the container's pinned image
// id with the tag's now-local image id, caching the decision. Cancellation
// is polled before the pull, after the pull, and on the error paths.
// Pull failures (private repositories, offline registries) resolve to "no
// update".
func (c *Checker) Check(ctx context.Context, cli CheckerClient, imageID, declaredImage, containerName, server string) bool {
	if c.cancellation.IsCancelled() {
		c.logger.Debug().Str("container", containerName).Msg("update check cancelled before starting")
		return false
	}
	if imageID == "" || declaredImage == "" {
		return false
	}

	cacheKey := c.CacheKey(server, containerName, declaredImage)
	if cached, valid := c.CachedDecision(cacheKey); valid {
		c.logger.Info().Str("server", server).Str("container", containerName).Msg("using cached update result")
		return cached
	}

	base, tag := ParseImageName(declaredImage)
	resolved := c.ResolveFloatingTag(tag)
	if resolved != tag {
		c.logger.Info().Str("server", server).Str("from", tag).Str("to", resolved).Msg("checking floating tag")
	}

	if c.cancellation.IsCancelled() {
		c.logger.Info().Str("server", server).Str("image", base+":"+resolved).Msg("update check cancelled before pull")
		return false
	}

	result := c.pullAndCompare(ctx, cli, imageID, base, resolved, server)
	c.SetDecision(cacheKey, result)
	return result
}

func (c *Checker) pullAndCompare(ctx context.Context, cli CheckerClient, imageID, base, tag, server string) bool {
	ref := base + ":" + tag

	pullCtx, cancel := context.WithTimeout(ctx, c.pullTimeout)
	defer cancel()

	start := time.Now()
	reader, err := cli.ImagePull(pullCtx, ref, types.ImagePullOptions{})
	if err == nil {
		_, err = io.Copy(io.Discard, reader)
		reader.Close()
	}
	if err != nil {
		if c.cancellation.IsCancelled() {
			c.logger.Info().Str("server", server).Str("image", ref).Msg("update check cancelled during pull error handling")
			return false
		}
		if pullCtx.Err() != nil {
			c.logger.Warn().Str("server", server).Str("image", ref).Dur("timeout", c.pullTimeout).Msg("pull timeout")
			return false
		}
		c.logger.Warn().Str("server", server).Str("image", ref).Msg("cannot pull, built locally or private repository")
		return false
	}

	if c.cancellation.IsCancelled() {
		c.logger.Info().Str("server", server).Str("image", ref).Msg("update check cancelled after pull")
		return false
	}

	c.logger.Debug().Str("image", ref).Dur("elapsed", time.Since(start)).Msg("pull completed")

	updated, _, err := cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return false
	}

	result := imageID != updated.ID
	if result {
		c.logger.Info().Str("server", server).Str("image", ref).Msg("update available")
	} else {
		c.logger.Info().Str("server", server).Str("image", ref).Msg("image up to date")
	}
	return result
}
