package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockpeek/dockpeek/pkg/log"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "cache.json"), ttl)
}

func TestSetGetWithinTTL(t *testing.T) {
	c := newTestCache(t, time.Hour)

	c.Set("k", "v")
	raw, ok := c.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `"v"`, string(raw))
}

func TestGetMissingKey(t *testing.T) {
	c := newTestCache(t, time.Hour)

	_, ok := c.Get("absent")
	assert.False(t, ok)
}

func TestGetAfterTTLExpires(t *testing.T) {
	c := newTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 42)

	c.now = func() time.Time { return base.Add(time.Hour - time.Second) }
	_, ok := c.Get("k")
	assert.True(t, ok)

	// now - timestamp >= ttl invalidates the entry
	c.now = func() time.Time { return base.Add(time.Hour) }
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestSecondSetResetsTimestamp(t *testing.T) {
	c := newTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", "old")

	c.now = func() time.Time { return base.Add(50 * time.Minute) }
	c.Set("k", "new")

	c.now = func() time.Time { return base.Add(90 * time.Minute) }
	raw, ok := c.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `"new"`, string(raw))
}

func TestDelete(t *testing.T) {
	c := newTestCache(t, time.Hour)

	c.Set("k", 1)
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := newTestCache(t, time.Hour)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	assert.Empty(t, c.Keys())
}

func TestPruneExpired(t *testing.T) {
	c := newTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("old", 1)

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	c.Set("fresh", 2)

	pruned := c.PruneExpired()
	assert.Equal(t, 1, pruned)

	_, ok := c.Get("fresh")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"fresh"}, c.Keys())
}

func TestCorruptFileTreatedAsEmpty(t *testing.T) {
	c := newTestCache(t, time.Hour)

	c.Set("k", 1)
	require.NoError(t, writeGarbage(c.path))

	_, ok := c.Get("k")
	assert.False(t, ok)

	// The cache stays usable after a corrupt read.
	c.Set("k2", 2)
	_, ok = c.Get("k2")
	assert.True(t, ok)
}

func TestSharedFileBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	writer := New(path, time.Hour)
	reader := New(path, time.Hour)

	writer.Set("k", "shared")
	raw, ok := reader.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `"shared"`, string(raw))
}

func TestStats(t *testing.T) {
	c := newTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("old", 1)

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	c.Set("fresh", 2)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.ValidEntries)
	assert.Equal(t, 1, stats.ExpiredEntries)
	assert.Equal(t, 3600, stats.TTLSeconds)
}

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("{not json"), 0o644)
}

type versionValue struct {
	Tag     string `json:"tag"`
	IsNewer bool   `json:"is_newer"`
}

func TestTypedRoundTrip(t *testing.T) {
	c := newTestCache(t, time.Hour)
	typed := NewTyped[*versionValue](c)

	typed.Set("img:1.0", &versionValue{Tag: "1.1", IsNewer: true})
	got, ok := typed.Get("img:1.0")
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "1.1", got.Tag)
	assert.True(t, got.IsNewer)
}

func TestTypedNegativeEntry(t *testing.T) {
	c := newTestCache(t, time.Hour)
	typed := NewTyped[*versionValue](c)

	// A nil value is a cacheable "no newer version" answer.
	typed.Set("img:2.0", nil)
	got, ok := typed.Get("img:2.0")
	assert.True(t, ok)
	assert.Nil(t, got)
}
