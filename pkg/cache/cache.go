package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/log"
)

// entry is one cached value with its insertion timestamp.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Stats describes the current contents of a cache file.
type Stats struct {
	TotalEntries   int    `json:"total_entries"`
	ValidEntries   int    `json:"valid_entries"`
	ExpiredEntries int    `json:"expired_entries"`
	TTLSeconds     int    `json:"cache_duration_seconds"`
	CacheFile      string `json:"cache_file"`
}

// Cache is a file-backed TTL cache shared by every worker process on the
// node. Reads take a shared file lock, writes an exclusive one, so all
// processes observe the same contents. A missing or corrupt file reads as
// empty; a failed write is logged and discarded.
type Cache struct {
	path   string
	ttl    time.Duration
	mu     sync.Mutex
	lock   *flock.Flock
	logger zerolog.Logger

	// now is swappable for TTL tests.
	now func() time.Time
}

// New creates a cache backed by the given file with the given entry TTL.
func New(path string, ttl time.Duration) *Cache {
	return &Cache{
		path:   path,
		ttl:    ttl,
		lock:   flock.New(path + ".lock"),
		logger: log.WithComponent("cache"),
		now:    time.Now,
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// readAll reads the whole cache file under a shared lock.
func (c *Cache) readAll() map[string]entry {
	if err := c.lock.RLock(); err != nil {
		c.logger.Debug().Err(err).Str("file", c.path).Msg("shared lock failed")
		return map[string]entry{}
	}
	defer c.lock.Unlock()

	raw, err := os.ReadFile(c.path)
	if err != nil || len(raw) == 0 {
		return map[string]entry{}
	}

	var entries map[string]entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.Debug().Err(err).Str("file", c.path).Msg("cache file unreadable, treating as empty")
		return map[string]entry{}
	}
	return entries
}

// writeAll rewrites the whole cache file under an exclusive lock.
func (c *Cache) writeAll(entries map[string]entry) {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Warn().Err(err).Str("file", c.path).Msg("failed to create cache directory")
		return
	}

	if err := c.lock.Lock(); err != nil {
		c.logger.Warn().Err(err).Str("file", c.path).Msg("exclusive lock failed")
		return
	}
	defer c.lock.Unlock()

	raw, err := json.Marshal(entries)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", c.path).Msg("failed to serialize cache")
		return
	}
	if err := os.WriteFile(c.path, raw, 0o644); err != nil {
		c.logger.Warn().Err(err).Str("file", c.path).Msg("failed to write cache")
	}
}

func (c *Cache) expired(e entry) bool {
	return c.now().Sub(e.Timestamp) >= c.ttl
}

// Get returns the raw payload for key. valid is false when the key is
// missing or the entry has outlived the TTL.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.readAll()
	e, ok := entries[key]
	if !ok || c.expired(e) {
		return nil, false
	}
	return e.Data, true
}

// Set stores value under key, replacing any previous entry and resetting
// its timestamp. The value must be JSON-serializable.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to serialize cache value")
		return
	}

	entries := c.readAll()
	entries[key] = entry{Data: raw, Timestamp: c.now()}
	c.writeAll(entries)
}

// Delete removes key. Returns true when the key existed.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.readAll()
	if _, ok := entries[key]; !ok {
		return false
	}
	delete(entries, key)
	c.writeAll(entries)
	return true
}

// Clear removes every entry by deleting the backing file.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Str("file", c.path).Msg("failed to clear cache")
	}
}

// PruneExpired removes entries past their TTL and returns how many were
// dropped. Entries without a timestamp count as expired.
func (c *Cache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.readAll()
	pruned := 0
	for key, e := range entries {
		if c.expired(e) {
			delete(entries, key)
			pruned++
		}
	}
	if pruned > 0 {
		c.writeAll(entries)
	}
	return pruned
}

// Keys returns all keys currently present, including expired ones.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.readAll()
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	return keys
}

// Stats reports entry counts for the cache file.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.readAll()
	stats := Stats{
		TotalEntries: len(entries),
		TTLSeconds:   int(c.ttl.Seconds()),
		CacheFile:    c.path,
	}
	for _, e := range entries {
		if c.expired(e) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
	}
	return stats
}
