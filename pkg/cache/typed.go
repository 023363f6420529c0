package cache

import (
	"encoding/json"
)

// Typed wraps a Cache so compound values round-trip through JSON without
// callers touching raw messages. T is usually a pointer type, which makes a
// cached JSON null a representable "negative result" entry.
type Typed[T any] struct {
	cache *Cache
}

// NewTyped creates a typed view over an existing cache.
func NewTyped[T any](c *Cache) Typed[T] {
	return Typed[T]{cache: c}
}

// Get returns the decoded value for key. valid follows the underlying
// cache's TTL rules; a stored null decodes to the zero value with valid
// still true.
func (t Typed[T]) Get(key string) (T, bool) {
	var value T
	raw, ok := t.cache.Get(key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		t.cache.logger.Debug().Err(err).Str("key", key).Msg("invalid cache entry")
		return value, false
	}
	return value, true
}

// Set stores value under key.
func (t Typed[T]) Set(key string, value T) {
	t.cache.Set(key, value)
}

// Delete removes key. Returns true when the key existed.
func (t Typed[T]) Delete(key string) bool {
	return t.cache.Delete(key)
}

// Clear removes every entry.
func (t Typed[T]) Clear() {
	t.cache.Clear()
}

// Stats reports entry counts for the backing file.
func (t Typed[T]) Stats() Stats {
	return t.cache.Stats()
}
