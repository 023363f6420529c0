/*
Package cache provides a file-backed TTL cache shared across worker
processes.

Several processes on the same node serve the same fleet; the caches that
back scan results, version answers and update decisions therefore live in
files rather than memory. Writes take an exclusive file lock, reads a
shared one, so every process observes the same contents.

# File format

The cache file is one JSON object whose keys are cache keys and whose
values carry the payload with its insertion timestamp:

	{
	  "sha256:abc...": {"data": {...}, "timestamp": "2026-07-01T10:30:00Z"}
	}

An entry is valid until now - timestamp reaches the TTL. A missing or
corrupt file reads as empty; a failed write is logged and discarded, the
cache being strictly best-effort.

# Typed access

Typed wraps a Cache with a value type so compound values round-trip
through JSON:

	versions := cache.NewTyped[*version.Info](cache.New(path, time.Hour))
	versions.Set("nginx:1.25", info)

A pointer value type makes JSON null a representable negative entry, which
the version resolver uses to cache "no newer version" answers.

# Concurrency

Atomicity is per-operation: each read/modify/write sequence holds one
exclusive lock for the whole sequence. A process-local mutex serializes
callers inside one process; the file lock coordinates across processes.
*/
package cache
