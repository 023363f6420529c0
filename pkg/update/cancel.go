package update

import "sync"

// CancellationToken is a shared flag polled between blocking calls so a bulk
// cancel takes effect promptly across every in-flight check.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
}

// Cancel sets the flag.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// Reset clears the flag for a new check run.
func (t *CancellationToken) Reset() {
	t.mu.Lock()
	t.cancelled = false
	t.mu.Unlock()
}

// IsCancelled reports whether a cancel was requested.
func (t *CancellationToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
