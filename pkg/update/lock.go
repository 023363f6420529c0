package update

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"
)

var unsafeLockChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ContainerLock is a per-container advisory file lock shared across worker
// processes. A held lock means an update is already in progress; callers
// treat that as an answer, never as something to wait on.
type ContainerLock struct {
	lock *flock.Flock
}

// NewContainerLock creates a lock for containerName inside dir.
func NewContainerLock(dir, containerName string) (*ContainerLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	safe := unsafeLockChars.ReplaceAllString(containerName, "_")
	return &ContainerLock{
		lock: flock.New(filepath.Join(dir, safe+".lock")),
	}, nil
}

// TryAcquire attempts a non-blocking exclusive acquisition. False means the
// lock is held elsewhere.
func (l *ContainerLock) TryAcquire() bool {
	ok, err := l.lock.TryLock()
	return err == nil && ok
}

// Release drops the lock.
func (l *ContainerLock) Release() {
	_ = l.lock.Unlock()
}
