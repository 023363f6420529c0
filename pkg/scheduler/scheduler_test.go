package scheduler

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/log"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func schedCfg(lockFile string) config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:         true,
		RefreshInterval: time.Hour,
		VersionInterval: time.Hour,
		LockFile:        lockFile,
	}
}

// With any N concurrent starters on the same lock file, exactly one reports
// itself as owner.
func TestSingleSchedulerElection(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "scheduler.lock")

	const n = 8
	schedulers := make([]*Scheduler, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		schedulers[i] = New(schedCfg(lockFile), nil, nil, nil)
		// Long initial delays keep the loops from ever firing during the test.
		schedulers[i].refreshInitialDelay = time.Hour
		schedulers[i].versionInitialDelay = time.Hour
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.Start()
		}(schedulers[i])
	}
	wg.Wait()

	owners := 0
	for _, s := range schedulers {
		if s.IsOwner() {
			owners++
		}
	}
	assert.Equal(t, 1, owners)

	for _, s := range schedulers {
		s.Stop()
	}
}

func TestElectionReleasedOnStop(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "scheduler.lock")

	first := New(schedCfg(lockFile), nil, nil, nil)
	first.refreshInitialDelay = time.Hour
	first.versionInitialDelay = time.Hour
	first.Start()
	assert.True(t, first.IsOwner())

	second := New(schedCfg(lockFile), nil, nil, nil)
	second.refreshInitialDelay = time.Hour
	second.versionInitialDelay = time.Hour
	second.Start()
	assert.False(t, second.IsOwner())
	second.Stop()

	first.Stop()

	third := New(schedCfg(lockFile), nil, nil, nil)
	third.refreshInitialDelay = time.Hour
	third.versionInitialDelay = time.Hour
	third.Start()
	assert.True(t, third.IsOwner(), "lock is reacquirable after release")
	third.Stop()
}

func TestDisabledSchedulerNeverElects(t *testing.T) {
	cfg := schedCfg(filepath.Join(t.TempDir(), "scheduler.lock"))
	cfg.Enabled = false

	s := New(cfg, nil, nil, nil)
	s.Start()
	assert.False(t, s.IsOwner())
	s.Stop()
}
