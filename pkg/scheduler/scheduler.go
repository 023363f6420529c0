package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/dockerhost"
	"github.com/dockpeek/dockpeek/pkg/inventory"
	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/types"
	"github.com/dockpeek/dockpeek/pkg/version"
)

// Scheduler keeps the shared caches warm. Across N worker processes exactly
// one wins the advisory lock and runs the periodic loops; losers skip
// scheduling entirely but still read the shared caches.
type Scheduler struct {
	cfg       config.SchedulerConfig
	collector *inventory.Collector
	versions  *version.Checker
	discovery *dockerhost.Discovery
	logger    zerolog.Logger

	lock   *flock.Flock
	owner  bool
	stopCh chan struct{}

	// loop timings, overridable in tests
	refreshInitialDelay time.Duration
	versionInitialDelay time.Duration
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, collector *inventory.Collector, versions *version.Checker, discovery *dockerhost.Discovery) *Scheduler {
	return &Scheduler{
		cfg:                 cfg,
		collector:           collector,
		versions:            versions,
		discovery:           discovery,
		logger:              log.WithComponent("scheduler"),
		lock:                flock.New(cfg.LockFile),
		stopCh:              make(chan struct{}),
		refreshInitialDelay: 30 * time.Second,
		versionInitialDelay: 5 * time.Second,
	}
}

// Start elects and, on winning, launches the refresh loops. Losing the
// election is not an error.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("background refresh disabled")
		return
	}

	s.owner = s.tryAcquireLock()
	if !s.owner {
		s.logger.Info().Int("pid", os.Getpid()).Msg("scheduler running in another worker, skipping")
		return
	}

	s.logger.Info().
		Dur("refresh_interval", s.cfg.RefreshInterval).
		Dur("version_interval", s.cfg.VersionInterval).
		Msg("starting background scheduler")

	go s.refreshLoop()
	go s.versionLoop()
}

// Stop signals the loops and releases the election lock.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	if s.owner {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Debug().Err(err).Msg("error releasing scheduler lock")
		} else {
			s.logger.Info().Msg("released scheduler lock")
		}
		s.owner = false
	}
}

// IsOwner reports whether this process won the election.
func (s *Scheduler) IsOwner() bool {
	return s.owner
}

// tryAcquireLock takes the exclusive non-blocking advisory lock. The file
// body carries the owner pid for debugging only; the lock state is what
// matters.
func (s *Scheduler) tryAcquireLock() bool {
	ok, err := s.lock.TryLock()
	if err != nil || !ok {
		return false
	}
	if f, err := os.OpenFile(s.cfg.LockFile, os.O_WRONLY, 0o644); err == nil {
		fmt.Fprintf(f, "%d", os.Getpid())
		f.Close()
	}
	s.logger.Info().Int("pid", os.Getpid()).Msg("acquired scheduler lock")
	return true
}

// refreshLoop runs the inventory end-to-end on the refresh interval so
// per-image caches stay warm and the scan queue keeps filling.
func (s *Scheduler) refreshLoop() {
	select {
	case <-time.After(s.refreshInitialDelay):
	case <-s.stopCh:
		return
	}

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		s.runRefresh()
		select {
		case <-ticker.C:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runRefresh() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("background refresh panicked")
		}
	}()

	s.logger.Debug().Msg("background refresh starting")
	snapshot := s.collector.Collect(context.Background(), "")
	s.logger.Debug().Int("containers", len(snapshot.Containers)).Msg("background refresh complete")
}

// versionLoop resolves newer versions for every distinct image reference
// across all hosts on the version interval.
func (s *Scheduler) versionLoop() {
	select {
	case <-time.After(s.versionInitialDelay):
	case <-s.stopCh:
		return
	}

	ticker := time.NewTicker(s.cfg.VersionInterval)
	defer ticker.Stop()

	for {
		s.runVersionCheck()
		select {
		case <-ticker.C:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runVersionCheck() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("background version check panicked")
		}
	}()

	ctx := context.Background()
	images := make(map[string]struct{})

	for _, host := range s.discovery.Discover(ctx, true) {
		if host.Status != types.HostStatusActive || host.Client == nil {
			continue
		}
		containers, err := host.Client.ContainerList(ctx, container.ListOptions{All: true})
		if err != nil {
			s.logger.Error().Err(err).Str("host", host.Name).Msg("version check could not list containers")
			continue
		}
		for _, c := range containers {
			if c.Image != "" {
				images[c.Image] = struct{}{}
			}
		}
	}

	s.logger.Info().Int("images", len(images)).Msg("background version check starting")

	updates := 0
	for image := range images {
		if info := s.versions.CheckForNewer(image); info != nil && info.IsNewer {
			updates++
			s.logger.Info().Str("image", image).Str("tag", info.Tag).Msg("update available")
		}
	}

	s.logger.Info().Int("updates", updates).Msg("background version check complete")
}
