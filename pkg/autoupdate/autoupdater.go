package autoupdate

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/dockerhost"
	"github.com/dockpeek/dockpeek/pkg/inventory"
	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/portainer"
	"github.com/dockpeek/dockpeek/pkg/types"
	"github.com/dockpeek/dockpeek/pkg/update"
)

// Summary aggregates one auto-update cycle.
type Summary struct {
	Status  string   `json:"status"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Details []Record `json:"details"`
}

// Status is the auto-updater's reporting view.
type Status struct {
	Enabled          bool `json:"enabled"`
	DryRun           bool `json:"dry_run"`
	IntervalSeconds  int  `json:"interval_seconds"`
	BatchSize        int  `json:"batch_size"`
	HistoryTotal     int  `json:"history_total"`
	HistorySuccesses int  `json:"history_successes"`
	HistoryFailures  int  `json:"history_failures"`
}

// AutoUpdater updates opt-in containers when a newer version sits in the
// version cache. Only containers labelled for auto update are eligible;
// skip/pin policies always win. Updates run in bounded batches, through the
// orchestrator when possible, with the engine path as fallback.
type AutoUpdater struct {
	cfg       config.AutoUpdateConfig
	updateCfg config.UpdateConfig
	collector *inventory.Collector
	discovery *dockerhost.Discovery
	orch      *portainer.Client
	checker   *update.Checker
	journal   *Journal
	logger    zerolog.Logger
	stopCh    chan struct{}
}

// New creates an auto-updater. orch may be nil when no orchestrator is
// configured.
func New(cfg config.AutoUpdateConfig, updateCfg config.UpdateConfig, collector *inventory.Collector, discovery *dockerhost.Discovery, orch *portainer.Client, checker *update.Checker) *AutoUpdater {
	a := &AutoUpdater{
		cfg:       cfg,
		updateCfg: updateCfg,
		collector: collector,
		discovery: discovery,
		orch:      orch,
		checker:   checker,
		journal:   NewJournal(cfg.HistoryFile),
		logger:    log.WithComponent("autoupdate"),
		stopCh:    make(chan struct{}),
	}
	if cfg.DryRun {
		a.logger.Info().Msg("dry run mode, no containers will be modified")
	}
	return a
}

// Start launches the periodic check loop.
func (a *AutoUpdater) Start() {
	if !a.cfg.Enabled {
		a.logger.Info().Msg("auto updater disabled")
		return
	}
	go a.run()
}

// Stop signals the loop.
func (a *AutoUpdater) Stop() {
	close(a.stopCh)
}

func (a *AutoUpdater) run() {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.CheckAndUpdate(context.Background())
		case <-a.stopCh:
			return
		}
	}
}

// CheckAndUpdate runs one cycle: collect the fleet, filter eligible
// containers, update up to batch-size of them.
func (a *AutoUpdater) CheckAndUpdate(ctx context.Context) Summary {
	if !a.cfg.Enabled {
		return Summary{Status: "disabled", Details: []Record{}}
	}

	a.logger.Info().Msg("starting auto-update cycle")
	snapshot := a.collector.Collect(ctx, "")

	eligible := EligibleContainers(snapshot.Containers)
	if len(eligible) == 0 {
		a.logger.Info().Msg("no eligible containers found")
		return Summary{Status: "ok", Details: []Record{}}
	}

	a.logger.Info().Int("eligible", len(eligible)).Int("batch_size", a.cfg.BatchSize).Msg("auto-update candidates")

	summary := Summary{Status: "ok", Details: []Record{}}
	batch := eligible
	if len(batch) > a.cfg.BatchSize {
		batch = batch[:a.cfg.BatchSize]
	}

	for _, c := range batch {
		record := a.updateOne(ctx, c)
		summary.Details = append(summary.Details, record)
		a.journal.Append(record)

		switch record.Status {
		case "success":
			summary.Updated++
		case "blocked", "dry_run":
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	a.logger.Info().
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("auto-update cycle complete")
	return summary
}

// EligibleContainers filters and orders auto-update candidates: opted in,
// not skip/pin, running, with a newer version resolved. Ordering follows
// the numeric update-order label, unordered containers last.
func EligibleContainers(containers []types.ContainerSnapshot) []types.ContainerSnapshot {
	var eligible []types.ContainerSnapshot
	for _, c := range containers {
		o := c.Orchestration
		if o == nil || !o.AutoUpdate {
			continue
		}
		action := strings.ToLower(o.UpdateAction)
		if action == "skip" || action == "pin" {
			continue
		}
		if strings.ToLower(c.Status) != "running" {
			continue
		}
		if !c.NewerVersionAvailable || c.LatestVersion == "" {
			continue
		}
		eligible = append(eligible, c)
	}

	orderKey := func(c types.ContainerSnapshot) (int, bool) {
		n, err := strconv.Atoi(c.Orchestration.UpdateOrder)
		return n, err == nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, aOK := orderKey(eligible[i])
		b, bOK := orderKey(eligible[j])
		if aOK != bOK {
			return aOK
		}
		return aOK && a < b
	})
	return eligible
}

// updateOne updates a single container to its resolved latest version.
func (a *AutoUpdater) updateOne(ctx context.Context, c types.ContainerSnapshot) Record {
	base, oldVersion := update.ParseImageName(c.Image)
	newImage := base + ":" + c.LatestVersion

	record := Record{
		Container:  c.Name,
		Server:     c.Server,
		Image:      c.Image,
		OldVersion: oldVersion,
		NewVersion: c.LatestVersion,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}

	if a.cfg.DryRun {
		a.logger.Info().Str("container", c.Name).Str("new_image", newImage).Msg("dry run, would update")
		record.Status = "dry_run"
		return record
	}

	a.logger.Info().Str("container", c.Name).Str("server", c.Server).Str("from", c.Image).Str("to", newImage).Msg("auto-updating")

	host := a.findHost(ctx, c.Server)
	if host == nil || host.Client == nil {
		record.Status = "error"
		record.Error = "no active engine client for server " + c.Server
		a.logger.Error().Str("server", c.Server).Msg(record.Error)
		return record
	}

	// Pre-pull so the orchestrator redeploy does not pay the pull.
	if err := a.prePull(ctx, host, newImage); err != nil {
		record.Status = "error"
		record.Error = err.Error()
		return record
	}

	if a.orch != nil {
		if stackName, ok := a.updateViaOrchestrator(c.Name, newImage); ok {
			record.Status = "success"
			record.Method = "portainer"
			record.Message = "Updated '" + c.Name + "' to " + newImage + " via stack '" + stackName + "'."
			return record
		}
	}

	updater := update.NewUpdater(host.Client, c.Server, update.Options{
		LockDir:     a.updateCfg.LockDir,
		StopTimeout: a.updateCfg.StopTimeout,
		PullTimeout: a.updateCfg.PullTimeout,
		Checker:     a.checker,
	})

	result, err := updater.Update(ctx, c.Name, true, newImage)
	record.Method = "docker_api"
	record.Status = string(result.Status)
	record.Message = result.Message
	if err != nil {
		record.Error = err.Error()
		if record.Status != string(update.StatusBlocked) {
			record.Status = "failed"
		}
	}
	return record
}

func (a *AutoUpdater) updateViaOrchestrator(containerName, newImage string) (string, bool) {
	stack := a.orch.GetContainerStack(containerName)
	if stack == nil {
		a.logger.Info().Str("container", containerName).Msg("not in an orchestrator stack, falling back to engine API")
		return "", false
	}

	serviceName := stack.ServiceName
	if serviceName == "" {
		serviceName = a.orch.FindServiceForContainer(stack.StackID, containerName)
	}

	var imageUpdates map[string]string
	if serviceName != "" {
		imageUpdates = map[string]string{serviceName: newImage}
	}

	stackName, err := a.orch.RedeployStack(stack.StackID, imageUpdates, false)
	if err != nil {
		a.logger.Warn().Err(err).Str("container", containerName).Msg("orchestrator redeploy failed, falling back to engine API")
		return "", false
	}
	return stackName, true
}

func (a *AutoUpdater) findHost(ctx context.Context, server string) *dockerhost.Host {
	for _, host := range a.discovery.Discover(ctx, true) {
		if host.Name == server {
			return host
		}
	}
	return nil
}

func (a *AutoUpdater) prePull(ctx context.Context, host *dockerhost.Host, image string) error {
	a.logger.Info().Str("image", image).Str("server", host.Name).Msg("pre-pulling")

	pullCtx, cancel := context.WithTimeout(ctx, a.updateCfg.PullTimeout)
	defer cancel()

	reader, err := host.Client.ImagePull(pullCtx, image, dockertypes.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// History returns recent journal records, newest first.
func (a *AutoUpdater) History(limit int) []Record {
	return a.journal.History(limit)
}

// Status reports configuration and aggregate journal stats.
func (a *AutoUpdater) Status() Status {
	records := a.journal.ReadAll()
	status := Status{
		Enabled:         a.cfg.Enabled,
		DryRun:          a.cfg.DryRun,
		IntervalSeconds: int(a.cfg.Interval.Seconds()),
		BatchSize:       a.cfg.BatchSize,
		HistoryTotal:    len(records),
	}
	for _, r := range records {
		switch r.Status {
		case "success":
			status.HistorySuccesses++
		case "failed", "error":
			status.HistoryFailures++
		}
	}
	return status
}
