package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/dockerhost"
	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/scan"
	dptypes "github.com/dockpeek/dockpeek/pkg/types"
	"github.com/dockpeek/dockpeek/pkg/update"
	"github.com/dockpeek/dockpeek/pkg/version"
)

// Collector assembles the fleet snapshot: it fans out over active hosts,
// builds one ContainerSnapshot per container or cluster service, and merges
// the cached security, version and update answers into each row. The read
// path never touches a registry or pulls an image.
type Collector struct {
	discovery   *dockerhost.Discovery
	scanner     *scan.Engine
	versions    *version.Checker
	updates     *update.Checker
	labels      config.LabelConfig
	hostTimeout time.Duration
	logger      zerolog.Logger
}

// NewCollector creates a collector over the shared cache-backed engines.
func NewCollector(discovery *dockerhost.Discovery, scanner *scan.Engine, versions *version.Checker, updates *update.Checker, labels config.LabelConfig, hostTimeout time.Duration) *Collector {
	return &Collector{
		discovery:   discovery,
		scanner:     scanner,
		versions:    versions,
		updates:     updates,
		labels:      labels,
		hostTimeout: hostTimeout,
		logger:      log.WithComponent("collector"),
	}
}

// hostResult is the outcome of one host's collection pass.
type hostResult struct {
	containers []dptypes.ContainerSnapshot
	isSwarm    bool
	timedOut   bool
}

// Collect runs one collection pass. requestHostname, when non-empty, is the
// hostname the triggering request arrived on and is used as a link
// fallback. The aggregate is assembled deterministically in host order.
func (c *Collector) Collect(ctx context.Context, requestHostname string) *dptypes.FleetSnapshot {
	hosts := c.discovery.Discover(ctx, true)

	snapshot := &dptypes.FleetSnapshot{
		Servers:            make([]dptypes.HostInfo, len(hosts)),
		Containers:         []dptypes.ContainerSnapshot{},
		SwarmServers:       []string{},
		TraefikEnabled:     c.labels.TraefikEnabled,
		PortRangeGrouping:  c.labels.PortRangeGrouping,
		PortRangeThreshold: c.labels.PortRangeThreshold,
		ScannerEnabled:     c.scanner.Enabled(),
	}
	for i, host := range hosts {
		snapshot.Servers[i] = host.Info()
	}

	results := make([]hostResult, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		if host.Status != dptypes.HostStatusActive {
			continue
		}
		wg.Add(1)
		go func(i int, host *dockerhost.Host) {
			defer wg.Done()

			hostCtx, cancel := context.WithTimeout(ctx, c.hostTimeout)
			defer cancel()

			done := make(chan hostResult, 1)
			go func() { done <- c.collectHost(hostCtx, host, requestHostname) }()

			select {
			case res := <-done:
				results[i] = res
			case <-hostCtx.Done():
				c.logger.Error().Str("host", host.Name).Dur("timeout", c.hostTimeout).Msg("timeout processing host")
				results[i] = hostResult{timedOut: true}
			}
		}(i, host)
	}
	wg.Wait()

	for i, host := range hosts {
		res := results[i]
		if res.timedOut {
			snapshot.Servers[i].Status = dptypes.HostStatusInactive
			snapshot.Containers = append(snapshot.Containers, dptypes.ContainerSnapshot{
				Server: host.Name,
				Name:   "timeout",
				Status: "host-timeout",
				Image:  "timeout-error",
				Ports:  []dptypes.PortMapping{},
			})
			continue
		}
		snapshot.Containers = append(snapshot.Containers, res.containers...)
		if res.isSwarm {
			snapshot.SwarmServers = append(snapshot.SwarmServers, host.Name)
		}
	}

	if c.scanner.Enabled() {
		snapshot.ScannerHealthy = c.scanner.HealthCheck(false)
		snapshot.ScansPending = c.scanner.PendingCount()

		clients := make(map[string]scan.ImageInspector)
		for _, host := range hosts {
			if host.Client != nil {
				clients[host.Name] = host.Client
			}
		}
		c.scanner.QueueAutoScan(snapshot.Containers, clients)
	}

	return snapshot
}

// collectHost gathers every container (or cluster service) on one host.
func (c *Collector) collectHost(ctx context.Context, host *dockerhost.Host, requestHostname string) hostResult {
	cli := host.Client

	isSwarm := false
	if info, err := cli.Info(ctx); err == nil {
		isSwarm = info.Swarm.LocalNodeState == swarm.LocalNodeStateActive
	}

	if isSwarm {
		return hostResult{containers: c.collectSwarm(ctx, host, requestHostname), isSwarm: true}
	}

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		c.logger.Error().Err(err).Str("host", host.Name).Msg("failed to list containers")
		return hostResult{containers: []dptypes.ContainerSnapshot{{
			Server: host.Name,
			Name:   "error",
			Status: "list-error",
			Image:  "error-loading",
			Ports:  []dptypes.PortMapping{},
		}}}
	}

	// Containers are processed sequentially: the bottleneck is the remote
	// engine, not CPU.
	snapshots := make([]dptypes.ContainerSnapshot, 0, len(containers))
	for _, summary := range containers {
		snapshots = append(snapshots, c.processContainer(ctx, host, summary, requestHostname))
	}

	// Anchor containers get a dependents list computed over all siblings,
	// then hidden containers are dropped from the result.
	attachDependents(snapshots)
	visible := snapshots[:0]
	for _, s := range snapshots {
		if s.Orchestration != nil && s.Orchestration.Hidden {
			continue
		}
		visible = append(visible, s)
	}

	return hostResult{containers: visible}
}

// attachDependents fills each anchor's dependents list by a name-match scan
// over its siblings.
func attachDependents(snapshots []dptypes.ContainerSnapshot) {
	for i := range snapshots {
		o := snapshots[i].Orchestration
		if o == nil || o.Role != "anchor" {
			continue
		}
		var dependents []string
		for j := range snapshots {
			sibling := snapshots[j].Orchestration
			if sibling != nil && sibling.Anchor == snapshots[i].Name {
				dependents = append(dependents, snapshots[j].Name)
			}
		}
		o.Dependents = dependents
	}
}

func (c *Collector) processContainer(ctx context.Context, host *dockerhost.Host, summary types.Container, requestHostname string) dptypes.ContainerSnapshot {
	name := summary.ID[:12]
	if len(summary.Names) > 0 {
		name = trimSlash(summary.Names[0])
	}

	inspect, err := host.Client.ContainerInspect(ctx, summary.ID)
	if err != nil {
		status := "error"
		if ctx.Err() != nil {
			status = "timeout"
		}
		c.logger.Warn().Err(err).Str("host", host.Name).Str("container", name).Msg("error processing container")
		return dptypes.ContainerSnapshot{
			Server:      host.Name,
			Name:        name,
			ContainerID: summary.ID[:12],
			Status:      status,
			Image:       "error-loading",
			Ports:       []dptypes.PortMapping{},
		}
	}

	imageName := ""
	if inspect.Config != nil {
		imageName = inspect.Config.Image
	}
	if imageName == "" {
		imageName = summary.Image
	}
	if imageName == "" && len(inspect.Image) >= 12 {
		imageName = inspect.Image[:12]
	}

	status, exitCode := dockerhost.MapContainerState(inspect.State)

	labels := map[string]string{}
	if inspect.Config != nil && inspect.Config.Labels != nil {
		labels = inspect.Config.Labels
	}
	labelData := ExtractLabelData(labels, c.labels.TagsEnabled)
	orchestration := ExtractOrchestration(labels)
	routes := ExtractTraefikRoutes(labels, c.labels.TraefikEnabled)

	var published []publishedPort
	startedAt := ""
	networks := []string{}
	ips := map[string]string{}
	if inspect.NetworkSettings != nil {
		published = extractContainerPorts(inspect.NetworkSettings.Ports)
		for netName, settings := range inspect.NetworkSettings.Networks {
			networks = append(networks, netName)
			if settings.IPAddress != "" {
				ips[netName] = settings.IPAddress
			}
		}
	}
	if inspect.State != nil {
		startedAt = inspect.State.StartedAt
	}

	portRangeGrouping := c.labels.PortRangeGrouping
	if labelData.PortRangeGrouping != nil {
		portRangeGrouping = *labelData.PortRangeGrouping
	}

	cacheKey := c.updates.CacheKey(host.Name, name, imageName)
	updateAvailable, cached := c.updates.CachedDecision(cacheKey)
	if !cached {
		updateAvailable = c.updates.CheckLocal(ctx, host.Client, inspect.Image, imageName, host.Name)
	}

	var security *dptypes.SecuritySummary
	if labelData.SecuritySkip {
		security = &dptypes.SecuritySummary{Status: dptypes.ScanStatusSkipped}
	} else {
		security = c.securitySummary(ctx, host.Client, imageName)
	}

	stack := labelData.StackName
	if orchestration != nil && orchestration.StackOverride != "" {
		stack = orchestration.StackOverride
	}

	snapshot := dptypes.ContainerSnapshot{
		Server:            host.Name,
		Name:              name,
		ContainerID:       summary.ID[:12],
		Status:            status,
		StartedAt:         startedAt,
		ExitCode:          exitCode,
		Image:             imageName,
		Stack:             stack,
		SourceURL:         labelData.SourceURL,
		CustomURL:         labelData.CustomURL,
		Ports:             buildPortMap(published, labelData, host.PublicHostname, requestHostname),
		TraefikRoutes:     routes,
		Tags:              labelData.Tags,
		UpdateAvailable:   updateAvailable,
		PortRangeGrouping: portRangeGrouping,
		Security:          security,
		Networks:          networks,
		IPAddresses:       ips,
		SecuritySkip:      labelData.SecuritySkip,
		Orchestration:     orchestration,
	}

	if info := c.versions.Cached(imageName); info != nil {
		snapshot.NewerVersionAvailable = true
		snapshot.LatestVersion = info.Tag
	}

	return snapshot
}

// securitySummary merges the scan cache's answer for an image into snapshot
// form. No scan is triggered here; unscanned images are picked up by the
// auto-scan queue afterwards.
func (c *Collector) securitySummary(ctx context.Context, cli *client.Client, imageName string) *dptypes.SecuritySummary {
	if !c.scanner.Enabled() {
		return nil
	}

	digest := c.scanner.ImageDigest(ctx, cli, imageName)
	if digest != "" {
		if cached := c.scanner.GetCached(digest); cached != nil {
			if cached.Error != "" {
				return &dptypes.SecuritySummary{Status: dptypes.ScanStatusFailed, Error: cached.Error}
			}
			ts := cached.Timestamp
			return &dptypes.SecuritySummary{
				Critical:      cached.Summary.Critical,
				High:          cached.Summary.High,
				Medium:        cached.Summary.Medium,
				Low:           cached.Summary.Low,
				Total:         cached.Summary.Total(),
				ScanTimestamp: &ts,
				Status:        dptypes.ScanStatusScanned,
			}
		}
	}
	return &dptypes.SecuritySummary{Status: dptypes.ScanStatusNotScanned}
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
