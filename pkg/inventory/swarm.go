package inventory

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/swarm"

	"github.com/dockpeek/dockpeek/pkg/dockerhost"
	dptypes "github.com/dockpeek/dockpeek/pkg/types"
)

// collectSwarm enumerates cluster services and their tasks, producing one
// snapshot per service. Update decisions for services come from the cache
// only; the orchestrator owns them, so a miss means "no local update".
func (c *Collector) collectSwarm(ctx context.Context, host *dockerhost.Host, requestHostname string) []dptypes.ContainerSnapshot {
	cli := host.Client

	services, err := cli.ServiceList(ctx, types.ServiceListOptions{})
	if err != nil {
		c.logger.Error().Err(err).Str("host", host.Name).Msg("swarm service list failed")
		return []dptypes.ContainerSnapshot{{
			Server: host.Name,
			Name:   "unknown",
			Status: "swarm-error",
			Image:  "error-loading",
			Ports:  []dptypes.PortMapping{},
		}}
	}

	tasks, err := cli.TaskList(ctx, types.TaskListOptions{})
	if err != nil {
		c.logger.Error().Err(err).Str("host", host.Name).Msg("swarm task list failed")
		tasks = nil
	}

	tasksByService := make(map[string][]swarm.Task)
	for _, task := range tasks {
		tasksByService[task.ServiceID] = append(tasksByService[task.ServiceID], task)
	}

	snapshots := make([]dptypes.ContainerSnapshot, 0, len(services))
	for _, service := range services {
		snapshots = append(snapshots, c.processService(host, service, tasksByService[service.ID], requestHostname))
	}
	return snapshots
}

func (c *Collector) processService(host *dockerhost.Host, service swarm.Service, tasks []swarm.Task, requestHostname string) dptypes.ContainerSnapshot {
	labels := service.Spec.Labels
	if labels == nil {
		labels = map[string]string{}
	}

	imageName := service.Spec.TaskTemplate.ContainerSpec.Image
	if imageName == "" {
		imageName = "unknown"
	}

	labelData := ExtractLabelData(labels, c.labels.TagsEnabled)
	routes := ExtractTraefikRoutes(labels, c.labels.TraefikEnabled)

	var published []publishedPort
	for _, port := range service.Endpoint.Ports {
		published = append(published, publishedPort{
			ContainerPort: fmt.Sprintf("%d/%s", port.TargetPort, port.Protocol),
			HostPort:      fmt.Sprint(port.PublishedPort),
		})
	}

	running := 0
	for _, task := range tasks {
		if task.Status.State == swarm.TaskStateRunning {
			running++
		}
	}
	status := "no-tasks"
	if len(tasks) > 0 {
		status = fmt.Sprintf("running (%d/%d)", running, len(tasks))
	}

	portRangeGrouping := c.labels.PortRangeGrouping
	if labelData.PortRangeGrouping != nil {
		portRangeGrouping = *labelData.PortRangeGrouping
	}

	// Cluster services never trigger a local update check.
	cacheKey := c.updates.CacheKey(host.Name, service.Spec.Name, imageName)
	updateAvailable, _ := c.updates.CachedDecision(cacheKey)

	return dptypes.ContainerSnapshot{
		Server:            host.Name,
		Name:              service.Spec.Name,
		ContainerID:       shortID(service.ID),
		Status:            status,
		Image:             imageName,
		Stack:             labelData.StackName,
		SourceURL:         labelData.SourceURL,
		CustomURL:         labelData.CustomURL,
		Ports:             buildPortMap(published, labelData, host.PublicHostname, requestHostname),
		TraefikRoutes:     routes,
		Tags:              labelData.Tags,
		UpdateAvailable:   updateAvailable,
		PortRangeGrouping: portRangeGrouping,
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
