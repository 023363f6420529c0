package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"

	dptypes "github.com/dockpeek/dockpeek/pkg/types"
	"github.com/dockpeek/dockpeek/pkg/update"
)

const noneTag = "<none>:<none>"

// UnusedImage is one image no container references.
type UnusedImage struct {
	ID            string   `json:"id"`
	Tags          []string `json:"tags"`
	Size          int64    `json:"size"`
	PendingUpdate bool     `json:"pending_update"`
}

// HostPruneInfo is the prune candidates of one host.
type HostPruneInfo struct {
	Server string        `json:"server"`
	Count  int           `json:"count"`
	Size   int64         `json:"size"`
	Images []UnusedImage `json:"images"`
}

// PruneInfo aggregates prune candidates across hosts. Counts and sizes
// exclude pending-update images: a freshly pulled, newer image for a tag
// some container still runs is about to be used, not garbage.
type PruneInfo struct {
	TotalCount int             `json:"total_count"`
	TotalSize  int64           `json:"total_size"`
	Servers    []HostPruneInfo `json:"servers"`
}

// HostPruneResult is the removal outcome of one host.
type HostPruneResult struct {
	Server string `json:"server"`
	Count  int    `json:"count"`
	Size   int64  `json:"size"`
}

// PruneResult aggregates removals across hosts.
type PruneResult struct {
	TotalCount int               `json:"total_count"`
	TotalSize  int64             `json:"total_size"`
	Servers    []HostPruneResult `json:"servers"`
}

// detectUnusedImages finds images no container references. Tag resolution
// falls back from repo tags to the digest's repository name; pending-update
// detection compares the unused image's creation time against the newest
// image currently running under the same tag.
func detectUnusedImages(images []image.Summary, containers []types.Container) []UnusedImage {
	createdByID := make(map[string]int64, len(images))
	for _, img := range images {
		createdByID[img.ID] = img.Created
	}

	used := make(map[string]bool)
	runningTagCreated := make(map[string]int64)
	for _, ctr := range containers {
		used[ctr.ImageID] = true
		if ctr.Image == "" {
			continue
		}
		base, tag := update.ParseImageName(ctr.Image)
		key := base + ":" + tag
		created := createdByID[ctr.ImageID]
		if prev, ok := runningTagCreated[key]; !ok || created > prev {
			runningTagCreated[key] = created
		}
	}

	var unused []UnusedImage
	for _, img := range images {
		if used[img.ID] {
			continue
		}

		tags := make([]string, 0, len(img.RepoTags))
		for _, tag := range img.RepoTags {
			if tag != noneTag {
				tags = append(tags, tag)
			}
		}
		if len(tags) == 0 {
			if len(img.RepoDigests) > 0 {
				repo, _, _ := strings.Cut(img.RepoDigests[0], "@")
				tags = []string{repo + ":<none>"}
			} else {
				tags = []string{noneTag}
			}
		}

		pending := false
		for _, tag := range tags {
			if tag == noneTag {
				continue
			}
			if runningCreated, ok := runningTagCreated[tag]; ok && img.Created > runningCreated {
				pending = true
				break
			}
		}

		unused = append(unused, UnusedImage{
			ID:            img.ID,
			Tags:          tags,
			Size:          img.Size,
			PendingUpdate: pending,
		})
	}

	sort.Slice(unused, func(i, j int) bool { return unused[i].ID < unused[j].ID })
	return unused
}

// pruneHosts picks the active hosts a prune request targets: one by name,
// or all of them.
func (c *Collector) pruneHosts(ctx context.Context, serverFilter string) []pruneTarget {
	var targets []pruneTarget
	for _, host := range c.discovery.Discover(ctx, true) {
		if host.Status != dptypes.HostStatusActive || host.Client == nil {
			continue
		}
		if serverFilter != "" && serverFilter != "all" && host.Name != serverFilter {
			continue
		}
		targets = append(targets, pruneTarget{name: host.Name, client: host.Client})
	}
	return targets
}

type pruneTarget struct {
	name   string
	client pruneClient
}

// pruneClient is the engine surface prune operations need.
type pruneClient interface {
	ImageList(ctx context.Context, options types.ImageListOptions) ([]image.Summary, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ImageRemove(ctx context.Context, imageID string, options types.ImageRemoveOptions) ([]image.DeleteResponse, error)
}

func unusedOnHost(ctx context.Context, cli pruneClient) ([]UnusedImage, error) {
	images, err := cli.ImageList(ctx, types.ImageListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return detectUnusedImages(images, containers), nil
}

// CollectPruneInfo reports unused images per host without removing
// anything. serverFilter narrows to one host; "" or "all" covers the fleet.
func (c *Collector) CollectPruneInfo(ctx context.Context, serverFilter string) PruneInfo {
	info := PruneInfo{Servers: []HostPruneInfo{}}

	for _, target := range c.pruneHosts(ctx, serverFilter) {
		unused, err := unusedOnHost(ctx, target.client)
		if err != nil {
			c.logger.Error().Err(err).Str("host", target.name).Msg("error getting prune info")
			continue
		}
		if len(unused) == 0 {
			continue
		}

		detail := HostPruneInfo{Server: target.name, Images: unused}
		for _, img := range unused {
			if !img.PendingUpdate {
				detail.Count++
				detail.Size += img.Size
			}
		}
		info.TotalCount += detail.Count
		info.TotalSize += detail.Size
		info.Servers = append(info.Servers, detail)
	}

	return info
}

// PruneImages removes every non-pending unused image on the targeted
// hosts. A host whose listing fails aborts the call; individual image
// removals failing are logged and skipped.
func (c *Collector) PruneImages(ctx context.Context, serverFilter string) (PruneResult, error) {
	result := PruneResult{Servers: []HostPruneResult{}}

	for _, target := range c.pruneHosts(ctx, serverFilter) {
		unused, err := unusedOnHost(ctx, target.client)
		if err != nil {
			return result, fmt.Errorf("failed to prune on %s: %w", target.name, err)
		}

		hostResult := HostPruneResult{Server: target.name}
		for _, img := range unused {
			if img.PendingUpdate {
				continue
			}
			if _, err := target.client.ImageRemove(ctx, img.ID, types.ImageRemoveOptions{Force: true}); err != nil {
				c.logger.Warn().Err(err).Str("host", target.name).Str("image", img.ID).Msg("could not remove image")
				continue
			}
			hostResult.Count++
			hostResult.Size += img.Size
		}

		result.TotalCount += hostResult.Count
		result.TotalSize += hostResult.Size
		if hostResult.Count > 0 {
			result.Servers = append(result.Servers, hostResult)
		}
		c.logger.Info().Str("host", target.name).Int("removed", hostResult.Count).Int64("reclaimed", hostResult.Size).Msg("pruned images")
	}

	return result, nil
}
