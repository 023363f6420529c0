package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/portainer"
)

// Status classifies an update outcome.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
	StatusError      Status = "error"
)

// Result is the structured outcome surfaced verbatim to callers.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ErrRollbackFailed marks the critical case: the update failed and the
// original container could not be restored either. The wrapped message
// names the container an operator must recover by hand.
var ErrRollbackFailed = errors.New("rollback failed")

const updateActionLabel = "dockpeek.update.action"

// UpdaterClient is the engine surface the updater drives.
type UpdaterClient interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerRename(ctx context.Context, containerID, newContainerName string) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
}

// Options configures an Updater.
type Options struct {
	LockDir     string
	StopTimeout time.Duration
	PullTimeout time.Duration
	Checker     *Checker
	Portainer   *portainer.Client
}

// Updater replaces a running container with a newer image while preserving
// its configuration, networks, ports and dependents, with best-effort
// rollback. When an external orchestrator is configured its stack-aware
// path is attempted first.
type Updater struct {
	cli    UpdaterClient
	server string
	opts   Options
	logger zerolog.Logger
}

// NewUpdater creates an updater for one host.
func NewUpdater(cli UpdaterClient, server string, opts Options) *Updater {
	return &Updater{
		cli:    cli,
		server: server,
		opts:   opts,
		logger: log.WithComponent("updater").With().Str("server", server).Logger(),
	}
}

// Update replaces containerName's container. force skips the idempotence
// check; newImage overrides the target reference for version upgrades.
func (u *Updater) Update(ctx context.Context, containerName string, force bool, newImage string) (Result, error) {
	lock, err := NewContainerLock(u.opts.LockDir, containerName)
	if err != nil {
		return Result{Status: StatusError, Message: err.Error()}, err
	}
	if !lock.TryAcquire() {
		u.logger.Info().Str("container", containerName).Msg("update already in progress")
		return Result{
			Status:  StatusInProgress,
			Message: fmt.Sprintf("Update already in progress for '%s'.", containerName),
		}, nil
	}
	defer lock.Release()

	return u.doUpdate(ctx, containerName, force, newImage)
}

func (u *Updater) doUpdate(ctx context.Context, containerName string, force bool, newImage string) (Result, error) {
	u.logger.Info().Str("container", containerName).Bool("force", force).Str("new_image", newImage).Msg("starting update")

	// Label-declared update policy wins over everything.
	if ctr, err := u.cli.ContainerInspect(ctx, containerName); err == nil && ctr.Config != nil {
		action := strings.ToLower(ctr.Config.Labels[updateActionLabel])
		if action == "skip" || action == "pin" {
			msg := fmt.Sprintf("Container '%s' has %s=%s, update blocked", containerName, updateActionLabel, action)
			u.logger.Warn().Msg(msg)
			return Result{Status: StatusBlocked, Message: msg}, nil
		}
	}

	// Orchestrator path first: it preserves stack env, networking and
	// service config for compose-managed containers.
	if u.opts.Portainer != nil {
		if result, handled := u.updateViaPortainer(containerName, newImage); handled {
			return result, nil
		}
	}

	ctr, err := u.cli.ContainerInspect(ctx, containerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Result{Status: StatusError, Message: fmt.Sprintf("Container '%s' not found.", containerName)}, err
		}
		return Result{Status: StatusError, Message: fmt.Sprintf("Error accessing container '%s': %v", containerName, err)}, err
	}

	dependents := u.dependentContainers(ctx, ctr)
	if len(dependents) > 0 {
		names := make([]string, len(dependents))
		for i, dep := range dependents {
			names[i] = strings.TrimPrefix(dep.Name, "/")
		}
		u.logger.Info().Strs("dependents", names).Msg("found dependent containers")
	}

	imageName, imageID := u.imageInfo(ctr)
	if newImage != "" {
		imageName = newImage
		u.logger.Info().Str("image", newImage).Msg("upgrading to new version")
	}
	if imageName == "" {
		err := fmt.Errorf("could not determine image name for container '%s'", containerName)
		return Result{Status: StatusError, Message: err.Error()}, err
	}

	if err := u.pullImage(ctx, imageName); err != nil {
		return Result{Status: StatusError, Message: err.Error()}, err
	}

	if !force && !u.hasUpdates(ctx, imageName, imageID) {
		u.logger.Info().Str("image", imageName).Msg("no updates")
		return Result{
			Status:  StatusSuccess,
			Message: fmt.Sprintf("Container %s is already up to date.", containerName),
		}, nil
	}

	cfg := ExtractConfig(ctr, true)
	oldImage := u.rollbackImage(ctx, ctr)

	result, err := u.performUpdate(ctx, ctr, imageName, cfg, oldImage)
	if err != nil || result.Status != StatusSuccess {
		return result, err
	}

	if len(dependents) > 0 {
		newCtr, err := u.cli.ContainerInspect(ctx, cfg.Name)
		if err == nil {
			var failed []string
			for _, dep := range dependents {
				if !u.recreateDependent(ctx, dep, newCtr.ID) {
					failed = append(failed, strings.TrimPrefix(dep.Name, "/"))
				}
			}
			if len(failed) > 0 {
				result.Message += fmt.Sprintf(" Warning: Failed to recreate dependent containers: %s", strings.Join(failed, ", "))
			} else {
				result.Message += fmt.Sprintf(" Successfully recreated %d dependent container(s).", len(dependents))
			}
		}
	}

	return result, nil
}

// updateViaPortainer attempts the stack-aware path. handled is false when
// the engine path should run instead.
func (u *Updater) updateViaPortainer(containerName, newImage string) (Result, bool) {
	stack := u.opts.Portainer.GetContainerStack(containerName)
	if stack == nil {
		u.logger.Info().Str("container", containerName).Msg("container not in an orchestrator stack, falling back to engine API")
		return Result{}, false
	}

	serviceName := stack.ServiceName
	if serviceName == "" {
		serviceName = u.opts.Portainer.FindServiceForContainer(stack.StackID, containerName)
	}

	u.logger.Info().
		Str("container", containerName).
		Str("stack", stack.StackName).
		Str("service", serviceName).
		Msg("attempting stack-aware update")

	var imageUpdates map[string]string
	if newImage != "" && serviceName != "" {
		imageUpdates = map[string]string{serviceName: newImage}
	} else if newImage != "" {
		u.logger.Warn().Str("container", containerName).Msg("service name unknown, redeploying without image update")
	}

	stackName, err := u.opts.Portainer.RedeployStack(stack.StackID, imageUpdates, true)
	if err != nil {
		u.logger.Warn().Err(err).Str("container", containerName).Msg("orchestrator update failed, falling back to engine API")
		return Result{}, false
	}

	msg := fmt.Sprintf("Container '%s' redeployed via stack '%s'.", containerName, stackName)
	if newImage != "" {
		msg = fmt.Sprintf("Container '%s' updated to '%s' via stack '%s'.", containerName, newImage, stackName)
	}
	u.logger.Info().Msg(msg)
	return Result{Status: StatusSuccess, Message: msg}, true
}

// dependentContainers finds containers whose network mode ties them to the
// target by id or name; they must be recreated after the target.
func (u *Updater) dependentContainers(ctx context.Context, target types.ContainerJSON) []types.ContainerJSON {
	all, err := u.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		u.logger.Warn().Err(err).Msg("could not check for dependent containers")
		return nil
	}

	targetName := strings.TrimPrefix(target.Name, "/")
	var dependents []types.ContainerJSON
	for _, other := range all {
		if other.ID == target.ID {
			continue
		}
		mode := other.HostConfig.NetworkMode
		if mode != "container:"+targetName && mode != "container:"+target.ID {
			continue
		}
		inspected, err := u.cli.ContainerInspect(ctx, other.ID)
		if err != nil {
			continue
		}
		dependents = append(dependents, inspected)
	}
	return dependents
}

func (u *Updater) imageInfo(ctr types.ContainerJSON) (string, string) {
	imageName := ""
	if ctr.Config != nil {
		imageName = ctr.Config.Image
	}
	if imageName == "" {
		return "", ctr.Image
	}

	if u.opts.Checker != nil {
		base, tag := ParseImageName(imageName)
		if resolved := u.opts.Checker.ResolveFloatingTag(tag); resolved != tag {
			u.logger.Info().Str("from", tag).Str("to", resolved).Msg("resolved floating tag")
			return base + ":" + resolved, ctr.Image
		}
	}
	return imageName, ctr.Image
}

// rollbackImage picks the reference used to restore the container on
// failure: the first repo tag when present, the raw image id otherwise.
func (u *Updater) rollbackImage(ctx context.Context, ctr types.ContainerJSON) string {
	inspect, _, err := u.cli.ImageInspectWithRaw(ctx, ctr.Image)
	if err == nil && len(inspect.RepoTags) > 0 {
		return inspect.RepoTags[0]
	}
	return ctr.Image
}

func (u *Updater) pullImage(ctx context.Context, imageName string) error {
	u.logger.Info().Str("image", imageName).Msg("pulling image")

	pullCtx, cancel := context.WithTimeout(ctx, u.opts.PullTimeout)
	defer cancel()

	reader, err := u.cli.ImagePull(pullCtx, imageName, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image '%s': %w", imageName, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image '%s': %w", imageName, err)
	}
	return nil
}

func (u *Updater) hasUpdates(ctx context.Context, imageName, imageID string) bool {
	local, _, err := u.cli.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		return true
	}
	return imageID != local.ID
}

// performUpdate walks the replace sequence: stop, remove, wait, create,
// attach networks, start, verify. Any failure after the removal triggers
// rollback from oldImage.
func (u *Updater) performUpdate(ctx context.Context, ctr types.ContainerJSON, imageName string, cfg *ExtractedConfig, oldImage string) (Result, error) {
	originalName := cfg.Name
	containerID := ctr.ID

	fail := func(cause error) (Result, error) {
		// The update may have implicitly succeeded: if a container with the
		// original name exists and runs, report success.
		if existing, err := u.cli.ContainerInspect(ctx, originalName); err == nil &&
			existing.State != nil && existing.State.Running {
			u.logger.Warn().Err(cause).Msg("exception occurred but container is running")
			return Result{
				Status:  StatusSuccess,
				Message: fmt.Sprintf("Container '%s' updated successfully.", originalName),
			}, nil
		}
		return u.rollback(ctx, cause, oldImage, cfg, originalName)
	}

	if err := u.stopContainer(ctx, containerID, originalName); err != nil {
		return Result{Status: StatusError, Message: err.Error()}, err
	}

	u.logger.Info().Msg("removing old container to release ports")
	if err := u.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if strings.Contains(err.Error(), "already in progress") {
			u.logger.Info().Msg("container removal already in progress, waiting")
		} else {
			return fail(err)
		}
	}
	if err := u.waitForRemoval(ctx, containerID, 15*time.Second); err != nil {
		return fail(err)
	}

	if err := u.createAndStart(ctx, imageName, cfg); err != nil {
		return fail(err)
	}

	u.logger.Info().Str("container", originalName).Msg("updated successfully")
	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Container '%s' updated successfully to latest image.", originalName),
	}, nil
}

func (u *Updater) stopContainer(ctx context.Context, containerID, name string) error {
	u.logger.Info().Str("container", name).Msg("stopping")

	timeout := int(u.opts.StopTimeout.Seconds())
	if err := u.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		u.logger.Warn().Err(err).Msg("graceful stop failed")
		if killErr := u.cli.ContainerKill(ctx, containerID, "KILL"); killErr != nil {
			u.logger.Error().Err(killErr).Msg("kill failed")
			return fmt.Errorf("failed to stop container: %w", err)
		}
		u.logger.Info().Msg("container killed")
	}
	return nil
}

// waitForRemoval polls until lookup by id fails, bounded by deadline.
func (u *Updater) waitForRemoval(ctx context.Context, containerID string, deadline time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("container removal timed out after %s", deadline)
		case <-ticker.C:
			if _, err := u.cli.ContainerInspect(ctx, containerID); client.IsErrNotFound(err) {
				u.logger.Info().Msg("container removed")
				return nil
			}
			u.logger.Debug().Msg("waiting for container removal")
		}
	}
}

func (u *Updater) createAndStart(ctx context.Context, imageName string, cfg *ExtractedConfig) error {
	u.logger.Info().Str("container", cfg.Name).Msg("creating new container")

	createCfg := *cfg.Config
	createCfg.Image = imageName

	created, err := u.cli.ContainerCreate(ctx, &createCfg, cfg.Host, nil, nil, cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to create new container: %w", err)
	}

	u.connectNetworks(ctx, created.ID, cfg)

	u.logger.Info().Msg("starting new container")
	if err := u.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start new container: %w", err)
	}

	time.Sleep(2 * time.Second)
	inspected, err := u.cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		u.logger.Warn().Err(err).Msg("could not verify container status")
		return nil
	}
	if inspected.State == nil || !inspected.State.Running {
		status := "unknown"
		if inspected.State != nil {
			status = inspected.State.Status
		}
		return fmt.Errorf("container failed to start properly (status: %s)", status)
	}

	u.logger.Info().Msg("container running")
	return nil
}

// connectNetworks reattaches the original non-default networks, preserving
// aliases and the original IPv4 address when one was assigned.
func (u *Updater) connectNetworks(ctx context.Context, containerID string, cfg *ExtractedConfig) {
	if strings.HasPrefix(string(cfg.Host.NetworkMode), "container:") {
		u.logger.Info().Str("mode", string(cfg.Host.NetworkMode)).Msg("container network mode, skipping network connections")
		return
	}

	for name, original := range cfg.Networks {
		if name == "bridge" {
			continue
		}

		endpoint := &network.EndpointSettings{Aliases: original.Aliases}
		if original.IPAddress != "" {
			endpoint.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: original.IPAddress}
		}

		if err := u.cli.NetworkConnect(ctx, name, containerID, endpoint); err != nil {
			u.logger.Warn().Err(err).Str("network", name).Msg("failed to connect to network")
			continue
		}
		u.logger.Info().Str("network", name).Msg("connected to network")
	}
}

// recreateDependent replaces one dependent container, retargeting its
// network mode at the new target id. On failure the original is restored by
// renaming back and starting it.
func (u *Updater) recreateDependent(ctx context.Context, dep types.ContainerJSON, newTargetID string) bool {
	name := strings.TrimPrefix(dep.Name, "/")
	u.logger.Info().Str("container", name).Msg("recreating dependent container")

	image := ""
	if inspect, _, err := u.cli.ImageInspectWithRaw(ctx, dep.Image); err == nil && len(inspect.RepoTags) > 0 {
		image = inspect.RepoTags[0]
	}
	if image == "" && dep.Config != nil {
		image = dep.Config.Image
	}

	cfg := ExtractConfig(dep, false)
	if strings.HasPrefix(string(cfg.Host.NetworkMode), "container:") {
		old := cfg.Host.NetworkMode
		cfg.Host.NetworkMode = container.NetworkMode("container:" + newTargetID)
		u.logger.Info().Str("from", string(old)).Str("to", string(cfg.Host.NetworkMode)).Msg("updated network mode")
	}

	tempName := fmt.Sprintf("%s-temp-%d", name, time.Now().Unix())

	if err := u.stopContainer(ctx, dep.ID, name); err != nil {
		u.logger.Error().Err(err).Str("container", name).Msg("failed to stop dependent")
		return false
	}
	if err := u.cli.ContainerRename(ctx, dep.ID, tempName); err != nil {
		u.logger.Error().Err(err).Str("container", name).Msg("failed to rename dependent")
		_ = u.cli.ContainerStart(ctx, dep.ID, container.StartOptions{})
		return false
	}

	restore := func() {
		_ = u.cli.ContainerRename(ctx, dep.ID, name)
		_ = u.cli.ContainerStart(ctx, dep.ID, container.StartOptions{})
	}

	createCfg := *cfg.Config
	createCfg.Image = image

	created, err := u.cli.ContainerCreate(ctx, &createCfg, cfg.Host, nil, nil, name)
	if err != nil {
		u.logger.Error().Err(err).Str("container", name).Msg("recreate failed, restoring")
		restore()
		return false
	}
	u.connectNetworks(ctx, created.ID, cfg)

	if err := u.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err == nil {
		time.Sleep(2 * time.Second)
		if inspected, err := u.cli.ContainerInspect(ctx, created.ID); err == nil &&
			inspected.State != nil && inspected.State.Running {
			_ = u.cli.ContainerRemove(ctx, dep.ID, container.RemoveOptions{Force: true})
			u.logger.Info().Str("container", name).Msg("successfully recreated dependent")
			return true
		}
	}

	u.logger.Error().Str("container", name).Msg("dependent failed to start, restoring")
	_ = u.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
	restore()
	return false
}

// rollback recreates the original container from oldImage after a failed
// update. The returned error carries the restoration notice; ErrRollbackFailed
// wraps the critical case where restoration itself failed.
func (u *Updater) rollback(ctx context.Context, cause error, oldImage string, cfg *ExtractedConfig, originalName string) (Result, error) {
	u.logger.Error().Err(cause).Msg("update failed")

	// Clean up any partial, non-running container squatting on the name.
	if existing, err := u.cli.ContainerInspect(ctx, originalName); err == nil {
		if existing.State == nil || !existing.State.Running {
			u.logger.Info().Msg("removing non-running container for recovery")
			if err := u.cli.ContainerRemove(ctx, existing.ID, container.RemoveOptions{Force: true}); err == nil {
				_ = u.waitForRemoval(ctx, existing.ID, 10*time.Second)
			}
		}
	}

	if oldImage == "" {
		err := fmt.Errorf("update failed: %w; could not restore original container", cause)
		return Result{Status: StatusError, Message: err.Error()}, err
	}

	u.logger.Info().Str("image", oldImage).Msg("restoring container from old image")

	createCfg := *cfg.Config
	createCfg.Image = oldImage

	created, err := u.cli.ContainerCreate(ctx, &createCfg, cfg.Host, nil, nil, originalName)
	if err != nil {
		return u.rollbackFailed(cause, err, originalName)
	}
	u.connectNetworks(ctx, created.ID, cfg)
	if err := u.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return u.rollbackFailed(cause, err, originalName)
	}

	u.logger.Info().Msg("original container restored from old image")
	restoreErr := fmt.Errorf("update failed: %w; original container restored", cause)
	return Result{Status: StatusError, Message: restoreErr.Error()}, restoreErr
}

func (u *Updater) rollbackFailed(cause, restoreErr error, originalName string) (Result, error) {
	u.logger.Error().Err(restoreErr).Msg("failed to restore original container")
	err := fmt.Errorf("update failed: %v; CRITICAL: failed to restore original container: %v; manual intervention required for '%s': %w",
		cause, restoreErr, originalName, ErrRollbackFailed)
	return Result{Status: StatusError, Message: err.Error()}, err
}
