package update

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
)

// RepairedContainer records one container recreated under its proper image
// name.
type RepairedContainer struct {
	Container string `json:"container"`
	OldImage  string `json:"old_image"`
	NewImage  string `json:"new_image"`
}

// RepairError records one container or host the repair pass could not fix.
type RepairError struct {
	Container string `json:"container,omitempty"`
	Server    string `json:"server,omitempty"`
	Error     string `json:"error"`
}

// isShaImageName reports whether a declared image reference is a raw digest
// rather than a name: a sha256: reference or a bare 12-char hex id. These
// appear when a tag was removed or re-pulled out from under a container.
func isShaImageName(image string) bool {
	if strings.HasPrefix(image, "sha256:") {
		return true
	}
	if len(image) != 12 {
		return false
	}
	for _, r := range image {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// RepairImageNames finds containers whose declared image reference is a
// raw SHA and recreates each under the image's first repo tag, preserving
// its configuration and networks. Containers whose image carries no tag are
// left alone.
func (u *Updater) RepairImageNames(ctx context.Context) ([]RepairedContainer, []RepairError) {
	var fixed []RepairedContainer
	var errs []RepairError

	all, err := u.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, []RepairError{{Server: u.server, Error: err.Error()}}
	}

	for _, summary := range all {
		ctr, err := u.cli.ContainerInspect(ctx, summary.ID)
		if err != nil || ctr.Config == nil {
			continue
		}
		if !isShaImageName(ctr.Config.Image) {
			continue
		}

		name := strings.TrimPrefix(ctr.Name, "/")
		inspect, _, err := u.cli.ImageInspectWithRaw(ctx, ctr.Image)
		if err != nil || len(inspect.RepoTags) == 0 {
			continue
		}
		properName := inspect.RepoTags[0]

		u.logger.Info().Str("container", name).Str("from", ctr.Config.Image).Str("to", properName).Msg("repairing image name")

		if err := u.repairOne(ctx, ctr.ID, name, properName); err != nil {
			errs = append(errs, RepairError{Container: name, Error: err.Error()})
			continue
		}
		fixed = append(fixed, RepairedContainer{
			Container: name,
			OldImage:  ctr.Config.Image,
			NewImage:  properName,
		})
	}

	return fixed, errs
}

// repairOne replaces one container with an identical one declared under
// properName.
func (u *Updater) repairOne(ctx context.Context, containerID, name, properName string) error {
	lock, err := NewContainerLock(u.opts.LockDir, name)
	if err != nil {
		return err
	}
	if !lock.TryAcquire() {
		return fmt.Errorf("update already in progress for '%s'", name)
	}
	defer lock.Release()

	ctr, err := u.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return err
	}
	cfg := ExtractConfig(ctr, false)

	if err := u.stopContainer(ctx, containerID, name); err != nil {
		return err
	}
	if err := u.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return err
	}
	if err := u.waitForRemoval(ctx, containerID, 10*time.Second); err != nil {
		return err
	}

	return u.createAndStart(ctx, properName, cfg)
}
