package update

import (
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
)

const (
	composeProjectLabel = "com.docker.compose.project"

	// The orchestrator stores the resolved image reference (with digest) in
	// this label; after a pull it points at a stale digest, so it is dropped
	// on update. The config-hash label stays intact so compose can still
	// identify the container and not spawn a duplicate instance.
	composeImageLabel = "com.docker.compose.image"
)

// staleComposeLabels is the narrow set of compose labels dropped when
// recreating a compose-managed container with a new image.
var staleComposeLabels = []string{composeImageLabel}

// ExtractedConfig is the effective configuration of a running container,
// sufficient to recreate it identically under a new image.
type ExtractedConfig struct {
	Name     string
	Config   *container.Config
	Host     *container.HostConfig
	Networks map[string]*network.EndpointSettings
}

// ExtractConfig captures the identity-preserving subset of a container's
// configuration: name, hostname (unless network-joined to another
// container), user, working directory, labels, environment, command,
// entrypoint, binds, port bindings, network mode, restart policy,
// privileges, capabilities, devices and security options, plus the current
// network attachments.
func ExtractConfig(ctr types.ContainerJSON, stripStaleCompose bool) *ExtractedConfig {
	cfg := ctr.Config
	if cfg == nil {
		cfg = &container.Config{}
	}
	host := ctr.HostConfig
	if host == nil {
		host = &container.HostConfig{}
	}

	hostname := ""
	if !strings.HasPrefix(string(host.NetworkMode), "container:") {
		hostname = cfg.Hostname
	}

	labels := make(map[string]string, len(cfg.Labels))
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if stripStaleCompose && labels[composeProjectLabel] != "" {
		for _, key := range staleComposeLabels {
			delete(labels, key)
		}
	}

	restart := host.RestartPolicy
	if restart.Name == "" {
		restart.Name = container.RestartPolicyDisabled
	}

	extracted := &ExtractedConfig{
		Name: strings.TrimPrefix(ctr.Name, "/"),
		Config: &container.Config{
			Hostname:   hostname,
			User:       cfg.User,
			WorkingDir: cfg.WorkingDir,
			Labels:     labels,
			Env:        cfg.Env,
			Cmd:        cfg.Cmd,
			Entrypoint: cfg.Entrypoint,
		},
		Host: &container.HostConfig{
			Binds:         host.Binds,
			PortBindings:  host.PortBindings,
			NetworkMode:   host.NetworkMode,
			RestartPolicy: restart,
			Privileged:    host.Privileged,
			CapAdd:        host.CapAdd,
			CapDrop:       host.CapDrop,
			SecurityOpt:   host.SecurityOpt,
		},
		Networks: map[string]*network.EndpointSettings{},
	}
	extracted.Host.Devices = host.Devices

	if ctr.NetworkSettings != nil {
		for name, settings := range ctr.NetworkSettings.Networks {
			extracted.Networks[name] = settings
		}
	}

	return extracted
}
