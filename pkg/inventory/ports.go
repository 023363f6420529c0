package inventory

import (
	"sort"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/dockpeek/dockpeek/pkg/dockerhost"
	"github.com/dockpeek/dockpeek/pkg/types"
)

// publishedPort is one port publication before link rendering.
type publishedPort struct {
	ContainerPort string
	HostPort      string
	HostIP        string
}

// ShouldUseHTTPS decides the scheme for a port link: 443 anywhere, a host
// port ending in 443, or an explicit dockpeek.https listing.
func ShouldUseHTTPS(hostPort, containerPort string, httpsPorts []string) bool {
	if containerPort == "443/tcp" || hostPort == "443" || strings.HasSuffix(hostPort, "443") {
		return true
	}
	for _, p := range httpsPorts {
		if p == hostPort {
			return true
		}
	}
	return false
}

// CreatePortLink renders the clickable URL for a published port.
func CreatePortLink(hostPort string, httpsPorts []string, linkHostname, containerPort string) string {
	scheme := "http"
	if ShouldUseHTTPS(hostPort, containerPort, httpsPorts) {
		scheme = "https"
	}
	if hostPort == "443" {
		return scheme + "://" + linkHostname
	}
	return scheme + "://" + linkHostname + ":" + hostPort
}

// extractContainerPorts pulls the published ports out of an inspected
// container's port map, first binding per container port.
func extractContainerPorts(ports nat.PortMap) []publishedPort {
	var published []publishedPort
	for containerPort, bindings := range ports {
		if len(bindings) == 0 {
			continue
		}
		b := bindings[0]
		hostIP := b.HostIP
		if hostIP == "" {
			hostIP = "0.0.0.0"
		}
		published = append(published, publishedPort{
			ContainerPort: string(containerPort),
			HostPort:      b.HostPort,
			HostIP:        hostIP,
		})
	}
	sort.Slice(published, func(i, j int) bool { return published[i].ContainerPort < published[j].ContainerPort })
	return published
}

// buildPortMap renders the final port list: every published port plus every
// label-declared custom port, each with its link.
func buildPortMap(published []publishedPort, data LabelData, publicHostname, requestHostname string) []types.PortMapping {
	portMap := make([]types.PortMapping, 0, len(published)+len(data.CustomPorts))

	for _, p := range published {
		linkHostname := dockerhost.ResolveLinkHostname(publicHostname, p.HostIP, requestHostname)
		portMap = append(portMap, types.PortMapping{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Link:          CreatePortLink(p.HostPort, data.HTTPSPorts, linkHostname, p.ContainerPort),
		})
	}

	if len(data.CustomPorts) > 0 {
		linkHostname := dockerhost.ResolveLinkHostname(publicHostname, "", requestHostname)
		for _, port := range data.CustomPorts {
			portMap = append(portMap, types.PortMapping{
				HostPort: port,
				Link:     CreatePortLink(port, data.HTTPSPorts, linkHostname, ""),
				IsCustom: true,
			})
		}
	}

	return portMap
}
