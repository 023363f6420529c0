package dockerhost

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/client"

	"github.com/dockpeek/dockpeek/pkg/types"
)

const defaultSocketURL = "unix:///var/run/docker.sock"

var numberedHostPattern = regexp.MustCompile(`^DOCKER_HOST_(\d+)_URL$`)

// HostConfig is the static configuration of one engine endpoint.
type HostConfig struct {
	Name           string
	URL            string
	Order          int
	PublicHostname string
	LocalEngine    bool
}

// Host is a discovered endpoint with its live client handle. Inactive hosts
// are still returned, without a client.
type Host struct {
	Name           string
	Client         *client.Client
	URL            string
	PublicHostname string
	Status         types.HostStatus
	LocalEngine    bool
	Order          int
}

// Info returns the serializable view of the host.
func (h *Host) Info() types.HostInfo {
	return types.HostInfo{
		Name:   h.Name,
		URL:    h.URL,
		Status: h.Status,
		Order:  h.Order,
	}
}

// ParseEnv reads the endpoint configuration from the environment: the
// primary DOCKER_HOST plus any number of DOCKER_HOST_<n>_URL entries, each
// with optional _NAME and _PUBLIC_HOSTNAME companions. An empty result means
// the caller should fall back to the local socket.
func ParseEnv() []HostConfig {
	var configs []HostConfig

	if url := os.Getenv("DOCKER_HOST"); url != "" {
		name := strings.TrimSpace(os.Getenv("DOCKER_HOST_NAME"))
		if name == "" {
			name = "default"
		}
		public := os.Getenv("DOCKER_HOST_PUBLIC_HOSTNAME")
		if public == "" {
			public = ExtractHostname(url, true)
		}
		configs = append(configs, HostConfig{
			Name:           name,
			URL:            url,
			Order:          0,
			PublicHostname: public,
			LocalEngine:    true,
		})
	}

	for _, kv := range os.Environ() {
		key, url, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m := numberedHostPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		name := strings.TrimSpace(os.Getenv(fmt.Sprintf("DOCKER_HOST_%s_NAME", m[1])))
		if name == "" {
			name = fmt.Sprintf("server%s", m[1])
		}
		public := os.Getenv(fmt.Sprintf("DOCKER_HOST_%s_PUBLIC_HOSTNAME", m[1]))
		if public == "" {
			public = ExtractHostname(url, false)
		}

		configs = append(configs, HostConfig{
			Name:           name,
			URL:            url,
			Order:          num,
			PublicHostname: public,
		})
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Order < configs[j].Order })
	return configs
}

// defaultName reports whether the configured name is a placeholder that
// should yield to the engine-reported one.
func (c HostConfig) defaultName() bool {
	return c.Order > 0 && (c.Name == fmt.Sprintf("server%d", c.Order) || c.Name == "default")
}

// ClientFactory builds engine clients with a uniform connect timeout.
type ClientFactory struct {
	Timeout time.Duration
}

// NewClient creates a client for the given endpoint URL.
func (f ClientFactory) NewClient(url string) (*client.Client, error) {
	return client.NewClientWithOpts(
		client.WithHost(url),
		client.WithAPIVersionNegotiation(),
		client.WithTimeout(f.Timeout),
	)
}

// NewDefaultClient creates a client for the local engine from the
// environment, falling back to the default socket.
func (f ClientFactory) NewDefaultClient() (*client.Client, error) {
	return client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
		client.WithTimeout(f.Timeout),
	)
}

// TestConnection pings the engine. False means the endpoint is unreachable.
func (f ClientFactory) TestConnection(ctx context.Context, cli *client.Client) bool {
	_, err := cli.Ping(ctx)
	return err == nil
}

// EngineName asks the engine for its configured node name.
func (f ClientFactory) EngineName(ctx context.Context, cli *client.Client) string {
	info, err := cli.Info(ctx)
	if err != nil {
		return ""
	}
	return info.Name
}
