package dockerhost

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/types"
)

// Discovery establishes and tests engine connections, keeping a short-TTL
// in-memory catalog of live host handles so repeated queries do not re-ping
// every endpoint.
type Discovery struct {
	factory          ClientFactory
	discoveryTimeout time.Duration
	cacheTTL         time.Duration
	logger           zerolog.Logger

	mu        sync.Mutex
	cached    []*Host
	cacheTime time.Time
}

// NewDiscovery creates a discovery with the given engine connect timeout and
// per-endpoint discovery timeout. The catalog TTL is fixed at 30 seconds.
func NewDiscovery(connectTimeout, discoveryTimeout time.Duration) *Discovery {
	return &Discovery{
		factory:          ClientFactory{Timeout: connectTimeout},
		discoveryTimeout: discoveryTimeout,
		cacheTTL:         30 * time.Second,
		logger:           log.WithComponent("discovery"),
	}
}

// Discover returns every configured host, pinged in parallel. Results are
// cached for the catalog TTL unless useCache is false.
func (d *Discovery) Discover(ctx context.Context, useCache bool) []*Host {
	if useCache {
		d.mu.Lock()
		if d.cached != nil && time.Since(d.cacheTime) < d.cacheTTL {
			hosts := d.cached
			d.mu.Unlock()
			return hosts
		}
		d.mu.Unlock()
	}

	hosts := d.performDiscovery(ctx)

	if useCache {
		d.mu.Lock()
		d.cached = hosts
		d.cacheTime = time.Now()
		d.mu.Unlock()
	}
	return hosts
}

// Invalidate clears the catalog so the next Discover re-pings everything.
func (d *Discovery) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.cacheTime = time.Time{}
	d.mu.Unlock()
}

func (d *Discovery) performDiscovery(ctx context.Context) []*Host {
	configs := ParseEnv()
	if len(configs) == 0 {
		return []*Host{d.fallbackHost(ctx)}
	}

	hosts := make([]*Host, len(configs))
	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg HostConfig) {
			defer wg.Done()

			hostCtx, cancel := context.WithTimeout(ctx, d.discoveryTimeout)
			defer cancel()

			done := make(chan *Host, 1)
			go func() { done <- d.hostFromConfig(hostCtx, cfg) }()

			select {
			case h := <-done:
				hosts[i] = h
			case <-hostCtx.Done():
				d.logger.Error().Str("host", cfg.Name).Dur("timeout", d.discoveryTimeout).Msg("discovery timed out")
				hosts[i] = inactiveHost(cfg)
			}
		}(i, cfg)
	}
	wg.Wait()

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Order < hosts[j].Order })
	return hosts
}

func (d *Discovery) hostFromConfig(ctx context.Context, cfg HostConfig) *Host {
	cli, err := d.factory.NewClient(cfg.URL)
	if err != nil {
		d.logger.Debug().Err(err).Str("host", cfg.Name).Msg("failed to create engine client")
		return inactiveHost(cfg)
	}

	if !d.factory.TestConnection(ctx, cli) {
		d.logger.Warn().Str("host", cfg.Name).Str("url", cfg.URL).Msg("could not connect to engine endpoint")
		return inactiveHost(cfg)
	}

	name := cfg.Name
	if cfg.defaultName() {
		if apiName := d.factory.EngineName(ctx, cli); apiName != "" {
			name = apiName
		}
	}

	d.logger.Debug().Str("host", name).Str("url", cfg.URL).Msg("connected to engine endpoint")
	return &Host{
		Name:           name,
		Client:         cli,
		URL:            cfg.URL,
		PublicHostname: cfg.PublicHostname,
		Status:         types.HostStatusActive,
		LocalEngine:    cfg.LocalEngine,
		Order:          cfg.Order,
	}
}

// fallbackHost connects to the default local socket when no endpoints are
// configured at all.
func (d *Discovery) fallbackHost(ctx context.Context) *Host {
	name := strings.TrimSpace(os.Getenv("DOCKER_HOST_NAME"))
	public := os.Getenv("DOCKER_HOST_PUBLIC_HOSTNAME")

	cli, err := d.factory.NewDefaultClient()
	if err == nil && d.factory.TestConnection(ctx, cli) {
		if name == "" {
			if apiName := d.factory.EngineName(ctx, cli); apiName != "" {
				name = apiName
			} else {
				name = "default"
			}
		}
		d.logger.Debug().Msg("connected to default engine socket")
		return &Host{
			Name:           name,
			Client:         cli,
			URL:            defaultSocketURL,
			PublicHostname: public,
			Status:         types.HostStatusActive,
			LocalEngine:    true,
		}
	}

	d.logger.Warn().Err(err).Msg("could not connect to default engine socket")
	if name == "" {
		name = "default"
	}
	return &Host{
		Name:           name,
		URL:            defaultSocketURL,
		PublicHostname: public,
		Status:         types.HostStatusInactive,
		LocalEngine:    true,
	}
}

func inactiveHost(cfg HostConfig) *Host {
	return &Host{
		Name:           cfg.Name,
		URL:            cfg.URL,
		PublicHostname: cfg.PublicHostname,
		Status:         types.HostStatusInactive,
		LocalEngine:    cfg.LocalEngine,
		Order:          cfg.Order,
	}
}
