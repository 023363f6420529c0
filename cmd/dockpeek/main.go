package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dockpeek/dockpeek/pkg/api"
	"github.com/dockpeek/dockpeek/pkg/apikeys"
	"github.com/dockpeek/dockpeek/pkg/autoupdate"
	"github.com/dockpeek/dockpeek/pkg/cache"
	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/dnscache"
	"github.com/dockpeek/dockpeek/pkg/dockerhost"
	"github.com/dockpeek/dockpeek/pkg/inventory"
	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/notify"
	"github.com/dockpeek/dockpeek/pkg/portainer"
	"github.com/dockpeek/dockpeek/pkg/scan"
	"github.com/dockpeek/dockpeek/pkg/scheduler"
	"github.com/dockpeek/dockpeek/pkg/update"
	"github.com/dockpeek/dockpeek/pkg/version"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dockpeek",
	Short: "Dockpeek - container fleet observability and security console",
	Long: `Dockpeek connects to a set of container-engine endpoints, builds a
unified view of the containers running on each, continuously checks their
images against a vulnerability scanner and remote registries, and exposes
the aggregated state through an HTTP API.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and background refreshers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Dockpeek version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	log.Info("dockpeek starting")

	// DNS cache feeds the registry client's transport.
	resolver := dnscache.NewResolver(cfg.DNSCacheTTL)
	transport := &http.Transport{DialContext: resolver.DialContext}

	discovery := dockerhost.NewDiscovery(cfg.Docker.ConnectTimeout, cfg.Docker.DiscoveryTimeout)

	versions := version.NewChecker(
		version.NewRegistryClient(transport),
		cache.New(cfg.Version.CacheFile, cfg.Version.CacheTTL),
	)

	updates := update.NewChecker(
		cache.New(cfg.Update.CacheFile, cfg.Update.CacheTTL),
		cfg.Update.FloatingTags,
		cfg.Update.PullTimeout,
	)

	history := scan.NewHistoryStore(cfg.History.Path, cfg.History.Enabled)
	notifier := notify.New(cfg.Notify)

	// The scanner execs into its container on the local engine.
	var localClient scan.ExecClient
	if local, err := (dockerhost.ClientFactory{Timeout: cfg.Docker.ConnectTimeout}).NewDefaultClient(); err == nil {
		localClient = local
	} else {
		log.Errorf("no local engine client for scanner exec", err)
	}

	scanner := scan.NewEngine(
		cfg.Scanner,
		cache.New(cfg.Scanner.CacheFile, cfg.Scanner.CacheTTL),
		history,
		notifier,
		localClient,
	)

	collector := inventory.NewCollector(discovery, scanner, versions, updates, cfg.Labels, cfg.Docker.HostTimeout)

	var orch *portainer.Client
	if cfg.Stack.IsConfigured() {
		orch = portainer.NewClient(cfg.Stack)
	}

	keys := apikeys.NewStore(cfg.Keys.Path)
	defer keys.Close()
	keys.CleanupExpired()

	sched := scheduler.New(cfg.Sched, collector, versions, discovery)
	sched.Start()
	defer sched.Stop()

	autoUpdater := autoupdate.New(cfg.Auto, cfg.Update, collector, discovery, orch, updates)
	autoUpdater.Start()
	defer autoUpdater.Stop()

	server := api.NewServer(cfg, api.Deps{
		Discovery:   discovery,
		Collector:   collector,
		Scanner:     scanner,
		History:     history,
		Versions:    versions,
		Updates:     updates,
		Keys:        keys,
		Notifier:    notifier,
		AutoUpdater: autoUpdater,
		Portainer:   orch,
		Scheduler:   sched,
		DNSCache:    resolver,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = server.ListenAndServe(ctx)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("dockpeek stopped")
	return nil
}
