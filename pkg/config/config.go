package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds the full process configuration, loaded from the environment.
// Engine endpoints (DOCKER_HOST plus DOCKER_HOST_<n>_URL and friends) are
// parsed separately by pkg/dockerhost because they are ordinally numbered.
type Config struct {
	Port     int    `env:"PORT,default=8000"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	LogJSON  bool   `env:"LOG_JSON,default=true"`

	Auth    AuthConfig
	Docker  DockerConfig
	Labels  LabelConfig
	Scanner ScannerConfig
	History HistoryConfig
	Version VersionConfig
	Update  UpdateConfig
	Notify  NotifyConfig
	Sched   SchedulerConfig
	Auto    AutoUpdateConfig
	Keys    APIKeyConfig
	Stack   PortainerConfig
	Proxy   ProxyConfig

	DNSCacheTTL time.Duration `env:"DNS_CACHE_TTL,default=300s"`
}

// AuthConfig controls the API auth gate.
type AuthConfig struct {
	Disabled        bool          `env:"DISABLE_AUTH,default=false"`
	AdminUsername   string        `env:"USERNAME"`
	AdminPassword   string        `env:"PASSWORD"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME,default=336h"`
}

// DockerConfig holds engine connection settings shared by all endpoints.
type DockerConfig struct {
	ConnectTimeout   time.Duration `env:"DOCKER_CONNECTION_TIMEOUT,default=2s"`
	DiscoveryTimeout time.Duration `env:"DOCKER_DISCOVERY_TIMEOUT,default=10s"`
	HostTimeout      time.Duration `env:"DOCKER_HOST_TIMEOUT,default=30s"`
}

// LabelConfig toggles label-derived presentation features.
type LabelConfig struct {
	TraefikEnabled     bool `env:"TRAEFIK_LABELS,default=true"`
	TagsEnabled        bool `env:"TAGS,default=true"`
	PortRangeGrouping  bool `env:"PORT_RANGE_GROUPING,default=true"`
	PortRangeThreshold int  `env:"PORT_RANGE_THRESHOLD,default=5"`
}

// ScannerConfig holds Trivy scanner settings.
type ScannerConfig struct {
	ServerURL     string        `env:"TRIVY_SERVER_URL"`
	Enabled       bool          `env:"TRIVY_ENABLED,default=true"`
	ContainerName string        `env:"TRIVY_CONTAINER_NAME,default=trivy-server"`
	ScanTimeout   time.Duration `env:"TRIVY_SCAN_TIMEOUT,default=120s"`
	CacheTTL      time.Duration `env:"TRIVY_CACHE_DURATION,default=1h"`
	CacheFile     string        `env:"DOCKPEEK_TRIVY_CACHE,default=/tmp/dockpeek_trivy_cache.json"`
}

// IsEnabled reports whether scanning is configured and switched on.
func (c ScannerConfig) IsEnabled() bool {
	return c.Enabled && c.ServerURL != ""
}

// HistoryConfig holds the scan-history store settings.
type HistoryConfig struct {
	Enabled bool   `env:"TRIVY_HISTORY_ENABLED,default=true"`
	Path    string `env:"TRIVY_HISTORY_DB,default=/data/scan_history.db"`
}

// VersionConfig holds the version resolver settings.
type VersionConfig struct {
	CacheFile string        `env:"DOCKPEEK_VERSION_CACHE,default=/tmp/dockpeek_version_cache.json"`
	CacheTTL  time.Duration `env:"VERSION_CACHE_DURATION,default=1h"`
}

// UpdateConfig holds the update checker and updater settings.
type UpdateConfig struct {
	CacheFile    string        `env:"DOCKPEEK_UPDATE_CACHE,default=/tmp/dockpeek_update_cache.json"`
	CacheTTL     time.Duration `env:"UPDATE_CACHE_DURATION,default=120s"`
	PullTimeout  time.Duration `env:"UPDATE_PULL_TIMEOUT,default=300s"`
	StopTimeout  time.Duration `env:"UPDATE_STOP_TIMEOUT,default=60s"`
	FloatingTags string        `env:"UPDATE_FLOATING_TAGS,default=disabled"`
	LockDir      string        `env:"DOCKPEEK_LOCK_DIR,default=/tmp/dockpeek_locks"`
}

// NotifyConfig holds ntfy notification settings.
type NotifyConfig struct {
	URL              string        `env:"NTFY_URL"`
	Enabled          bool          `env:"NTFY_ENABLED,default=true"`
	Topic            string        `env:"NTFY_TOPIC,default=security-alerts"`
	PriorityCritical string        `env:"NTFY_PRIORITY_CRITICAL,default=urgent"`
	PriorityHigh     string        `env:"NTFY_PRIORITY_HIGH,default=high"`
	Cooldown         time.Duration `env:"NTFY_COOLDOWN_MINUTES,default=60m"`
	MinCritical      int           `env:"NTFY_MIN_CRITICAL,default=1"`
	MinHigh          int           `env:"NTFY_MIN_HIGH,default=10"`
}

// IsEnabled reports whether notifications are configured and switched on.
func (c NotifyConfig) IsEnabled() bool {
	return c.Enabled && c.URL != ""
}

// SchedulerConfig holds the background refresher settings.
type SchedulerConfig struct {
	Enabled         bool          `env:"BACKGROUND_REFRESH_ENABLED,default=true"`
	RefreshInterval time.Duration `env:"BACKGROUND_REFRESH_INTERVAL,default=300s"`
	VersionInterval time.Duration `env:"VERSION_CHECK_INTERVAL,default=1h"`
	LockFile        string        `env:"DOCKPEEK_SCHEDULER_LOCK,default=/tmp/dockpeek_scheduler.lock"`
}

// AutoUpdateConfig holds the opt-in auto updater settings.
type AutoUpdateConfig struct {
	Enabled     bool          `env:"AUTO_UPDATE_ENABLED,default=true"`
	Interval    time.Duration `env:"AUTO_UPDATE_INTERVAL,default=24h"`
	DryRun      bool          `env:"AUTO_UPDATE_DRY_RUN,default=false"`
	BatchSize   int           `env:"AUTO_UPDATE_BATCH_SIZE,default=3"`
	HistoryFile string        `env:"AUTO_UPDATE_HISTORY_FILE,default=/app/data/auto_update_history.json"`
}

// APIKeyConfig holds the credential store settings.
type APIKeyConfig struct {
	Path string `env:"API_KEYS_DB,default=/app/data/dockpeek_api_keys.db"`
}

// PortainerConfig holds external orchestrator settings.
type PortainerConfig struct {
	URL        string `env:"PORTAINER_URL"`
	APIKey     string `env:"PORTAINER_API_KEY"`
	EndpointID int    `env:"PORTAINER_ENDPOINT_ID,default=2"`
	VerifySSL  bool   `env:"PORTAINER_VERIFY_SSL,default=false"`
}

// IsConfigured reports whether both URL and API key are set.
func (c PortainerConfig) IsConfigured() bool {
	return c.URL != "" && c.APIKey != ""
}

// ProxyConfig controls trusted-proxy header handling.
type ProxyConfig struct {
	TrustHeaders bool `env:"TRUSTED_PROXY_ENABLED,default=false"`
	TrustedHops  int  `env:"TRUSTED_PROXY_HOPS,default=1"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present. Returns a single human-readable
// error when required configuration is missing or malformed.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that envdecode cannot express.
func (c *Config) Validate() error {
	if !c.Auth.Disabled && (c.Auth.AdminUsername == "" || c.Auth.AdminPassword == "") {
		return fmt.Errorf("USERNAME and PASSWORD environment variables must be set (or set DISABLE_AUTH=true)")
	}

	switch c.Update.FloatingTags {
	case "disabled", "latest", "major", "minor":
	default:
		return fmt.Errorf("UPDATE_FLOATING_TAGS must be one of disabled, latest, major, minor (got %q)", c.Update.FloatingTags)
	}

	if c.Auto.BatchSize < 1 {
		return fmt.Errorf("AUTO_UPDATE_BATCH_SIZE must be at least 1 (got %d)", c.Auto.BatchSize)
	}

	return nil
}
