package types

import "time"

// HostStatus represents the reachability of an engine endpoint.
type HostStatus string

const (
	HostStatusActive   HostStatus = "active"
	HostStatusInactive HostStatus = "inactive"
)

// HostInfo is the serializable view of one engine endpoint.
type HostInfo struct {
	Name   string     `json:"name"`
	URL    string     `json:"url"`
	Status HostStatus `json:"status"`
	Order  int        `json:"order"`
}

// PortMapping is one published or label-declared port with its rendered link.
type PortMapping struct {
	ContainerPort string `json:"container_port"`
	HostPort      string `json:"host_port"`
	Link          string `json:"link"`
	IsCustom      bool   `json:"is_custom"`
}

// TraefikRoute is one HTTP route derived from traefik.* labels.
type TraefikRoute struct {
	Router string `json:"router"`
	URL    string `json:"url"`
	Rule   string `json:"rule"`
	Host   string `json:"host"`
}

// Orchestration carries the dockpeek.* role and update-policy hints.
type Orchestration struct {
	Role             string   `json:"role,omitempty"`
	Anchor           string   `json:"anchor,omitempty"`
	AnchorType       string   `json:"anchor_type,omitempty"`
	StackOverride    string   `json:"stack_override,omitempty"`
	Hidden           bool     `json:"hidden,omitempty"`
	UpdateAction     string   `json:"update_action,omitempty"`
	UpdateOrder      string   `json:"update_order,omitempty"`
	StopBeforeAnchor bool     `json:"stop_before_anchor,omitempty"`
	AutoUpdate       bool     `json:"auto_update,omitempty"`
	Dependents       []string `json:"dependents,omitempty"`
}

// ScanStatus reports where an image sits in the scanning lifecycle.
type ScanStatus string

const (
	ScanStatusScanned    ScanStatus = "scanned"
	ScanStatusNotScanned ScanStatus = "not_scanned"
	ScanStatusSkipped    ScanStatus = "skipped"
	ScanStatusFailed     ScanStatus = "failed"
	ScanStatusError      ScanStatus = "error"
)

// SecuritySummary is the per-image vulnerability summary merged into a
// snapshot from the scan cache.
type SecuritySummary struct {
	Critical      int        `json:"critical,omitempty"`
	High          int        `json:"high,omitempty"`
	Medium        int        `json:"medium,omitempty"`
	Low           int        `json:"low,omitempty"`
	Total         int        `json:"total,omitempty"`
	ScanTimestamp *time.Time `json:"scan_timestamp,omitempty"`
	Status        ScanStatus `json:"scan_status"`
	Error         string     `json:"error,omitempty"`
}

// ContainerSnapshot is one row in the fleet inventory. Snapshots are
// assembled per query and never stored; all mutable state lives in the
// shared caches and the history store.
type ContainerSnapshot struct {
	Server                string            `json:"server"`
	Name                  string            `json:"name"`
	ContainerID           string            `json:"container_id,omitempty"`
	Status                string            `json:"status"`
	StartedAt             string            `json:"started_at,omitempty"`
	ExitCode              *int              `json:"exit_code,omitempty"`
	Image                 string            `json:"image"`
	Stack                 string            `json:"stack,omitempty"`
	SourceURL             string            `json:"source_url,omitempty"`
	CustomURL             string            `json:"custom_url,omitempty"`
	Ports                 []PortMapping     `json:"ports"`
	TraefikRoutes         []TraefikRoute    `json:"traefik_routes,omitempty"`
	Tags                  []string          `json:"tags,omitempty"`
	UpdateAvailable       bool              `json:"update_available"`
	PortRangeGrouping     bool              `json:"port_range_grouping"`
	Security              *SecuritySummary  `json:"vulnerability_summary,omitempty"`
	Networks              []string          `json:"networks,omitempty"`
	IPAddresses           map[string]string `json:"ip_addresses,omitempty"`
	SecuritySkip          bool              `json:"security_skip,omitempty"`
	NewerVersionAvailable bool              `json:"newer_version_available"`
	LatestVersion         string            `json:"latest_version,omitempty"`
	Orchestration         *Orchestration    `json:"orchestration,omitempty"`
}

// FleetSnapshot is the aggregate served by the query API: every endpoint and
// every container across the fleet, in host order.
type FleetSnapshot struct {
	Servers            []HostInfo          `json:"servers"`
	Containers         []ContainerSnapshot `json:"containers"`
	SwarmServers       []string            `json:"swarm_servers"`
	TraefikEnabled     bool                `json:"traefik_enabled"`
	PortRangeGrouping  bool                `json:"port_range_grouping_enabled"`
	PortRangeThreshold int                 `json:"port_range_threshold"`
	ScannerEnabled     bool                `json:"trivy_enabled"`
	ScannerHealthy     bool                `json:"trivy_healthy"`
	ScansPending       int                 `json:"trivy_pending"`
}
