package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Vulnerability metrics
	VulnCritical = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_vulnerabilities_critical_total",
			Help: "Total critical vulnerabilities across all containers",
		},
	)

	VulnHigh = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_vulnerabilities_high_total",
			Help: "Total high severity vulnerabilities across all containers",
		},
	)

	VulnMedium = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_vulnerabilities_medium_total",
			Help: "Total medium severity vulnerabilities across all containers",
		},
	)

	VulnLow = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_vulnerabilities_low_total",
			Help: "Total low severity vulnerabilities across all containers",
		},
	)

	VulnTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_vulnerabilities_total",
			Help: "Total vulnerabilities across all containers",
		},
	)

	ContainerVulns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dockpeek_container_vulnerabilities",
			Help: "Vulnerabilities per container",
		},
		[]string{"container", "server", "image", "severity"},
	)

	// Fleet metrics
	ContainersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_containers_total",
			Help: "Total number of containers",
		},
	)

	ContainersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_containers_running",
			Help: "Number of running containers",
		},
	)

	ContainersScanned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_containers_scanned",
			Help: "Number of containers with vulnerability scans",
		},
	)

	ContainersUnscanned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_containers_unscanned",
			Help: "Number of containers without vulnerability scans",
		},
	)

	HostsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_hosts_active",
			Help: "Number of reachable engine endpoints",
		},
	)

	// Scanner metrics
	ScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dockpeek_scans_total",
			Help: "Total number of vulnerability scans performed",
		},
	)

	ScansPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_scans_pending",
			Help: "Number of scans waiting in the queue",
		},
	)

	ScannerHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_trivy_healthy",
			Help: "Whether the vulnerability scanner is responding (1 = healthy)",
		},
	)

	// Collection metrics
	CollectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dockpeek_collection_duration_seconds",
			Help:    "Time taken for a full inventory collection pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpdatesAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockpeek_updates_available",
			Help: "Number of containers with an update available",
		},
	)
)

func init() {
	prometheus.MustRegister(
		VulnCritical,
		VulnHigh,
		VulnMedium,
		VulnLow,
		VulnTotal,
		ContainerVulns,
		ContainersTotal,
		ContainersRunning,
		ContainersScanned,
		ContainersUnscanned,
		HostsActive,
		ScansTotal,
		ScansPending,
		ScannerHealthy,
		CollectionDuration,
		UpdatesAvailable,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
