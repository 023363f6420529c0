package notify

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/scan"
)

// Cooldown keys for the non-image notification shapes.
const (
	keyNewCVEs          = "new_cves"
	keyScannerUnhealthy = "trivy_unhealthy"
)

// NewCVE is one entry of the new-critical-CVEs digest.
type NewCVE struct {
	CVEID     string `json:"cve_id"`
	Container string `json:"container"`
	Image     string `json:"image"`
}

// Status is the notifier's reporting view.
type Status struct {
	Enabled          bool   `json:"enabled"`
	ServerURL        string `json:"server_url,omitempty"`
	Topic            string `json:"topic,omitempty"`
	CooldownMinutes  int    `json:"cooldown_minutes"`
	PendingCooldowns int    `json:"pending_cooldowns"`
	MinCritical      int    `json:"threshold_critical"`
	MinHigh          int    `json:"threshold_high"`
}

// Notifier pushes alerts to an ntfy topic. Each logical key (per image,
// new_cves, scanner-unhealthy) has its own cooldown so repeated scans do
// not spam the channel.
type Notifier struct {
	cfg    config.NotifyConfig
	http   *http.Client
	logger zerolog.Logger

	mu   sync.Mutex
	last map[string]time.Time

	now func() time.Time
}

// New creates a notifier from configuration.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: log.WithComponent("notify"),
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Enabled reports whether notifications are configured and switched on.
func (n *Notifier) Enabled() bool {
	return n.cfg.IsEnabled()
}

// shouldNotify checks the per-key cooldown.
func (n *Notifier) shouldNotify(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	last, ok := n.last[key]
	return !ok || n.now().Sub(last) >= n.cfg.Cooldown
}

func (n *Notifier) markNotified(key string) {
	n.mu.Lock()
	n.last[key] = n.now()
	n.mu.Unlock()
}

// send posts one notification. Returns false on any failure.
func (n *Notifier) send(title, message, priority string, tags []string) bool {
	if !n.Enabled() {
		return false
	}

	url := strings.TrimRight(n.cfg.URL, "/") + "/" + n.cfg.Topic
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to build notification")
		return false
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}

	resp, err := n.http.Do(req)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to send notification")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Error().Int("status", resp.StatusCode).Msg("notification rejected")
		return false
	}

	n.logger.Info().Str("title", title).Msg("notification sent")
	return true
}

// ScanComplete emits the scan-complete shape when the per-severity counts
// meet the configured thresholds and the per-image cooldown permits.
func (n *Notifier) ScanComplete(image, container, server string, summary scan.Summary) bool {
	if !n.Enabled() {
		return false
	}

	if summary.Critical < n.cfg.MinCritical && summary.High < n.cfg.MinHigh {
		n.logger.Debug().Str("container", container).Msg("scan results below notification threshold")
		return false
	}

	key := "scan:" + image
	if !n.shouldNotify(key) {
		n.logger.Debug().Str("image", image).Msg("notification cooldown active")
		return false
	}

	priority := n.cfg.PriorityHigh
	tags := []string{"warning", "shield"}
	severity := "HIGH"
	if summary.Critical >= n.cfg.MinCritical {
		priority = n.cfg.PriorityCritical
		tags = []string{"rotating_light", "skull", "warning"}
		severity = "CRITICAL"
	}

	title := fmt.Sprintf("[%s] Vulnerabilities in %s", severity, container)
	message := fmt.Sprintf(
		"Container: %s\nServer: %s\nImage: %s\n\nVulnerabilities Found:\n  Critical: %d\n  High: %d\n  Medium: %d\n  Low: %d\n  Total: %d",
		container, server, image,
		summary.Critical, summary.High, summary.Medium, summary.Low, summary.Total())

	if n.send(title, message, priority, tags) {
		n.markNotified(key)
		return true
	}
	return false
}

// NewCriticalCVEs emits the digest of newly discovered critical CVEs.
func (n *Notifier) NewCriticalCVEs(cves []NewCVE) bool {
	if !n.Enabled() || len(cves) == 0 {
		return false
	}
	if !n.shouldNotify(keyNewCVEs) {
		return false
	}

	var listed []string
	for i, cve := range cves {
		if i == 5 {
			listed = append(listed, fmt.Sprintf("  ... and %d more", len(cves)-5))
			break
		}
		container := cve.Container
		if container == "" {
			container = "unknown"
		}
		listed = append(listed, fmt.Sprintf("  - %s in %s", cve.CVEID, container))
	}

	title := fmt.Sprintf("[ALERT] %d New Critical CVEs Discovered", len(cves))
	message := fmt.Sprintf("New critical vulnerabilities detected:\n\n%s\n\nReview in the security dashboard.",
		strings.Join(listed, "\n"))

	if n.send(title, message, n.cfg.PriorityCritical, []string{"rotating_light", "skull", "biohazard"}) {
		n.markNotified(keyNewCVEs)
		return true
	}
	return false
}

// ScannerUnhealthy emits the scanner-down alert.
func (n *Notifier) ScannerUnhealthy() bool {
	if !n.Enabled() {
		return false
	}
	if !n.shouldNotify(keyScannerUnhealthy) {
		return false
	}

	ok := n.send(
		"[WARNING] Vulnerability Scanner Unhealthy",
		"The vulnerability scanner is not responding.\n\nScanning is temporarily unavailable.\nCheck the scanner container status.",
		"high",
		[]string{"warning", "construction"},
	)
	if ok {
		n.markNotified(keyScannerUnhealthy)
	}
	return ok
}

// Test emits a free-form ping, bypassing thresholds and cooldowns.
func (n *Notifier) Test(message string) bool {
	if message == "" {
		message = "Test notification from Dockpeek."
	}
	return n.send("Dockpeek Test Notification", message, "default", []string{"white_check_mark"})
}

// Status reports the notifier configuration and cooldown state.
func (n *Notifier) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	status := Status{
		Enabled:          n.Enabled(),
		CooldownMinutes:  int(n.cfg.Cooldown.Minutes()),
		PendingCooldowns: len(n.last),
		MinCritical:      n.cfg.MinCritical,
		MinHigh:          n.cfg.MinHigh,
	}
	if status.Enabled {
		status.ServerURL = n.cfg.URL
		status.Topic = n.cfg.Topic
	}
	return status
}
