package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/cache"
	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/log"
)

// imageNamePattern accepts registry/namespace/image:tag shapes and nothing
// else; the scanner invocation must never see shell metacharacters.
var imageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*(:[a-zA-Z0-9._-]+)?$`)

const blockedImageChars = "$`|;&><\\\n\r\x00"

// ValidateImageName rejects image references that could smuggle shell
// metacharacters into the scanner command, plus anything over 256 bytes.
func ValidateImageName(image string) bool {
	if image == "" || len(image) > 256 {
		return false
	}
	if strings.ContainsAny(image, blockedImageChars) {
		return false
	}
	return imageNamePattern.MatchString(image)
}

// ImageInspector is the slice of the engine client used to resolve digests.
type ImageInspector interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
}

// ExecClient is the slice of the engine client used to run the scanner
// inside its container.
type ExecClient interface {
	ContainerExecCreate(ctx context.Context, container string, options types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
}

// Notifier receives scan events. pkg/notify implements it.
type Notifier interface {
	ScanComplete(image, container, server string, summary Summary) bool
	ScannerUnhealthy() bool
}

type queueItem struct {
	image  string
	client ImageInspector
}

// Engine drives vulnerability scans: a digest-keyed shared result cache, a
// dedup queue drained by one background worker, and normalization of the
// scanner's output into Results persisted in the history store.
type Engine struct {
	cfg      config.ScannerConfig
	results  cache.Typed[*Result]
	raw      *cache.Cache
	history  *HistoryStore
	notifier Notifier
	local    ExecClient
	http     *http.Client
	logger   zerolog.Logger

	healthMu    sync.Mutex
	healthAt    time.Time
	healthy     bool
	healthEvery time.Duration

	queue      chan queueItem
	pendingMu  sync.Mutex
	pending    map[string]struct{}
	workerOnce sync.Once
}

// NewEngine creates a scan engine. local is the client used to exec the
// scanner; history and notifier may be nil.
func NewEngine(cfg config.ScannerConfig, c *cache.Cache, history *HistoryStore, notifier Notifier, local ExecClient) *Engine {
	return &Engine{
		cfg:         cfg,
		results:     cache.NewTyped[*Result](c),
		raw:         c,
		history:     history,
		notifier:    notifier,
		local:       local,
		http:        &http.Client{Timeout: 5 * time.Second},
		logger:      log.WithComponent("scanner"),
		healthEvery: 30 * time.Second,
		queue:       make(chan queueItem, 1024),
		pending:     make(map[string]struct{}),
	}
}

// Enabled reports whether scanning is configured and switched on.
func (e *Engine) Enabled() bool {
	return e.cfg.IsEnabled()
}

// ServerURL returns the configured scanner service URL.
func (e *Engine) ServerURL() string {
	return e.cfg.ServerURL
}

// HealthCheck probes the scanner's healthz endpoint, reusing the cached
// health bit for 30 seconds unless forced.
func (e *Engine) HealthCheck(force bool) bool {
	if !e.Enabled() {
		return false
	}

	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	if !force && !e.healthAt.IsZero() && time.Since(e.healthAt) < e.healthEvery {
		return e.healthy
	}

	wasHealthy := e.healthy
	resp, err := e.http.Get(strings.TrimRight(e.cfg.ServerURL, "/") + "/healthz")
	if err != nil {
		e.logger.Warn().Err(err).Msg("scanner health check failed")
		e.healthy = false
	} else {
		resp.Body.Close()
		e.healthy = resp.StatusCode == http.StatusOK
	}
	e.healthAt = time.Now()

	if wasHealthy && !e.healthy && e.notifier != nil {
		e.notifier.ScannerUnhealthy()
	}
	return e.healthy
}

// ImageDigest resolves the sha256 digest for an image via the host's engine
// client, falling back to the local image id.
func (e *Engine) ImageDigest(ctx context.Context, cli ImageInspector, image string) string {
	if cli == nil {
		return ""
	}
	inspect, _, err := cli.ImageInspectWithRaw(ctx, image)
	if err != nil {
		e.logger.Debug().Err(err).Str("image", image).Msg("could not resolve image digest")
		return ""
	}
	for _, repoDigest := range inspect.RepoDigests {
		if _, digest, ok := strings.Cut(repoDigest, "@"); ok && strings.HasPrefix(digest, "sha256:") {
			return digest
		}
	}
	return inspect.ID
}

// GetCached returns the cached result for a digest, or nil.
func (e *Engine) GetCached(digest string) *Result {
	res, ok := e.results.Get(digest)
	if !ok {
		return nil
	}
	return res
}

// Scan runs a synchronous scan of image, consulting the digest-keyed cache
// first. Returns nil when scanning is disabled, the scanner is down, the
// name fails validation, or the scan itself fails.
func (e *Engine) Scan(ctx context.Context, image string, cli ImageInspector) *Result {
	if !e.Enabled() {
		e.logger.Debug().Msg("scanner not enabled, skipping scan")
		return nil
	}
	if !e.HealthCheck(false) {
		e.logger.Warn().Msg("scanner unavailable, skipping scan")
		return nil
	}
	if !ValidateImageName(image) {
		e.logger.Error().Str("image", truncate(image, 100)).Msg("invalid image name rejected")
		return nil
	}

	digest := e.ImageDigest(ctx, cli, image)
	if digest != "" {
		if cached := e.GetCached(digest); cached != nil {
			e.logger.Debug().Str("image", image).Msg("using cached scan")
			return cached
		}
	}

	start := time.Now()
	output, err := e.invokeScanner(ctx, image)
	if err != nil {
		e.logger.Error().Err(err).Str("image", image).Msg("scan failed")
		return nil
	}

	var response scannerResponse
	if err := json.Unmarshal(output, &response); err != nil {
		e.logger.Error().Err(err).Str("image", image).Msg("scan output parse failed")
		return nil
	}

	cacheKey := digest
	if cacheKey == "" {
		cacheKey = "unknown:" + image
	}
	result := normalizeResponse(&response, image, cacheKey, time.Since(start).Seconds())

	e.logger.Info().
		Str("image", image).
		Int("critical", result.Summary.Critical).
		Int("high", result.Summary.High).
		Int("medium", result.Summary.Medium).
		Int("low", result.Summary.Low).
		Float64("duration", result.DurationSeconds).
		Msg("scan completed")

	if digest != "" {
		e.results.Set(digest, result)
	}
	e.recordHistory(result)
	e.notifyResult(result)

	return result
}

// invokeScanner execs the scanner CLI inside the scanner container against
// the local server, bounded by the scan timeout plus join slack.
func (e *Engine) invokeScanner(ctx context.Context, image string) ([]byte, error) {
	if e.local == nil {
		return nil, fmt.Errorf("no engine client available for scanner exec")
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ScanTimeout+30*time.Second)
	defer cancel()

	timeoutArg := fmt.Sprintf("%ds", int(e.cfg.ScanTimeout.Seconds()))
	created, err := e.local.ContainerExecCreate(execCtx, e.cfg.ContainerName, types.ExecConfig{
		Cmd: []string{
			"trivy", "image",
			"--server", "http://localhost:4954",
			"--format", "json",
			"--quiet",
			"--timeout", timeoutArg,
			image,
		},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("scanner exec create failed: %w", err)
	}

	attached, err := e.local.ContainerExecAttach(execCtx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("scanner exec attach failed: %w", err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return nil, fmt.Errorf("scanner output read failed: %w", err)
	}

	inspect, err := e.local.ContainerExecInspect(execCtx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("scanner exec inspect failed: %w", err)
	}
	if inspect.ExitCode != 0 {
		return nil, fmt.Errorf("scanner exited with code %d: %s", inspect.ExitCode, truncate(stderr.String(), 500))
	}
	return stdout.Bytes(), nil
}

func (e *Engine) recordHistory(result *Result) {
	if e.history == nil || !e.history.Enabled() {
		return
	}

	if _, err := e.history.SaveResult(result); err != nil {
		e.logger.Error().Err(err).Str("image", result.Image).Msg("failed to persist scan result")
	}
	for _, v := range result.Vulnerabilities {
		if err := e.history.RecordFingerprint(result.Digest, v.EnsureFingerprint(), v.ID, v.Severity); err != nil {
			e.logger.Error().Err(err).Msg("failed to record fingerprint")
			break
		}
	}
}

func (e *Engine) notifyResult(result *Result) {
	if e.notifier == nil {
		return
	}
	container := result.Image
	if i := strings.LastIndex(container, "/"); i >= 0 {
		container = container[i+1:]
	}
	if i := strings.Index(container, ":"); i >= 0 {
		container = container[:i]
	}
	e.notifier.ScanComplete(result.Image, container, "docker", result.Summary)
}

// ClearCache drops every cached scan result.
func (e *Engine) ClearCache() {
	e.raw.Clear()
	e.logger.Info().Msg("scan cache cleared")
}

// CacheStats reports the scan cache contents.
func (e *Engine) CacheStats() cache.Stats {
	return e.raw.Stats()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
