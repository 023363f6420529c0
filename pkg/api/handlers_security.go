package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dockpeek/dockpeek/pkg/scan"
	"github.com/dockpeek/dockpeek/pkg/types"
)

// handleScan queues a vulnerability scan for the named image. ?sync=true
// runs it synchronously and returns the result.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	image := mux.Vars(r)["image"]
	if !scan.ValidateImageName(image) {
		writeError(w, http.StatusBadRequest, "invalid image name")
		return
	}
	if !s.scanner.Enabled() {
		writeError(w, http.StatusBadRequest, "scanner is not configured")
		return
	}

	cli := s.firstActiveClient(r)

	if r.URL.Query().Get("sync") == "true" {
		result := s.scanner.Scan(r.Context(), image, cli)
		if result == nil {
			writeError(w, http.StatusBadGateway, "scan failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	queued := s.scanner.QueueScan(image, cli)
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued, "image": image})
}

// handleVulnerabilities returns the cached CVE detail for an image.
func (s *Server) handleVulnerabilities(w http.ResponseWriter, r *http.Request) {
	image := mux.Vars(r)["image"]
	if !scan.ValidateImageName(image) {
		writeError(w, http.StatusBadRequest, "invalid image name")
		return
	}

	digest := s.digestAcrossHosts(r, image)
	if digest == "" {
		writeError(w, http.StatusNotFound, "image not found on any host")
		return
	}

	result := s.scanner.GetCached(digest)
	if result == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"image":       image,
			"scan_status": types.ScanStatusNotScanned,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSecurityStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"enabled":    s.scanner.Enabled(),
		"healthy":    s.scanner.Enabled() && s.scanner.HealthCheck(false),
		"server_url": s.scanner.ServerURL(),
		"pending":    s.scanner.PendingCount(),
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSecuritySummary aggregates the fleet's scanned severity counts.
func (s *Server) handleSecuritySummary(w http.ResponseWriter, r *http.Request) {
	snapshot := s.collector.Collect(r.Context(), s.requestHostname(r))

	var totals scan.Summary
	scanned, unscanned := 0, 0
	type containerRow struct {
		Container string `json:"container"`
		Server    string `json:"server"`
		Image     string `json:"image"`
		Critical  int    `json:"critical"`
		High      int    `json:"high"`
		Total     int    `json:"total"`
	}
	var worst []containerRow

	for _, c := range snapshot.Containers {
		if c.Security == nil {
			continue
		}
		switch c.Security.Status {
		case types.ScanStatusScanned:
			scanned++
			totals.Critical += c.Security.Critical
			totals.High += c.Security.High
			totals.Medium += c.Security.Medium
			totals.Low += c.Security.Low
			if c.Security.Critical > 0 || c.Security.High > 0 {
				worst = append(worst, containerRow{
					Container: c.Name,
					Server:    c.Server,
					Image:     c.Image,
					Critical:  c.Security.Critical,
					High:      c.Security.High,
					Total:     c.Security.Total,
				})
			}
		case types.ScanStatusNotScanned:
			unscanned++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":       totals,
		"scanned":       scanned,
		"unscanned":     unscanned,
		"affected":      worst,
		"trivy_healthy": s.scanner.Enabled() && s.scanner.HealthCheck(false),
	})
}

func (s *Server) handleSecurityStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cache":   s.scanner.CacheStats(),
		"history": s.history.Stats(),
	})
}

func (s *Server) handleSecurityTrend(w http.ResponseWriter, r *http.Request) {
	digest := mux.Vars(r)["digest"]
	writeJSON(w, http.StatusOK, s.history.CalculateTrend(digest))
}

func (s *Server) handleSecurityHistory(w http.ResponseWriter, r *http.Request) {
	digest := mux.Vars(r)["digest"]

	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.history.History(digest, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

// handleSecurityNew lists fingerprints first seen within the lookback
// window, optionally filtered by severity.
func (s *Server) handleSecurityNew(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			hours = n
		}
	}
	severity := strings.ToUpper(r.URL.Query().Get("severity"))

	records, err := s.history.NewSince(time.Duration(hours)*time.Hour, severity)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hours":           hours,
		"severity":        severity,
		"vulnerabilities": records,
	})
}

func (s *Server) handleSecurityCacheClear(w http.ResponseWriter, r *http.Request) {
	s.scanner.ClearCache()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleVersionProbe(w http.ResponseWriter, r *http.Request) {
	image := mux.Vars(r)["image"]
	if !scan.ValidateImageName(image) {
		writeError(w, http.StatusBadRequest, "invalid image name")
		return
	}

	info := s.versions.CheckForNewer(image)
	latest := ""
	if info != nil {
		latest = info.Tag
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"image":                   image,
		"newer_version_available": info != nil && info.IsNewer,
		"latest_version":          latest,
	})
}

// firstActiveClient returns any active host's engine client, preferring the
// primary.
func (s *Server) firstActiveClient(r *http.Request) scan.ImageInspector {
	for _, host := range s.discovery.Discover(r.Context(), true) {
		if host.Client != nil {
			return host.Client
		}
	}
	return nil
}

// digestAcrossHosts resolves an image digest by asking each active host in
// order.
func (s *Server) digestAcrossHosts(r *http.Request, image string) string {
	for _, host := range s.discovery.Discover(r.Context(), true) {
		if host.Client == nil {
			continue
		}
		if digest := s.scanner.ImageDigest(r.Context(), host.Client, image); digest != "" {
			return digest
		}
	}
	return ""
}
