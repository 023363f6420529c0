package api

import (
	"net/http"
	"strconv"

	"github.com/dockpeek/dockpeek/pkg/metrics"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleData serves the fleet snapshot: the unified view of every endpoint
// and container, with cached security and version data merged in.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	snapshot := s.collector.Collect(r.Context(), s.requestHostname(r))
	timer.ObserveDuration(metrics.CollectionDuration)

	metrics.UpdateFromSnapshot(snapshot)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHostsRefresh(w http.ResponseWriter, r *http.Request) {
	s.discovery.Invalidate()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleStatus reports process-level state: scanner, caches, scheduler
// ownership, notifier, DNS cache.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"scanner": map[string]any{
			"enabled": s.scanner.Enabled(),
			"healthy": s.scanner.Enabled() && s.scanner.HealthCheck(false),
			"pending": s.scanner.PendingCount(),
			"cache":   s.scanner.CacheStats(),
		},
		"version_cache":   s.versions.CacheStats(),
		"update_cache":    s.updates.CacheStats(),
		"scan_history":    s.history.Stats(),
		"scheduler_owner": s.sched != nil && s.sched.IsOwner(),
	}
	if s.notifier != nil {
		status["notifications"] = s.notifier.Status()
	}
	if s.dns != nil {
		status["dns_cache"] = s.dns.Stats()
	}
	if s.portainer != nil {
		status["portainer_reachable"] = s.portainer.CheckConnection()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil || !s.notifier.Enabled() {
		writeError(w, http.StatusBadRequest, "notifications are not configured")
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	_ = decodeBody(r, &body)

	if !s.notifier.Test(body.Message) {
		writeError(w, http.StatusBadGateway, "failed to send test notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAutoUpdateStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.autoUpdater.Status())
}

func (s *Server) handleAutoUpdateHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": s.autoUpdater.History(limit)})
}

func (s *Server) handleAutoUpdateRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.autoUpdater.CheckAndUpdate(r.Context()))
}
