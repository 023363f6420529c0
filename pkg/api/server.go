package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/apikeys"
	"github.com/dockpeek/dockpeek/pkg/autoupdate"
	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/dnscache"
	"github.com/dockpeek/dockpeek/pkg/dockerhost"
	"github.com/dockpeek/dockpeek/pkg/inventory"
	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/logs"
	"github.com/dockpeek/dockpeek/pkg/metrics"
	"github.com/dockpeek/dockpeek/pkg/notify"
	"github.com/dockpeek/dockpeek/pkg/portainer"
	"github.com/dockpeek/dockpeek/pkg/scan"
	"github.com/dockpeek/dockpeek/pkg/scheduler"
	"github.com/dockpeek/dockpeek/pkg/update"
	"github.com/dockpeek/dockpeek/pkg/version"
)

// Deps are the core subsystems the API exposes.
type Deps struct {
	Discovery   *dockerhost.Discovery
	Collector   *inventory.Collector
	Scanner     *scan.Engine
	History     *scan.HistoryStore
	Versions    *version.Checker
	Updates     *update.Checker
	Keys        *apikeys.Store
	Notifier    *notify.Notifier
	AutoUpdater *autoupdate.AutoUpdater
	Portainer   *portainer.Client
	Scheduler   *scheduler.Scheduler
	DNSCache    *dnscache.Resolver
}

// Server is the aggregated query API: the read surface (inventory, CVE
// detail, history, trend, status) and the write surface (scans, update
// checks, container updates, token management) consumed by the UI and the
// integration server.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	discovery   *dockerhost.Discovery
	collector   *inventory.Collector
	scanner     *scan.Engine
	history     *scan.HistoryStore
	versions    *version.Checker
	updates     *update.Checker
	keys        *apikeys.Store
	notifier    *notify.Notifier
	autoUpdater *autoupdate.AutoUpdater
	portainer   *portainer.Client
	sched       *scheduler.Scheduler
	dns         *dnscache.Resolver
	logs        *logs.Fetcher
}

// NewServer wires the API over its dependencies.
func NewServer(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:         cfg,
		logger:      log.WithComponent("api"),
		discovery:   deps.Discovery,
		collector:   deps.Collector,
		scanner:     deps.Scanner,
		history:     deps.History,
		versions:    deps.Versions,
		updates:     deps.Updates,
		keys:        deps.Keys,
		notifier:    deps.Notifier,
		autoUpdater: deps.AutoUpdater,
		portainer:   deps.Portainer,
		sched:       deps.Scheduler,
		dns:         deps.DNSCache,
		logs:        logs.NewFetcher(),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RecoveryMiddleware())
	r.Use(LoggingMiddleware())

	// Unauthenticated surface.
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.authMiddleware())

	authed.HandleFunc("/data", s.handleData).Methods(http.MethodGet)
	authed.HandleFunc("/export/json", s.handleData).Methods(http.MethodGet)
	authed.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	authed.HandleFunc("/api/hosts/refresh", s.handleHostsRefresh).Methods(http.MethodPost)

	authed.HandleFunc("/api/scan/{image:.+}", s.handleScan).Methods(http.MethodPost)
	authed.HandleFunc("/api/vulnerabilities/{image:.+}", s.handleVulnerabilities).Methods(http.MethodGet)
	authed.HandleFunc("/api/security/status", s.handleSecurityStatus).Methods(http.MethodGet)
	authed.HandleFunc("/api/security/summary", s.handleSecuritySummary).Methods(http.MethodGet)
	authed.HandleFunc("/api/security/stats", s.handleSecurityStats).Methods(http.MethodGet)
	authed.HandleFunc("/api/security/trends/{digest}", s.handleSecurityTrend).Methods(http.MethodGet)
	authed.HandleFunc("/api/security/history/{digest}", s.handleSecurityHistory).Methods(http.MethodGet)
	authed.HandleFunc("/api/security/new", s.handleSecurityNew).Methods(http.MethodGet)
	authed.HandleFunc("/api/security/cache/clear", s.handleSecurityCacheClear).Methods(http.MethodPost)
	authed.HandleFunc("/api/version/probe/{image:.+}", s.handleVersionProbe).Methods(http.MethodGet)

	authed.HandleFunc("/check-updates", s.handleCheckUpdates).Methods(http.MethodPost)
	authed.HandleFunc("/check-single-update", s.handleCheckSingleUpdate).Methods(http.MethodPost)
	authed.HandleFunc("/cancel-updates", s.handleCancelUpdates).Methods(http.MethodPost)
	authed.HandleFunc("/update-check-status", s.handleUpdateCheckStatus).Methods(http.MethodGet)
	authed.HandleFunc("/update-container", s.handleUpdateContainer).Methods(http.MethodPost)

	authed.HandleFunc("/get-container-logs", s.handleContainerLogs).Methods(http.MethodPost)
	authed.HandleFunc("/stream-container-logs", s.handleStreamContainerLogs).Methods(http.MethodPost)
	authed.HandleFunc("/get-prune-info", s.handlePruneInfo).Methods(http.MethodPost)
	authed.HandleFunc("/prune-images", s.handlePruneImages).Methods(http.MethodPost)
	authed.HandleFunc("/api/repair-image-names", s.handleRepairImageNames).Methods(http.MethodPost)

	authed.HandleFunc("/api/autoupdate/status", s.handleAutoUpdateStatus).Methods(http.MethodGet)
	authed.HandleFunc("/api/autoupdate/history", s.handleAutoUpdateHistory).Methods(http.MethodGet)
	authed.HandleFunc("/api/autoupdate/run", s.handleAutoUpdateRun).Methods(http.MethodPost)

	authed.HandleFunc("/api/notify/test", s.handleNotifyTest).Methods(http.MethodPost)

	admin := authed.NewRoute().Subrouter()
	admin.Use(s.adminOnlyMiddleware())
	admin.HandleFunc("/api/keys", s.handleCreateKey).Methods(http.MethodPost)
	admin.HandleFunc("/api/keys", s.handleListKeys).Methods(http.MethodGet)
	admin.HandleFunc("/api/keys/{id:[0-9]+}", s.handleRevokeKey).Methods(http.MethodDelete)

	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Info().Int("port", s.cfg.Port).Msg("api server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(out)
}
