package api

import (
	"fmt"
	"net/http"

	"github.com/dockpeek/dockpeek/pkg/types"
	"github.com/dockpeek/dockpeek/pkg/update"
)

type pruneRequest struct {
	Server string `json:"server_name"`
}

// handlePruneInfo reports unused images per host without removing
// anything.
func (s *Server) handlePruneInfo(w http.ResponseWriter, r *http.Request) {
	var body pruneRequest
	_ = decodeBody(r, &body)
	if body.Server == "" {
		body.Server = "all"
	}

	writeJSON(w, http.StatusOK, s.collector.CollectPruneInfo(r.Context(), body.Server))
}

// handlePruneImages removes unused images on the targeted hosts.
func (s *Server) handlePruneImages(w http.ResponseWriter, r *http.Request) {
	var body pruneRequest
	_ = decodeBody(r, &body)
	if body.Server == "" {
		body.Server = "all"
	}

	result, err := s.collector.PruneImages(r.Context(), body.Server)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRepairImageNames recreates containers whose declared image
// reference degraded to a raw SHA, across every active host.
func (s *Server) handleRepairImageNames(w http.ResponseWriter, r *http.Request) {
	fixed := []update.RepairedContainer{}
	errs := []update.RepairError{}

	for _, host := range s.discovery.Discover(r.Context(), true) {
		if host.Status != types.HostStatusActive || host.Client == nil {
			continue
		}

		updater := update.NewUpdater(host.Client, host.Name, update.Options{
			LockDir:     s.cfg.Update.LockDir,
			StopTimeout: s.cfg.Update.StopTimeout,
			PullTimeout: s.cfg.Update.PullTimeout,
		})

		hostFixed, hostErrs := updater.RepairImageNames(r.Context())
		fixed = append(fixed, hostFixed...)
		for _, e := range hostErrs {
			if e.Server == "" {
				e.Server = host.Name
			}
			errs = append(errs, e)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fixed":   fixed,
		"errors":  errs,
		"message": fmt.Sprintf("Repaired %d containers", len(fixed)),
	})
}
