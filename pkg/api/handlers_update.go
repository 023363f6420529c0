package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/docker/docker/api/types/container"

	"github.com/dockpeek/dockpeek/pkg/dockerhost"
	"github.com/dockpeek/dockpeek/pkg/types"
	"github.com/dockpeek/dockpeek/pkg/update"
)

// handleCheckUpdates runs the pulling update check for every container on
// every active host, fanned out per host. The run can be cancelled with
// /cancel-updates.
func (s *Server) handleCheckUpdates(w http.ResponseWriter, r *http.Request) {
	s.updates.StartCheck()

	hosts := s.discovery.Discover(r.Context(), true)

	var (
		mu      sync.Mutex
		checked int
		found   int
	)
	var wg sync.WaitGroup
	for _, host := range hosts {
		if host.Status != types.HostStatusActive || host.Client == nil {
			continue
		}
		wg.Add(1)
		go func(host *dockerhost.Host) {
			defer wg.Done()
			c, f := s.checkHostUpdates(r.Context(), host)
			mu.Lock()
			checked += c
			found += f
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	if s.updates.IsCancelled() {
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "checked": checked, "updates_found": found})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": false, "checked": checked, "updates_found": found})
}

func (s *Server) checkHostUpdates(ctx context.Context, host *dockerhost.Host) (int, int) {
	containers, err := host.Client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		s.logger.Error().Err(err).Str("host", host.Name).Msg("update check could not list containers")
		return 0, 0
	}

	checked, found := 0, 0
	for _, summary := range containers {
		if s.updates.IsCancelled() {
			break
		}
		inspect, err := host.Client.ContainerInspect(ctx, summary.ID)
		if err != nil || inspect.Config == nil {
			continue
		}
		name := inspect.Name
		if len(name) > 0 && name[0] == '/' {
			name = name[1:]
		}
		checked++
		if s.updates.Check(ctx, host.Client, inspect.Image, inspect.Config.Image, name, host.Name) {
			found++
		}
	}
	return checked, found
}

// handleCheckSingleUpdate checks one container on one host.
func (s *Server) handleCheckSingleUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Server        string `json:"server"`
		ContainerName string `json:"container_name"`
	}
	if err := decodeBody(r, &body); err != nil || body.ContainerName == "" {
		writeError(w, http.StatusBadRequest, "server and container_name are required")
		return
	}

	host := s.hostByName(r, body.Server)
	if host == nil || host.Client == nil {
		writeError(w, http.StatusNotFound, "no active host named "+body.Server)
		return
	}

	inspect, err := host.Client.ContainerInspect(r.Context(), body.ContainerName)
	if err != nil {
		writeError(w, http.StatusNotFound, "container not found: "+body.ContainerName)
		return
	}

	s.updates.StartCheck()
	imageName := ""
	if inspect.Config != nil {
		imageName = inspect.Config.Image
	}
	available := s.updates.Check(r.Context(), host.Client, inspect.Image, imageName, body.ContainerName, body.Server)

	writeJSON(w, http.StatusOK, map[string]any{
		"server":           body.Server,
		"container_name":   body.ContainerName,
		"update_available": available,
	})
}

func (s *Server) handleCancelUpdates(w http.ResponseWriter, r *http.Request) {
	s.updates.CancelCheck()
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleUpdateCheckStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.updates.IsCancelled()})
}

// handleUpdateContainer drives the safe replace-in-place path for one
// container, orchestrator-first when configured.
func (s *Server) handleUpdateContainer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Server        string `json:"server"`
		ContainerName string `json:"container_name"`
		Force         bool   `json:"force"`
		NewImage      string `json:"new_image"`
	}
	if err := decodeBody(r, &body); err != nil || body.ContainerName == "" {
		writeError(w, http.StatusBadRequest, "server and container_name are required")
		return
	}

	host := s.hostByName(r, body.Server)
	if host == nil || host.Client == nil {
		writeError(w, http.StatusNotFound, "no active host named "+body.Server)
		return
	}

	updater := update.NewUpdater(host.Client, host.Name, update.Options{
		LockDir:     s.cfg.Update.LockDir,
		StopTimeout: s.cfg.Update.StopTimeout,
		PullTimeout: s.cfg.Update.PullTimeout,
		Checker:     s.updates,
		Portainer:   s.portainer,
	})

	result, err := updater.Update(r.Context(), body.ContainerName, body.Force, body.NewImage)
	switch {
	case errors.Is(err, update.ErrRollbackFailed):
		writeJSON(w, http.StatusInternalServerError, result)
	case err != nil && result.Status == update.StatusError:
		writeJSON(w, http.StatusInternalServerError, result)
	case result.Status == update.StatusInProgress:
		writeJSON(w, http.StatusConflict, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) hostByName(r *http.Request, name string) *dockerhost.Host {
	hosts := s.discovery.Discover(r.Context(), true)
	for _, host := range hosts {
		if host.Name == name {
			return host
		}
	}
	// An empty server name means the primary host.
	if name == "" && len(hosts) > 0 {
		return hosts[0]
	}
	return nil
}
