package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dockpeek/dockpeek/pkg/types"
)

// streamHeartbeatInterval keeps idle log streams alive through proxies.
const streamHeartbeatInterval = 20 * time.Second

type logsRequest struct {
	Server        string `json:"server_name"`
	ContainerName string `json:"container_name"`
	Tail          int    `json:"tail"`
	IsSwarm       bool   `json:"is_swarm"`
}

// handleContainerLogs fetches up to tail log lines from one container or
// cluster service.
func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	var body logsRequest
	if err := decodeBody(r, &body); err != nil || body.Server == "" || body.ContainerName == "" {
		writeError(w, http.StatusBadRequest, "server_name and container_name are required")
		return
	}
	if body.Tail <= 0 {
		body.Tail = 500
	}

	host := s.hostByName(r, body.Server)
	if host == nil || host.Status != types.HostStatusActive || host.Client == nil {
		writeError(w, http.StatusNotFound, "server "+body.Server+" not found or inactive")
		return
	}

	var result any
	if body.IsSwarm {
		res := s.logs.ServiceLogs(r.Context(), host.Client, body.ContainerName, body.Tail)
		if !res.Success {
			writeJSON(w, http.StatusInternalServerError, res)
			return
		}
		result = res
	} else {
		res := s.logs.ContainerLogs(r.Context(), host.Client, body.ContainerName, body.Tail)
		if !res.Success {
			writeJSON(w, http.StatusInternalServerError, res)
			return
		}
		result = res
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStreamContainerLogs follows a container or service log as
// newline-delimited JSON: {"line": ...} per log line, {"heartbeat": true}
// on idle, one final {"error": ...} on failure.
func (s *Server) handleStreamContainerLogs(w http.ResponseWriter, r *http.Request) {
	var body logsRequest
	if err := decodeBody(r, &body); err != nil || body.Server == "" || body.ContainerName == "" {
		writeError(w, http.StatusBadRequest, "server_name and container_name are required")
		return
	}
	if body.Tail <= 0 {
		body.Tail = 100
	}

	host := s.hostByName(r, body.Server)
	if host == nil || host.Status != types.HostStatusActive || host.Client == nil {
		writeError(w, http.StatusNotFound, "server "+body.Server+" not found or inactive")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	lastWrite := time.Now()
	writeEvent := func(payload any) error {
		if err := enc.Encode(payload); err != nil {
			return err
		}
		flusher.Flush()
		lastWrite = time.Now()
		return nil
	}

	lines := make(chan string, 64)
	errCh := make(chan error, 1)

	ctx := r.Context()
	go func() {
		defer close(lines)
		emit := func(line string) error {
			select {
			case lines <- line:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var err error
		if body.IsSwarm {
			err = s.logs.StreamServiceLogs(ctx, host.Client, body.ContainerName, body.Tail, emit)
		} else {
			err = s.logs.StreamContainerLogs(ctx, host.Client, body.ContainerName, body.Tail, emit)
		}
		errCh <- err
	}()

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case line, open := <-lines:
			if !open {
				if err := <-errCh; err != nil && ctx.Err() == nil {
					s.logger.Error().Err(err).Str("container", body.ContainerName).Msg("log stream error")
					_ = writeEvent(map[string]string{"error": err.Error()})
				}
				return
			}
			if writeEvent(map[string]string{"line": line}) != nil {
				return
			}
		case <-heartbeat.C:
			if time.Since(lastWrite) >= streamHeartbeatInterval {
				if writeEvent(map[string]bool{"heartbeat": true}) != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
