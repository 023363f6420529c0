package scan

import (
	"context"

	"github.com/dockpeek/dockpeek/pkg/types"
)

// QueueScan queues an image for background scanning. Returns true when the
// image was accepted: not already in-flight and not already cached valid.
func (e *Engine) QueueScan(image string, cli ImageInspector) bool {
	if !e.Enabled() {
		return false
	}

	if cli != nil {
		if digest := e.ImageDigest(context.Background(), cli, image); digest != "" {
			if cached := e.GetCached(digest); cached != nil {
				return false
			}
		}
	}

	e.pendingMu.Lock()
	if _, inFlight := e.pending[image]; inFlight {
		e.pendingMu.Unlock()
		return false
	}
	e.pending[image] = struct{}{}
	e.pendingMu.Unlock()

	e.startWorker()

	select {
	case e.queue <- queueItem{image: image, client: cli}:
		e.logger.Debug().Str("image", image).Msg("scan queued")
		return true
	default:
		// Queue full: drop the request so callers never block. The next
		// inventory pass re-enqueues anything still unscanned.
		e.pendingMu.Lock()
		delete(e.pending, image)
		e.pendingMu.Unlock()
		e.logger.Warn().Str("image", image).Msg("scan queue full, dropping request")
		return false
	}
}

// QueueAutoScan enqueues every container whose image has no scan yet and is
// not opted out. Called by the collector after each inventory pass. Returns
// the number of scans queued.
func (e *Engine) QueueAutoScan(containers []types.ContainerSnapshot, clients map[string]ImageInspector) int {
	if !e.Enabled() || !e.HealthCheck(false) {
		return 0
	}

	queued := 0
	seen := make(map[string]struct{})

	for _, c := range containers {
		if c.Image == "" {
			continue
		}
		if _, dup := seen[c.Image]; dup {
			continue
		}
		if c.SecuritySkip {
			continue
		}
		if c.Security != nil && (c.Security.Status == types.ScanStatusScanned || c.Security.Status == types.ScanStatusSkipped) {
			continue
		}

		seen[c.Image] = struct{}{}
		if e.QueueScan(c.Image, clients[c.Server]) {
			queued++
		}
	}

	if queued > 0 {
		e.logger.Info().Int("count", queued).Msg("auto-scan queued images")
	}
	return queued
}

// startWorker starts the single background scan worker on first use.
func (e *Engine) startWorker() {
	e.workerOnce.Do(func() {
		go e.workerLoop()
		e.logger.Info().Msg("background vulnerability scanner started")
	})
}

// workerLoop drains the scan queue one image at a time. Failures are logged
// and never stop the loop.
func (e *Engine) workerLoop() {
	for item := range e.queue {
		e.pendingMu.Lock()
		delete(e.pending, item.image)
		e.pendingMu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error().Interface("panic", r).Str("image", item.image).Msg("background scan panicked")
				}
			}()
			if res := e.Scan(context.Background(), item.image, item.client); res == nil {
				e.logger.Debug().Str("image", item.image).Msg("background scan produced no result")
			}
		}()
	}
}

// PendingCount returns the number of scans waiting in the queue. An image is
// removed from the pending set when the worker takes it, so the scan in
// progress is not counted.
func (e *Engine) PendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// IsPending reports whether a scan for the image is queued.
func (e *Engine) IsPending(image string) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	_, ok := e.pending[image]
	return ok
}
