package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dockpeek/dockpeek/pkg/autoupdate"
	"github.com/dockpeek/dockpeek/pkg/inventory"
	"github.com/dockpeek/dockpeek/pkg/logs"
	"github.com/dockpeek/dockpeek/pkg/scan"
	"github.com/dockpeek/dockpeek/pkg/types"
	"github.com/dockpeek/dockpeek/pkg/update"
)

// Client is a typed Go client for the dockpeek HTTP API, authenticating
// with an API key. It is what programmatic integrations build on.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Fleet fetches the full fleet snapshot.
func (c *Client) Fleet(ctx context.Context) (*types.FleetSnapshot, error) {
	var snapshot types.FleetSnapshot
	if err := c.do(ctx, http.MethodGet, "/data", nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// QueueScan queues a vulnerability scan for an image.
func (c *Client) QueueScan(ctx context.Context, image string) (bool, error) {
	var result struct {
		Queued bool `json:"queued"`
	}
	path := "/api/scan/" + url.PathEscape(image)
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return false, err
	}
	return result.Queued, nil
}

// Vulnerabilities fetches the cached CVE detail for an image.
func (c *Client) Vulnerabilities(ctx context.Context, image string) (*scan.Result, error) {
	var result scan.Result
	path := "/api/vulnerabilities/" + url.PathEscape(image)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Trend fetches the scan trend for a digest.
func (c *Client) Trend(ctx context.Context, digest string) (*scan.Trend, error) {
	var trend scan.Trend
	path := "/api/security/trends/" + url.PathEscape(digest)
	if err := c.do(ctx, http.MethodGet, path, nil, &trend); err != nil {
		return nil, err
	}
	return &trend, nil
}

// NewVulnerabilities lists fingerprints first seen within the window.
func (c *Client) NewVulnerabilities(ctx context.Context, hours int, severity string) ([]scan.FingerprintRecord, error) {
	var payload struct {
		Vulnerabilities []scan.FingerprintRecord `json:"vulnerabilities"`
	}
	path := fmt.Sprintf("/api/security/new?hours=%d", hours)
	if severity != "" {
		path += "&severity=" + url.QueryEscape(severity)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Vulnerabilities, nil
}

// ClearScanCache drops every cached scan result.
func (c *Client) ClearScanCache(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/security/cache/clear", nil, nil)
}

// CheckUpdates runs the pulling update check across the fleet.
func (c *Client) CheckUpdates(ctx context.Context) (checked, found int, err error) {
	var result struct {
		Checked      int `json:"checked"`
		UpdatesFound int `json:"updates_found"`
	}
	if err := c.do(ctx, http.MethodPost, "/check-updates", nil, &result); err != nil {
		return 0, 0, err
	}
	return result.Checked, result.UpdatesFound, nil
}

// CancelUpdates cancels an in-flight update check.
func (c *Client) CancelUpdates(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/cancel-updates", nil, nil)
}

// UpdateContainer replaces a container with a newer image.
func (c *Client) UpdateContainer(ctx context.Context, server, containerName string, force bool, newImage string) (*update.Result, error) {
	body := map[string]any{
		"server":         server,
		"container_name": containerName,
		"force":          force,
		"new_image":      newImage,
	}
	var result update.Result
	if err := c.do(ctx, http.MethodPost, "/update-container", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AutoUpdateHistory fetches recent auto-update journal records.
func (c *Client) AutoUpdateHistory(ctx context.Context, limit int) ([]autoupdate.Record, error) {
	var payload struct {
		History []autoupdate.Record `json:"history"`
	}
	path := fmt.Sprintf("/api/autoupdate/history?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.History, nil
}

// TestNotification sends a free-form test ping.
func (c *Client) TestNotification(ctx context.Context, message string) error {
	return c.do(ctx, http.MethodPost, "/api/notify/test", map[string]string{"message": message}, nil)
}

// ContainerLogs fetches up to tail log lines from one container or cluster
// service.
func (c *Client) ContainerLogs(ctx context.Context, server, containerName string, tail int, isSwarm bool) (*logs.Result, error) {
	body := map[string]any{
		"server_name":    server,
		"container_name": containerName,
		"tail":           tail,
		"is_swarm":       isSwarm,
	}
	var result logs.Result
	if err := c.do(ctx, http.MethodPost, "/get-container-logs", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PruneInfo reports unused images without removing anything. server may be
// "all".
func (c *Client) PruneInfo(ctx context.Context, server string) (*inventory.PruneInfo, error) {
	var info inventory.PruneInfo
	if err := c.do(ctx, http.MethodPost, "/get-prune-info", map[string]string{"server_name": server}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PruneImages removes unused images on the targeted hosts.
func (c *Client) PruneImages(ctx context.Context, server string) (*inventory.PruneResult, error) {
	var result inventory.PruneResult
	if err := c.do(ctx, http.MethodPost, "/prune-images", map[string]string{"server_name": server}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RepairImageNames recreates containers whose declared image reference
// degraded to a raw SHA.
func (c *Client) RepairImageNames(ctx context.Context) ([]update.RepairedContainer, []update.RepairError, error) {
	var payload struct {
		Fixed  []update.RepairedContainer `json:"fixed"`
		Errors []update.RepairError       `json:"errors"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/repair-image-names", nil, &payload); err != nil {
		return nil, nil, err
	}
	return payload.Fixed, payload.Errors, nil
}
