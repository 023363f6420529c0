package portainer

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/config"
	"github.com/dockpeek/dockpeek/pkg/log"
)

// StackInfo locates the stack and service that own a container.
type StackInfo struct {
	StackID     int    `json:"stack_id"`
	StackName   string `json:"stack_name"`
	ServiceName string `json:"service_name,omitempty"`
}

type stackCacheEntry struct {
	StackInfo
	at time.Time
}

// Client talks to the external declarative orchestrator's REST API for
// stack-aware updates: stack lookup, compose fetch, image substitution and
// redeploy.
type Client struct {
	cfg    config.PortainerConfig
	http   *http.Client
	logger zerolog.Logger

	cacheMu  sync.Mutex
	cache    map[string]stackCacheEntry
	cacheTTL time.Duration
}

// NewClient creates an orchestrator client from configuration.
func NewClient(cfg config.PortainerConfig) *Client {
	transport := &http.Transport{}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Transport: transport, Timeout: 60 * time.Second},
		logger:   log.WithComponent("portainer"),
		cache:    make(map[string]stackCacheEntry),
		cacheTTL: 5 * time.Minute,
	}
}

type stackMeta struct {
	ID   int      `json:"Id"`
	Name string   `json:"Name"`
	Env  []envVar `json:"Env"`
}

type envVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (c *Client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.cfg.URL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	q := req.URL.Query()
	q.Set("endpointId", fmt.Sprint(c.cfg.EndpointID))
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) put(path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, c.cfg.URL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	q := req.URL.Query()
	q.Set("endpointId", fmt.Sprint(c.cfg.EndpointID))
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("PUT %s: HTTP %d: %s", path, resp.StatusCode, respBody)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) listStacks() ([]stackMeta, error) {
	var stacks []stackMeta
	if err := c.get("/api/stacks", &stacks); err != nil {
		return nil, err
	}
	return stacks, nil
}

func (c *Client) stackCompose(stackID int) (string, error) {
	var payload struct {
		StackFileContent string `json:"StackFileContent"`
	}
	if err := c.get(fmt.Sprintf("/api/stacks/%d/file", stackID), &payload); err != nil {
		return "", err
	}
	return payload.StackFileContent, nil
}

// GetContainerStack finds which stack a container belongs to, rebuilding and
// caching the full container-to-stack mapping on a miss. Returns nil when
// the container is not managed by any stack.
func (c *Client) GetContainerStack(containerName string) *StackInfo {
	c.cacheMu.Lock()
	if entry, ok := c.cache[containerName]; ok && time.Since(entry.at) < c.cacheTTL {
		info := entry.StackInfo
		c.cacheMu.Unlock()
		return &info
	}
	c.cacheMu.Unlock()

	mapping, err := c.buildStackMapping()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to build stack mapping")
		return nil
	}

	now := time.Now()
	c.cacheMu.Lock()
	for name, info := range mapping {
		c.cache[name] = stackCacheEntry{StackInfo: info, at: now}
	}
	c.cacheMu.Unlock()

	if info, ok := mapping[containerName]; ok {
		return &info
	}
	return nil
}

func (c *Client) buildStackMapping() (map[string]StackInfo, error) {
	stacks, err := c.listStacks()
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]StackInfo)
	for _, stack := range stacks {
		compose, err := c.stackCompose(stack.ID)
		if err != nil {
			c.logger.Debug().Err(err).Str("stack", stack.Name).Msg("could not fetch compose for stack")
			continue
		}
		for service, containerName := range parseContainerNames(compose) {
			mapping[containerName] = StackInfo{
				StackID:     stack.ID,
				StackName:   stack.Name,
				ServiceName: service,
			}
		}
	}
	return mapping, nil
}

// FindServiceForContainer parses one stack's compose document for the
// service declaring the container. Returns "" when not found.
func (c *Client) FindServiceForContainer(stackID int, containerName string) string {
	compose, err := c.stackCompose(stackID)
	if err != nil {
		c.logger.Warn().Err(err).Int("stack_id", stackID).Msg("could not fetch compose for stack")
		return ""
	}
	for service, name := range parseContainerNames(compose) {
		if name == containerName {
			return service
		}
	}
	return ""
}

// RedeployStack redeploys a stack, optionally substituting service images in
// the compose document first. pullImage=false skips the orchestrator's own
// registry pull when the image was pre-pulled.
func (c *Client) RedeployStack(stackID int, imageUpdates map[string]string, pullImage bool) (string, error) {
	stacks, err := c.listStacks()
	if err != nil {
		return "", err
	}

	var meta *stackMeta
	for i := range stacks {
		if stacks[i].ID == stackID {
			meta = &stacks[i]
			break
		}
	}
	if meta == nil {
		return "", fmt.Errorf("stack %d not found", stackID)
	}

	compose, err := c.stackCompose(stackID)
	if err != nil {
		return "", err
	}

	if len(imageUpdates) > 0 {
		var missing []string
		compose, missing = applyImageUpdates(compose, imageUpdates)
		if len(missing) > 0 {
			sort.Strings(missing)
			c.logger.Warn().Str("services", strings.Join(missing, ", ")).Msg("could not find image lines for services")
		}
	}

	env := meta.Env
	if env == nil {
		env = []envVar{}
	}

	payload := map[string]any{
		"stackFileContent": compose,
		"env":              env,
		"prune":            false,
		"pullImage":        pullImage,
	}
	if err := c.put(fmt.Sprintf("/api/stacks/%d", stackID), payload); err != nil {
		return "", err
	}

	c.logger.Info().Str("stack", meta.Name).Int("stack_id", stackID).Msg("redeployed stack")
	return meta.Name, nil
}

// CheckConnection tests connectivity to the orchestrator API.
func (c *Client) CheckConnection() bool {
	req, err := http.NewRequest(http.MethodGet, c.cfg.URL+"/api/status", nil)
	if err != nil {
		return false
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// InvalidateCache evicts one container's stack mapping, or all of them when
// containerName is empty.
func (c *Client) InvalidateCache(containerName string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if containerName != "" {
		delete(c.cache, containerName)
		return
	}
	c.cache = make(map[string]stackCacheEntry)
}
