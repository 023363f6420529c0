package version

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/log"
)

// Kind identifies the registry family a reference resolves against. The tag
// lister is a single dispatch over this tag rather than a type hierarchy.
type Kind int

const (
	KindHub Kind = iota
	KindGhcr
	KindLscr
	KindGcr
	KindQuay
	KindGenericV2
)

// Reference is an image reference split into its registry coordinates.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Kind       Kind
}

// FullName returns the reference without its tag, in the form the registry
// expects ("library/nginx" stays bare for the hub).
func (r Reference) FullName() string {
	if r.Registry == "docker.io" {
		return r.Repository
	}
	return r.Registry + "/" + r.Repository
}

func kindForRegistry(registry string) Kind {
	switch registry {
	case "docker.io":
		return KindHub
	case "ghcr.io":
		return KindGhcr
	case "lscr.io":
		return KindLscr
	case "gcr.io":
		return KindGcr
	case "quay.io":
		return KindQuay
	default:
		return KindGenericV2
	}
}

// ParseReference splits an image reference into (registry, repository, tag).
// A bare name maps to the hub's library namespace; a first segment with a
// dot or a colon is a registry host; anything else is a hub user image.
func ParseReference(image string) Reference {
	name := image
	tag := "latest"

	if i := strings.LastIndex(image, ":"); i >= 0 {
		// A slash after the colon means the colon is a registry port, and
		// the reference has no tag.
		if !strings.Contains(image[i:], "/") {
			name, tag = image[:i], image[i+1:]
		}
	}

	parts := strings.Split(name, "/")
	switch {
	case len(parts) == 1:
		return Reference{Registry: "docker.io", Repository: "library/" + parts[0], Tag: tag, Kind: KindHub}
	case strings.Contains(parts[0], ".") || strings.Contains(parts[0], ":"):
		registry := parts[0]
		repository := strings.Join(parts[1:], "/")
		return Reference{Registry: registry, Repository: repository, Tag: tag, Kind: kindForRegistry(registry)}
	default:
		return Reference{Registry: "docker.io", Repository: name, Tag: tag, Kind: KindHub}
	}
}

type cachedToken struct {
	token   string
	expires time.Time
}

// RegistryClient lists tags across registry families. Auth tokens are
// cached per (registry, repository) for five minutes; transient registry
// errors yield an empty tag list and are never cached.
type RegistryClient struct {
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger

	tokenMu sync.Mutex
	tokens  map[string]cachedToken
}

// NewRegistryClient creates a registry client. transport may be nil; it
// exists so the DNS-caching dialer can be plugged in.
func NewRegistryClient(transport http.RoundTripper) *RegistryClient {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 2
	retry.Logger = nil
	if transport != nil {
		retry.HTTPClient.Transport = transport
	}

	return &RegistryClient{
		http:    retry.StandardClient(),
		timeout: 10 * time.Second,
		logger:  log.WithComponent("registry"),
		tokens:  make(map[string]cachedToken),
	}
}

// Tags lists every tag available for the reference. Failures are logged and
// return an empty list so one bad registry never blocks a pass.
func (c *RegistryClient) Tags(ref Reference) []string {
	var (
		tags []string
		err  error
	)

	switch ref.Kind {
	case KindHub:
		tags, err = c.hubTags(ref.Repository)
	case KindGhcr:
		tags, err = c.ghcrTags(ref.Repository)
	case KindLscr:
		// lscr.io mirrors ghcr.io with the same repository path.
		tags, err = c.ghcrTags(ref.Repository)
	case KindGcr:
		tags, err = c.anonymousV2Tags("gcr.io", ref.Repository)
	case KindQuay:
		tags, err = c.quayTags(ref.Repository)
	default:
		tags, err = c.anonymousV2Tags(ref.Registry, ref.Repository)
	}

	if err != nil {
		c.logger.Warn().Err(err).Str("repository", ref.Repository).Msg("failed to list tags")
		return nil
	}
	return tags
}

func (c *RegistryClient) cachedTokenFor(key string) (string, bool) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	entry, ok := c.tokens[key]
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.token, true
}

func (c *RegistryClient) storeToken(key, token string) {
	c.tokenMu.Lock()
	c.tokens[key] = cachedToken{token: token, expires: time.Now().Add(5 * time.Minute)}
	c.tokenMu.Unlock()
}

func (c *RegistryClient) fetchToken(key, authURL string) (string, error) {
	if token, ok := c.cachedTokenFor(key); ok {
		return token, nil
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := c.getJSON(authURL, "", &payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", fmt.Errorf("empty token from %s", authURL)
	}

	c.storeToken(key, payload.Token)
	return payload.Token, nil
}

func (c *RegistryClient) hubTags(repository string) ([]string, error) {
	token, err := c.fetchToken(
		"dockerhub:"+repository,
		fmt.Sprintf("https://auth.docker.io/token?service=registry.docker.io&scope=repository:%s:pull", repository),
	)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Tags []string `json:"tags"`
	}
	url := fmt.Sprintf("https://registry-1.docker.io/v2/%s/tags/list", repository)
	if err := c.getJSON(url, token, &payload); err != nil {
		return nil, err
	}
	return payload.Tags, nil
}

// ghcrTags lists tags from the GitHub container registry, following the
// paged Link header (bounded at ten pages).
func (c *RegistryClient) ghcrTags(repository string) ([]string, error) {
	token, err := c.fetchToken(
		"ghcr:"+repository,
		fmt.Sprintf("https://ghcr.io/token?scope=repository:%s:pull", repository),
	)
	if err != nil {
		return nil, err
	}

	const baseURL = "https://ghcr.io"
	url := fmt.Sprintf("%s/v2/%s/tags/list?n=1000", baseURL, repository)

	var all []string
	for page := 0; url != "" && page < 10; page++ {
		var payload struct {
			Tags []string `json:"tags"`
		}
		link, err := c.getJSONWithLink(url, token, &payload)
		if err != nil {
			return nil, err
		}
		all = append(all, payload.Tags...)

		url = nextPageURL(link, baseURL)
	}
	return all, nil
}

// nextPageURL extracts the rel="next" target from a Link header.
func nextPageURL(link, baseURL string) string {
	if !strings.Contains(link, `rel="next"`) {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		target := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		target = strings.Trim(target, "<>")
		if strings.HasPrefix(target, "/") {
			return baseURL + target
		}
		return target
	}
	return ""
}

func (c *RegistryClient) quayTags(repository string) ([]string, error) {
	var payload struct {
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
	}
	url := fmt.Sprintf("https://quay.io/api/v1/repository/%s/tag/", repository)
	if err := c.getJSON(url, "", &payload); err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(payload.Tags))
	for _, t := range payload.Tags {
		tags = append(tags, t.Name)
	}
	return tags, nil
}

func (c *RegistryClient) anonymousV2Tags(registry, repository string) ([]string, error) {
	var payload struct {
		Tags []string `json:"tags"`
	}
	url := fmt.Sprintf("https://%s/v2/%s/tags/list", registry, repository)
	if err := c.getJSON(url, "", &payload); err != nil {
		return nil, err
	}
	return payload.Tags, nil
}

func (c *RegistryClient) getJSON(url, bearer string, out any) error {
	_, err := c.getJSONWithLink(url, bearer, out)
	return err
}

func (c *RegistryClient) getJSONWithLink(url, bearer string, out any) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	client := *c.http
	client.Timeout = c.timeout

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", err
	}
	return resp.Header.Get("Link"), nil
}
