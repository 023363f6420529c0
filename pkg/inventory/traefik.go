package inventory

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dockpeek/dockpeek/pkg/types"
)

var (
	routerRulePattern = regexp.MustCompile(`^traefik\.http\.routers\.([^.]+)\.rule$`)
	hostPattern       = regexp.MustCompile("Host\\(`([^`]+)`\\)")
	pathPrefixPattern = regexp.MustCompile("PathPrefix\\(`([^`]+)`\\)")
)

// httpsEntrypointHints mark an entrypoint name as TLS-terminating.
var httpsEntrypointHints = []string{"https", "443", "secure", "ssl", "tls"}

// ExtractTraefikRoutes derives HTTP routes from traefik.* labels: one route
// per Host() match of each router rule, with the scheme decided by the
// router's tls flag or an https-looking entrypoint.
func ExtractTraefikRoutes(labels map[string]string, enabled bool) []types.TraefikRoute {
	if !enabled || strings.EqualFold(labels["traefik.enable"], "false") {
		return nil
	}

	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var routes []types.TraefikRoute
	for _, key := range keys {
		m := routerRulePattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		router := m[1]
		rule := labels[key]

		hosts := hostPattern.FindAllStringSubmatch(rule, -1)
		if len(hosts) == 0 {
			continue
		}

		isTLS := strings.EqualFold(labels["traefik.http.routers."+router+".tls"], "true")
		entrypoints := labels["traefik.http.routers."+router+".entrypoints"]
		isHTTPSEntrypoint := false
		for _, ep := range strings.Split(entrypoints, ",") {
			ep = strings.ToLower(strings.TrimSpace(ep))
			for _, hint := range httpsEntrypointHints {
				if strings.Contains(ep, hint) {
					isHTTPSEntrypoint = true
					break
				}
			}
		}

		scheme := "http"
		if isTLS || isHTTPSEntrypoint {
			scheme = "https"
		}

		pathPrefix := ""
		if pm := pathPrefixPattern.FindStringSubmatch(rule); pm != nil {
			pathPrefix = pm[1]
		}

		for _, hostMatch := range hosts {
			routes = append(routes, types.TraefikRoute{
				Router: router,
				URL:    scheme + "://" + hostMatch[1] + pathPrefix,
				Rule:   rule,
				Host:   hostMatch[1],
			})
		}
	}

	return routes
}
