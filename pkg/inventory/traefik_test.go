package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTraefikRoutes(t *testing.T) {
	labels := map[string]string{
		"traefik.http.routers.myapp.rule": "Host(`app.example.com`)",
	}

	routes := ExtractTraefikRoutes(labels, true)
	require.Len(t, routes, 1)
	assert.Equal(t, "myapp", routes[0].Router)
	assert.Equal(t, "http://app.example.com", routes[0].URL)
	assert.Equal(t, "app.example.com", routes[0].Host)
}

func TestExtractTraefikRoutesTLS(t *testing.T) {
	labels := map[string]string{
		"traefik.http.routers.myapp.rule": "Host(`app.example.com`)",
		"traefik.http.routers.myapp.tls":  "true",
	}

	routes := ExtractTraefikRoutes(labels, true)
	require.Len(t, routes, 1)
	assert.Equal(t, "https://app.example.com", routes[0].URL)
}

func TestExtractTraefikRoutesHTTPSEntrypoint(t *testing.T) {
	tests := []struct {
		entrypoints string
		https       bool
	}{
		{"websecure", true}, // contains "secure"
		{"https", true},
		{"web,https", true},
		{"port443", true},
		{"ssl-endpoint", true},
		{"web", false},
	}

	for _, tt := range tests {
		t.Run(tt.entrypoints, func(t *testing.T) {
			labels := map[string]string{
				"traefik.http.routers.r.rule":        "Host(`x.example.com`)",
				"traefik.http.routers.r.entrypoints": tt.entrypoints,
			}
			routes := ExtractTraefikRoutes(labels, true)
			require.Len(t, routes, 1)
			if tt.https {
				assert.Equal(t, "https://x.example.com", routes[0].URL)
			} else {
				assert.Equal(t, "http://x.example.com", routes[0].URL)
			}
		})
	}
}

func TestExtractTraefikRoutesPathPrefix(t *testing.T) {
	labels := map[string]string{
		"traefik.http.routers.api.rule": "Host(`example.com`) && PathPrefix(`/api`)",
	}

	routes := ExtractTraefikRoutes(labels, true)
	require.Len(t, routes, 1)
	assert.Equal(t, "http://example.com/api", routes[0].URL)
}

func TestExtractTraefikRoutesMultipleHosts(t *testing.T) {
	labels := map[string]string{
		"traefik.http.routers.multi.rule": "Host(`a.example.com`) || Host(`b.example.com`)",
	}

	routes := ExtractTraefikRoutes(labels, true)
	require.Len(t, routes, 2)
	assert.Equal(t, "a.example.com", routes[0].Host)
	assert.Equal(t, "b.example.com", routes[1].Host)
}

func TestExtractTraefikRoutesDisabled(t *testing.T) {
	labels := map[string]string{
		"traefik.http.routers.myapp.rule": "Host(`app.example.com`)",
	}
	assert.Nil(t, ExtractTraefikRoutes(labels, false))

	labels["traefik.enable"] = "false"
	assert.Nil(t, ExtractTraefikRoutes(labels, true))
}

func TestExtractTraefikRoutesIgnoresNonRuleLabels(t *testing.T) {
	labels := map[string]string{
		"traefik.http.services.myapp.loadbalancer.server.port": "8080",
		"traefik.enable": "true",
	}
	assert.Nil(t, ExtractTraefikRoutes(labels, true))
}
