package portainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCompose = `version: "3.8"
services:
  web:
    image: nginx:1.25
    container_name: my-web
    ports:
      - "80:80"
  db:
    image: postgres:16.1
    container_name: my-db
  worker:
    image: myorg/worker:2.0
networks:
  default:
    driver: bridge
`

func TestParseContainerNames(t *testing.T) {
	names := parseContainerNames(sampleCompose)

	assert.Equal(t, map[string]string{
		"web": "my-web",
		"db":  "my-db",
	}, names, "services without container_name are skipped")
}

func TestParseContainerNamesQuoted(t *testing.T) {
	compose := "services:\n  app:\n    container_name: \"quoted-name\"\n"
	assert.Equal(t, map[string]string{"app": "quoted-name"}, parseContainerNames(compose))
}

func TestParseContainerNamesIgnoresOutsideServices(t *testing.T) {
	compose := "x-templates:\n  app:\n    container_name: nope\nservices:\n  real:\n    container_name: yes-this\n"
	assert.Equal(t, map[string]string{"real": "yes-this"}, parseContainerNames(compose))
}

func TestApplyImageUpdates(t *testing.T) {
	updated, missing := applyImageUpdates(sampleCompose, map[string]string{
		"web": "nginx:1.27",
	})
	assert.Empty(t, missing)
	assert.Contains(t, updated, "    image: nginx:1.27\n")
	assert.Contains(t, updated, "    image: postgres:16.1\n", "other services untouched")
	assert.Contains(t, updated, "    image: myorg/worker:2.0\n")
}

func TestApplyImageUpdatesOnlyFirstImageLine(t *testing.T) {
	compose := "services:\n  app:\n    image: a:1\n    image: a:2\n"
	updated, missing := applyImageUpdates(compose, map[string]string{"app": "a:9"})
	require.Empty(t, missing)
	assert.Contains(t, updated, "    image: a:9\n")
	assert.Contains(t, updated, "    image: a:2\n")
}

func TestApplyImageUpdatesReportsMissingServices(t *testing.T) {
	_, missing := applyImageUpdates(sampleCompose, map[string]string{
		"web":    "nginx:1.27",
		"absent": "x:1",
	})
	assert.Equal(t, []string{"absent"}, missing)
}

func TestApplyImageUpdatesPreservesDocumentShape(t *testing.T) {
	updated, _ := applyImageUpdates(sampleCompose, map[string]string{"db": "postgres:16.2"})

	// Only the one image line changes; everything else is byte-identical.
	assert.Equal(t, len(sampleCompose), len(updated))
	assert.Contains(t, updated, "    image: postgres:16.2\n")
	assert.Contains(t, updated, "networks:\n  default:\n    driver: bridge\n")
	assert.Contains(t, updated, "container_name: my-db")
}
