package dockerhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHostname(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		localEngine bool
		expected    string
	}{
		{"unix socket has no hostname", "unix:///var/run/docker.sock", true, ""},
		{"empty url", "", true, ""},
		{"tcp with port", "tcp://docker1.example.com:2376", false, "docker1.example.com"},
		{"tcp ip with port", "tcp://192.168.1.50:2375", false, "192.168.1.50"},
		{"loopback discarded", "tcp://127.0.0.1:2375", false, ""},
		{"wildcard discarded", "tcp://0.0.0.0:2375", false, ""},
		{"localhost discarded", "tcp://localhost:2375", false, ""},
		{"bare name kept for remote host", "tcp://dockerbox:2375", false, "dockerbox"},
		{"bare name discarded for local engine", "tcp://dockerbox:2375", true, ""},
		{"ip kept for local engine", "tcp://10.0.0.5:2375", true, "10.0.0.5"},
		{"schemeless host", "docker2.example.com:2375", false, "docker2.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractHostname(tt.url, tt.localEngine))
		})
	}
}

func TestResolveLinkHostname(t *testing.T) {
	assert.Equal(t, "public.example.com", ResolveLinkHostname("public.example.com", "10.0.0.1", "req.example.com"))
	assert.Equal(t, "10.0.0.1", ResolveLinkHostname("", "10.0.0.1", "req.example.com"))
	assert.Equal(t, "req.example.com", ResolveLinkHostname("", "0.0.0.0", "req.example.com"))
	assert.Equal(t, "req.example.com", ResolveLinkHostname("", "127.0.0.1", "req.example.com"))
	assert.Equal(t, "localhost", ResolveLinkHostname("", "", ""))
}
