package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISABLE_AUTH", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.Docker.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Docker.HostTimeout)
	assert.Equal(t, 120*time.Second, cfg.Scanner.ScanTimeout)
	assert.Equal(t, time.Hour, cfg.Scanner.CacheTTL)
	assert.Equal(t, time.Hour, cfg.Version.CacheTTL)
	assert.Equal(t, 120*time.Second, cfg.Update.CacheTTL)
	assert.Equal(t, 300*time.Second, cfg.Update.PullTimeout)
	assert.Equal(t, "disabled", cfg.Update.FloatingTags)
	assert.Equal(t, 300*time.Second, cfg.Sched.RefreshInterval)
	assert.Equal(t, time.Hour, cfg.Sched.VersionInterval)
	assert.Equal(t, 60*time.Minute, cfg.Notify.Cooldown)
	assert.Equal(t, 1, cfg.Notify.MinCritical)
	assert.Equal(t, 10, cfg.Notify.MinHigh)
	assert.Equal(t, 24*time.Hour, cfg.Auto.Interval)
	assert.Equal(t, 3, cfg.Auto.BatchSize)
	assert.Equal(t, 300*time.Second, cfg.DNSCacheTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.Auth.SessionLifetime)
}

func TestLoadRequiresAdminCredentials(t *testing.T) {
	t.Setenv("DISABLE_AUTH", "false")
	t.Setenv("USERNAME", "")
	t.Setenv("PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USERNAME and PASSWORD")
}

func TestLoadRejectsBadFloatingTagMode(t *testing.T) {
	t.Setenv("DISABLE_AUTH", "true")
	t.Setenv("UPDATE_FLOATING_TAGS", "sometimes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPDATE_FLOATING_TAGS")
}

func TestScannerEnabledRequiresURL(t *testing.T) {
	cfg := ScannerConfig{Enabled: true}
	assert.False(t, cfg.IsEnabled())

	cfg.ServerURL = "http://trivy:4954"
	assert.True(t, cfg.IsEnabled())

	cfg.Enabled = false
	assert.False(t, cfg.IsEnabled())
}

func TestPortainerIsConfigured(t *testing.T) {
	assert.False(t, PortainerConfig{URL: "https://p:9443"}.IsConfigured())
	assert.False(t, PortainerConfig{APIKey: "ptr_x"}.IsConfigured())
	assert.True(t, PortainerConfig{URL: "https://p:9443", APIKey: "ptr_x"}.IsConfigured())
}
