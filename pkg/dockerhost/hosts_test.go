package dockerhost

import (
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvPrimaryAndNumbered(t *testing.T) {
	t.Setenv("DOCKER_HOST", "unix:///var/run/docker.sock")
	t.Setenv("DOCKER_HOST_NAME", "alpha")
	t.Setenv("DOCKER_HOST_2_URL", "tcp://beta.example.com:2376")
	t.Setenv("DOCKER_HOST_2_NAME", "beta")
	t.Setenv("DOCKER_HOST_1_URL", "tcp://10.0.0.5:2375")

	configs := ParseEnv()
	require.Len(t, configs, 3)

	assert.Equal(t, "alpha", configs[0].Name)
	assert.Equal(t, 0, configs[0].Order)
	assert.True(t, configs[0].LocalEngine)
	assert.Empty(t, configs[0].PublicHostname)

	assert.Equal(t, "server1", configs[1].Name)
	assert.Equal(t, 1, configs[1].Order)
	assert.Equal(t, "10.0.0.5", configs[1].PublicHostname)

	assert.Equal(t, "beta", configs[2].Name)
	assert.Equal(t, 2, configs[2].Order)
	assert.Equal(t, "beta.example.com", configs[2].PublicHostname)
}

func TestParseEnvExplicitPublicHostnameWins(t *testing.T) {
	t.Setenv("DOCKER_HOST", "")
	t.Setenv("DOCKER_HOST_1_URL", "tcp://10.0.0.5:2375")
	t.Setenv("DOCKER_HOST_1_PUBLIC_HOSTNAME", "docker.example.com")

	configs := ParseEnv()
	require.Len(t, configs, 1)
	assert.Equal(t, "docker.example.com", configs[0].PublicHostname)
}

func TestDefaultNameDetection(t *testing.T) {
	assert.True(t, HostConfig{Name: "server3", Order: 3}.defaultName())
	assert.True(t, HostConfig{Name: "default", Order: 1}.defaultName())
	assert.False(t, HostConfig{Name: "prod-a", Order: 3}.defaultName())
	// The primary host keeps its fallback name instead of asking the engine.
	assert.False(t, HostConfig{Name: "default", Order: 0}.defaultName())
}

func intPtr(n int) *int { return &n }

func TestMapContainerState(t *testing.T) {
	tests := []struct {
		name       string
		state      *types.ContainerState
		wantStatus string
		wantExit   *int
	}{
		{"running no health", &types.ContainerState{Status: "running"}, "running", nil},
		{"running healthy", &types.ContainerState{Status: "running", Health: &types.Health{Status: types.Healthy}}, "healthy", nil},
		{"running unhealthy", &types.ContainerState{Status: "running", ExitCode: 137, Health: &types.Health{Status: types.Unhealthy}}, "unhealthy", intPtr(137)},
		{"running starting", &types.ContainerState{Status: "running", Health: &types.Health{Status: types.Starting}}, "starting", nil},
		{"exited", &types.ContainerState{Status: "exited", ExitCode: 1}, "exited", intPtr(1)},
		{"dead", &types.ContainerState{Status: "dead", ExitCode: 255}, "dead", intPtr(255)},
		{"paused", &types.ContainerState{Status: "paused", ExitCode: 1}, "paused", nil},
		{"restarting", &types.ContainerState{Status: "restarting"}, "restarting", nil},
		{"created", &types.ContainerState{Status: "created"}, "created", nil},
		{"nil state", nil, "error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, exit := MapContainerState(tt.state)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantExit == nil {
				assert.Nil(t, exit)
			} else {
				require.NotNil(t, exit)
				assert.Equal(t, *tt.wantExit, *exit)
			}
		})
	}
}
