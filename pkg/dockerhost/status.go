package dockerhost

import (
	"github.com/docker/docker/api/types"
)

// MapContainerState maps an inspected container state to the health-aware
// status the inventory reports, plus the exit code where it is meaningful.
//
//	running + healthy   => healthy
//	running + unhealthy => unhealthy (with exit code)
//	running + starting  => starting
//	exited / dead       => verbatim, with exit code
//	paused, restarting, removing, created => verbatim, no exit code
func MapContainerState(state *types.ContainerState) (string, *int) {
	if state == nil {
		return "error", nil
	}

	exitCode := state.ExitCode

	switch state.Status {
	case "exited", "dead":
		return state.Status, &exitCode

	case "paused", "restarting", "removing", "created":
		return state.Status, nil

	case "running":
		if state.Health != nil {
			switch state.Health.Status {
			case types.Healthy:
				return "healthy", nil
			case types.Unhealthy:
				return "unhealthy", &exitCode
			case types.Starting:
				return "starting", nil
			}
		}
		return "running", nil
	}

	return state.Status, nil
}
