package launcher

import "errors"

var (
	// ErrEngineNotInstalled means no container engine binary or desktop app
	// was found on this machine.
	ErrEngineNotInstalled = errors.New("no container engine found; install Docker Desktop, OrbStack, or the docker CLI")

	// ErrEngineNotRunning means an engine is installed but its daemon never
	// became reachable.
	ErrEngineNotRunning = errors.New("container engine daemon did not become ready")

	// ErrNoSecret means the gateway secret is missing from the state store
	// at a point where the pipeline requires it.
	ErrNoSecret = errors.New("gateway secret is missing; run a reset to reinitialize")

	// ErrBusy reports a lifecycle call rejected because another one is
	// already in flight.
	ErrBusy = errors.New("another launcher operation is in progress")

	// ErrNotRunning reports an operation that requires a running gateway.
	ErrNotRunning = errors.New("gateway is not running")
)

// ImagePullError reports a pull failure with no usable cached image.
type ImagePullError struct {
	Detail string
}

func (e *ImagePullError) Error() string {
	return "image pull failed: " + e.Detail
}

// ContainerStartError reports that the engine rejected the container run.
type ContainerStartError struct {
	Detail string
}

func (e *ContainerStartError) Error() string {
	return "container start failed: " + e.Detail
}

// truncateDetail trims engine output so a step message stays readable.
func truncateDetail(s string) string {
	const limit = 300
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
