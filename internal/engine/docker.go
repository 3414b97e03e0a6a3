package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client wraps the docker CLI verbs the launcher drives. All state queries go
// to the engine itself; the client caches nothing.
type Client struct {
	runner Runner
	bin    string
}

// NewClient returns a Client that invokes bin through runner. bin may be a
// bare name resolved via the runner's search path or an absolute path from
// discovery.
func NewClient(runner Runner, bin string) *Client {
	if bin == "" {
		bin = "docker"
	}
	return &Client{runner: runner, bin: bin}
}

func (c *Client) run(ctx context.Context, args ...string) (Result, error) {
	return c.runner.Run(ctx, c.bin, args...)
}

// DaemonReady reports whether the engine daemon answers an info query.
func (c *Client) DaemonReady(ctx context.Context) bool {
	res, err := c.run(ctx, "info", "--format", "{{.ServerVersion}}")
	return err == nil && res.ExitCode == 0
}

// WaitForDaemon polls the daemon on a fixed schedule until it answers or the
// attempts are exhausted.
func (c *Client) WaitForDaemon(ctx context.Context, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if c.DaemonReady(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("engine daemon not ready after %d attempts", attempts)
}

// ContainerRunning reports whether a container with the given name is
// currently running. A missing container is not an error.
func (c *Client) ContainerRunning(ctx context.Context, name string) (bool, error) {
	res, err := c.run(ctx, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		if isNoSuchObject(res) {
			return false, nil
		}
		return false, fmt.Errorf("inspect %s: %s", name, res.Output())
	}
	return strings.TrimSpace(res.Stdout) == "true", nil
}

// ContainerExists reports whether a container with the given name exists in
// any state.
func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	res, err := c.run(ctx, "inspect", "-f", "{{.Name}}", name)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		if isNoSuchObject(res) {
			return false, nil
		}
		return false, fmt.Errorf("inspect %s: %s", name, res.Output())
	}
	return true, nil
}

// ContainerStatus returns the engine's status string for the container
// ("running", "exited", ...) or "missing" when it does not exist.
func (c *Client) ContainerStatus(ctx context.Context, name string) string {
	res, err := c.run(ctx, "inspect", "-f", "{{.State.Status}}", name)
	if err != nil || res.ExitCode != 0 {
		if err == nil && isNoSuchObject(res) {
			return "missing"
		}
		return "unknown"
	}
	status := strings.TrimSpace(res.Stdout)
	if status == "" {
		return "unknown"
	}
	return status
}

// ImageExists reports whether the image is present in the local cache.
func (c *Client) ImageExists(ctx context.Context, image string) (bool, error) {
	res, err := c.run(ctx, "image", "inspect", image)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		if isNoSuchObject(res) {
			return false, nil
		}
		return false, fmt.Errorf("image inspect %s: %s", image, res.Output())
	}
	return true, nil
}

// PullImage fetches the image from its registry. The engine's own error text
// travels back in the returned error.
func (c *Client) PullImage(ctx context.Context, image string) error {
	res, err := c.run(ctx, "pull", image)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("pull %s: %s", image, res.Output())
	}
	return nil
}

// StartContainer creates and starts a detached container per spec.
func (c *Client) StartContainer(ctx context.Context, spec RunSpec) error {
	res, err := c.run(ctx, spec.Args()...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("run %s: %s", spec.Name, res.Output())
	}
	return nil
}

// StopContainer stops the named container. Stopping a missing container is
// not an error.
func (c *Client) StopContainer(ctx context.Context, name string) error {
	res, err := c.run(ctx, "stop", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !isNoSuchObject(res) {
		return fmt.Errorf("stop %s: %s", name, res.Output())
	}
	return nil
}

// RestartContainer restarts the named container in place.
func (c *Client) RestartContainer(ctx context.Context, name string) error {
	res, err := c.run(ctx, "restart", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("restart %s: %s", name, res.Output())
	}
	return nil
}

// RemoveContainer force-removes the named container. Removing a missing
// container is not an error.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	res, err := c.run(ctx, "rm", "-f", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !isNoSuchObject(res) {
		return fmt.Errorf("rm %s: %s", name, res.Output())
	}
	return nil
}

// Logs returns the last tail lines of container output, best effort.
func (c *Client) Logs(ctx context.Context, name string, tail int) string {
	res, err := c.run(ctx, "logs", "--tail", fmt.Sprintf("%d", tail), name)
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Output())
}

// Info returns the engine's info dump for diagnostics, best effort.
func (c *Client) Info(ctx context.Context) string {
	res, err := c.run(ctx, "info")
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// isNoSuchObject matches the engine's not-found phrasing, which differs
// between docker versions and between images and containers.
func isNoSuchObject(res Result) bool {
	out := res.Output()
	return strings.Contains(out, "No such object") ||
		strings.Contains(out, "No such image") ||
		strings.Contains(out, "No such container")
}
