// Package engine talks to the container engine through its CLI. It provides a
// command runner with an explicit search path, a typed client for the docker
// verbs the launcher needs, and filesystem discovery of engine installations.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Result holds the outcome of one external command invocation. A non-zero
// exit status is reported here, never as an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output returns stdout with stderr appended, trimmed. Convenient for
// surfacing engine failures in human-readable messages.
func (r Result) Output() string {
	combined := strings.TrimSpace(r.Stdout)
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += errOut
	}
	return combined
}

// Runner executes external commands. Errors mean the command could not be
// started at all; callers interpret exit codes themselves.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner is the production Runner. The search path and engine config
// directory are explicit data rather than ambient process environment, so the
// engine binary is found even when the launcher was started from a desktop
// session with a minimal PATH.
type ExecRunner struct {
	// SearchPath is prepended to the inherited PATH when non-empty.
	SearchPath []string
	// ConfigDir isolates the engine's own config (credential helpers
	// included) from the user's, so running the CLI never triggers
	// unrelated keychain prompts. Empty leaves DOCKER_CONFIG inherited.
	ConfigDir string
}

// NewExecRunner returns a runner using the default engine search path and an
// isolated config directory beneath stateDir.
func NewExecRunner(stateDir string) *ExecRunner {
	return &ExecRunner{
		SearchPath: DefaultSearchPath(),
		ConfigDir:  filepath.Join(stateDir, "docker-config"),
	}
}

// Run executes name with args. Both output streams drain into memory
// concurrently so neither can stall the process on a full pipe buffer.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return res, nil
}

func (r *ExecRunner) environ() []string {
	env := os.Environ()
	if len(r.SearchPath) > 0 {
		path := strings.Join(r.SearchPath, string(os.PathListSeparator))
		if inherited := os.Getenv("PATH"); inherited != "" {
			path += string(os.PathListSeparator) + inherited
		}
		env = setEnv(env, "PATH", path)
	}
	if r.ConfigDir != "" {
		if err := os.MkdirAll(r.ConfigDir, 0o700); err == nil {
			env = setEnv(env, "DOCKER_CONFIG", r.ConfigDir)
		}
	}
	return env
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// DefaultSearchPath lists the directories the engine CLI is installed into by
// the common distributions: Docker Desktop, docker-ce, Homebrew, Podman,
// Rancher Desktop, and Colima.
func DefaultSearchPath() []string {
	dirs := []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
		"/usr/bin",
		"/usr/sbin",
		"/opt/podman/bin",
		"/Applications/Docker.app/Contents/Resources/bin",
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".docker", "bin"),
			filepath.Join(home, ".rd", "bin"),
			filepath.Join(home, ".colima", "bin"),
		)
	}
	return dirs
}
