package engine

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestRunCapturesStreamsAndExitCode(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{}
	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
	if got := strings.TrimSpace(res.Stdout); got != "out" {
		t.Fatalf("stdout = %q, want %q", got, "out")
	}
	if got := strings.TrimSpace(res.Stderr); got != "err" {
		t.Fatalf("stderr = %q, want %q", got, "err")
	}
}

func TestRunZeroExit(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{}
	res, err := r.Run(context.Background(), "sh", "-c", "echo ok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if got := strings.TrimSpace(res.Stdout); got != "ok" {
		t.Fatalf("stdout = %q, want %q", got, "ok")
	}
}

func TestRunMissingBinaryIsError(t *testing.T) {
	t.Parallel()

	r := &ExecRunner{}
	if _, err := r.Run(context.Background(), "/nonexistent/clawdock-test-binary"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestRunLargeOutputDoesNotDeadlock(t *testing.T) {
	t.Parallel()

	// Both streams exceed a typical 64 KiB pipe buffer.
	r := &ExecRunner{}
	script := "yes x | head -c 200000; yes y | head -c 200000 1>&2"
	res, err := r.Run(context.Background(), "sh", "-c", script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Stdout) != 200000 {
		t.Fatalf("stdout length = %d, want 200000", len(res.Stdout))
	}
	if len(res.Stderr) != 200000 {
		t.Fatalf("stderr length = %d, want 200000", len(res.Stderr))
	}
}

func TestEnvironPrependsSearchPath(t *testing.T) {
	r := &ExecRunner{SearchPath: []string{"/fake/engine/bin"}}
	env := r.environ()

	var path string
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
			break
		}
	}
	if path == "" {
		t.Fatal("PATH missing from environment")
	}
	first := strings.Split(path, string(os.PathListSeparator))[0]
	if first != "/fake/engine/bin" {
		t.Fatalf("first PATH entry = %q, want %q", first, "/fake/engine/bin")
	}
	if inherited := os.Getenv("PATH"); inherited != "" && !strings.Contains(path, inherited) {
		t.Fatal("inherited PATH entries were dropped")
	}
}

func TestEnvironIsolatesEngineConfig(t *testing.T) {
	dir := t.TempDir()
	r := &ExecRunner{ConfigDir: dir}
	env := r.environ()

	want := "DOCKER_CONFIG=" + dir
	for _, kv := range env {
		if kv == want {
			return
		}
	}
	t.Fatalf("environment missing %q", want)
}

func TestSetEnvReplacesExisting(t *testing.T) {
	t.Parallel()

	env := []string{"A=1", "PATH=/old", "B=2"}
	env = setEnv(env, "PATH", "/new")
	if len(env) != 3 {
		t.Fatalf("len = %d, want 3", len(env))
	}
	if env[1] != "PATH=/new" {
		t.Fatalf("env[1] = %q, want %q", env[1], "PATH=/new")
	}
}

func TestResultOutputCombinesStreams(t *testing.T) {
	t.Parallel()

	res := Result{Stdout: "out\n", Stderr: "err\n"}
	if got := res.Output(); got != "out\nerr" {
		t.Fatalf("Output() = %q, want %q", got, "out\nerr")
	}
	res = Result{Stderr: "only err\n"}
	if got := res.Output(); got != "only err" {
		t.Fatalf("Output() = %q, want %q", got, "only err")
	}
}
