package engine

import (
	"slices"
	"strings"
	"testing"
)

func TestRunSpecArgsLockdownFlags(t *testing.T) {
	t.Parallel()

	spec := RunSpec{
		Name:    "openclaw-gateway",
		Image:   "ghcr.io/openclaw/openclaw:latest",
		Publish: "127.0.0.1:18789:18789",
		EnvFile: "/state/.env",
		Volumes: []string{"/state/config:/home/claw/.openclaw"},
		Limits:  DefaultLimits(),
		Command: []string{"gateway", "--port", "18789"},
	}
	args := spec.Args()

	for _, required := range [][]string{
		{"--read-only"},
		{"--cap-drop", "ALL"},
		{"--cap-add", "NET_BIND_SERVICE"},
		{"--security-opt", "no-new-privileges"},
		{"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m"},
		{"--restart", "unless-stopped"},
		{"--memory", "2g"},
		{"--cpus", "2"},
		{"--pids-limit", "256"},
		{"-p", "127.0.0.1:18789:18789"},
		{"--env-file", "/state/.env"},
		{"-v", "/state/config:/home/claw/.openclaw"},
	} {
		if !containsSequence(args, required) {
			t.Fatalf("args missing %v\nargs: %v", required, args)
		}
	}

	// The image must come before the command override, and the override last.
	imageIdx := slices.Index(args, spec.Image)
	if imageIdx == -1 {
		t.Fatalf("image missing from args: %v", args)
	}
	if got := args[len(args)-3:]; !slices.Equal(got, spec.Command) {
		t.Fatalf("command override = %v, want %v", got, spec.Command)
	}
	if args[0] != "run" || args[1] != "-d" {
		t.Fatalf("args must start with run -d, got %v", args[:2])
	}
}

func TestRunSpecArgsOmitsUnsetLimits(t *testing.T) {
	t.Parallel()

	spec := RunSpec{Name: "openclaw-gateway", Image: "img"}
	joined := strings.Join(spec.Args(), " ")
	for _, flag := range []string{"--memory", "--cpus", "--pids-limit", "-p ", "--env-file", "-v "} {
		if strings.Contains(joined, flag) {
			t.Fatalf("args unexpectedly contain %q: %s", flag, joined)
		}
	}
}

func containsSequence(args, seq []string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		if slices.Equal(args[i:i+len(seq)], seq) {
			return true
		}
	}
	return false
}
