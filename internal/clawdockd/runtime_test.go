package clawdockd

import (
	"os"
	"strings"
	"testing"
)

func clearEnv(t *testing.T, key string) {
	t.Helper()
	old, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if err := os.Setenv(key, old); err != nil {
			t.Fatalf("restore env %s: %v", key, err)
		}
	})
}

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, ok := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if !ok {
			if err := os.Unsetenv(key); err != nil {
				t.Fatalf("unset env %s: %v", key, err)
			}
			return
		}
		if err := os.Setenv(key, old); err != nil {
			t.Fatalf("restore env %s: %v", key, err)
		}
	})
}

func TestParseConfigDefaults(t *testing.T) {
	clearEnv(t, "CLAWDOCK_STATE_DIR")
	clearEnv(t, "CLAWDOCK_LISTEN")

	cfg, err := parseConfig([]string{"clawdockd"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Bind != defaultBind {
		t.Fatalf("bind = %q, want %q", cfg.Bind, defaultBind)
	}
	if cfg.StateDir != "" {
		t.Fatalf("state dir = %q, want empty", cfg.StateDir)
	}
	if cfg.Autostart {
		t.Fatal("autostart should default off")
	}
}

func TestParseConfigListenFlag(t *testing.T) {
	clearEnv(t, "CLAWDOCK_LISTEN")

	cfg, err := parseConfig([]string{"clawdockd", "-listen", ":9999"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Bind != "127.0.0.1:9999" {
		t.Fatalf("bind = %q, want 127.0.0.1:9999", cfg.Bind)
	}
}

func TestParseConfigListenEnvFallback(t *testing.T) {
	setEnv(t, "CLAWDOCK_LISTEN", "localhost:7777")

	cfg, err := parseConfig([]string{"clawdockd"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Bind != "127.0.0.1:7777" {
		t.Fatalf("bind = %q, want 127.0.0.1:7777", cfg.Bind)
	}
}

func TestParseConfigFlagOverridesEnv(t *testing.T) {
	setEnv(t, "CLAWDOCK_LISTEN", "127.0.0.1:7777")

	cfg, err := parseConfig([]string{"clawdockd", "-l", "127.0.0.1:8888"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Bind != "127.0.0.1:8888" {
		t.Fatalf("bind = %q, want 127.0.0.1:8888", cfg.Bind)
	}
}

func TestParseConfigStateDirFromEnv(t *testing.T) {
	setEnv(t, "CLAWDOCK_STATE_DIR", "/tmp/clawdock-test-state")

	cfg, err := parseConfig([]string{"clawdockd"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.StateDir != "/tmp/clawdock-test-state" {
		t.Fatalf("state dir = %q", cfg.StateDir)
	}
}

func TestParseConfigAutostart(t *testing.T) {
	clearEnv(t, "CLAWDOCK_LISTEN")

	cfg, err := parseConfig([]string{"clawdockd", "-autostart"})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if !cfg.Autostart {
		t.Fatal("autostart flag not honored")
	}
}

func TestParseConfigRejectsExtraArguments(t *testing.T) {
	clearEnv(t, "CLAWDOCK_LISTEN")

	_, err := parseConfig([]string{"clawdockd", "stray"})
	if err == nil {
		t.Fatal("expected error for extra arguments")
	}
}

func TestNormalizeBind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{":18790", "127.0.0.1:18790"},
		{"18790", "127.0.0.1:18790"},
		{"localhost:8080", "127.0.0.1:8080"},
		{"127.0.0.1:4000", "127.0.0.1:4000"},
		{"[::1]:4000", "[::1]:4000"},
	}
	for _, tc := range cases {
		got, err := normalizeBind(tc.in)
		if err != nil {
			t.Fatalf("normalizeBind(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("normalizeBind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeBindRejectsNonLoopback(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"0.0.0.0:18790", "192.168.1.5:18790", "example.com:80", "", ":", "127.0.0.1:abc"} {
		if _, err := normalizeBind(in); err == nil {
			t.Fatalf("normalizeBind(%q) should fail", in)
		}
	}
}

func TestNormalizeBindErrorMentionsLoopback(t *testing.T) {
	t.Parallel()

	_, err := normalizeBind("0.0.0.0:18790")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "loopback") {
		t.Fatalf("error %q should explain the loopback requirement", err)
	}
}
