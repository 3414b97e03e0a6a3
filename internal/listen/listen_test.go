package listen

import (
	"net"
	"strconv"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		wantHost string
		wantPort string
		disable  bool
		wantErr  bool
	}{
		{in: "", disable: true},
		{in: "9000", wantHost: "127.0.0.1", wantPort: "9000"},
		{in: ":9000", wantHost: "127.0.0.1", wantPort: "9000"},
		{in: "0.0.0.0:9000", wantHost: "0.0.0.0", wantPort: "9000"},
		{in: "localhost", wantHost: "localhost", wantPort: "18789"},
		{in: "[::1]:9000", wantHost: "::1", wantPort: "9000"},
		{in: "host:bad", wantErr: true},
		{in: ":0", wantErr: true},
		{in: ":70000", wantErr: true},
	}

	for _, tc := range cases {
		cfg, err := Parse(tc.in, DefaultGatewayPort)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Parse(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if cfg.Disable != tc.disable {
			t.Fatalf("Parse(%q): disable = %v, want %v", tc.in, cfg.Disable, tc.disable)
		}
		if tc.disable {
			continue
		}
		if cfg.Host != tc.wantHost || cfg.Port != tc.wantPort {
			t.Fatalf("Parse(%q) = %s:%s, want %s:%s", tc.in, cfg.Host, cfg.Port, tc.wantHost, tc.wantPort)
		}
	}
}

func TestDockerPublishPinsLoopback(t *testing.T) {
	t.Parallel()

	cfg := Gateway(18789)
	if got := cfg.DockerPublish(); got != "127.0.0.1:18789:18789" {
		t.Fatalf("DockerPublish = %q", got)
	}

	// Even an unset host must not publish on all interfaces.
	cfg = Config{Port: "9000"}
	if got := cfg.DockerPublish(); got != "127.0.0.1:9000:9000" {
		t.Fatalf("DockerPublish = %q", got)
	}
}

func TestDisplayURL(t *testing.T) {
	t.Parallel()

	if got := Gateway(18789).DisplayURL(); got != "http://localhost:18789/" {
		t.Fatalf("DisplayURL = %q", got)
	}
	cfg := Config{Host: "::1", Port: "9000"}
	if got := cfg.DisplayURL(); got != "http://[::1]:9000/" {
		t.Fatalf("DisplayURL = %q", got)
	}
}

func TestNumber(t *testing.T) {
	t.Parallel()

	if got := Gateway(18789).Number(); got != 18789 {
		t.Fatalf("Number = %d", got)
	}
	if got := (Config{Disable: true}).Number(); got != 0 {
		t.Fatalf("Number on disabled = %d", got)
	}
}

func TestRandomFreePort(t *testing.T) {
	t.Parallel()

	port, err := RandomFreePort()
	if err != nil {
		t.Fatalf("RandomFreePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("port %d out of range", port)
	}
	// The port was free a moment ago; binding it again should succeed.
	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("rebind %d: %v", port, err)
	}
	l.Close()
}
