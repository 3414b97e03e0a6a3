// Package listen normalizes listen addresses for the gateway and the control
// service, renders the loopback-only docker publish flag, and owns the
// open-in-browser side effect.
package listen

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// DefaultGatewayPort is the fixed port the gateway binds unless settings ask
// for a random one.
const DefaultGatewayPort = 18789

const defaultHost = "127.0.0.1"

// Config represents a normalized listen target derived from CLI/environment
// input.
type Config struct {
	Host    string
	Port    string
	Disable bool
}

// Gateway returns the listen configuration for a gateway on the given port.
func Gateway(port int) Config {
	return Config{Host: defaultHost, Port: strconv.Itoa(port)}
}

// Parse interprets a raw listen argument. Empty strings disable listening,
// host-only values inherit the default port, and bare ports or :port forms
// override the default.
func Parse(raw string, defaultPort int) (Config, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Config{Disable: true}, nil
	}

	var host, port string

	switch {
	case strings.HasPrefix(value, "[") && strings.Contains(value, "]:"):
		closing := strings.LastIndex(value, "]:")
		host = strings.TrimSpace(value[1:closing])
		port = strings.TrimSpace(value[closing+2:])
	case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
		host = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(value, "["), "]"))
	case strings.HasPrefix(value, ":"):
		port = strings.TrimSpace(value[1:])
	case isDigits(value):
		port = value
	case strings.Contains(value, ":"):
		h, p, err := net.SplitHostPort(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid listen address %q: %w", value, err)
		}
		host = strings.TrimSpace(h)
		port = strings.TrimSpace(p)
	default:
		host = value
	}

	if port == "" {
		port = strconv.Itoa(defaultPort)
	}
	if err := validatePort(port); err != nil {
		return Config{}, err
	}
	if host == "" {
		host = defaultHost
	}

	return Config{Host: normalizeHost(host), Port: port}, nil
}

// Number returns the port as an integer, 0 when disabled or malformed.
func (c Config) Number() int {
	if c.Disable {
		return 0
	}
	n, err := strconv.Atoi(c.Port)
	if err != nil {
		return 0
	}
	return n
}

// Address returns the bind string for http.ListenAndServe.
func (c Config) Address() string {
	if c.Disable {
		return ""
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// DockerPublish returns the docker -p argument. The host side always pins to
// a concrete address; an unset host means loopback, never all interfaces.
func (c Config) DockerPublish() string {
	if c.Disable {
		return ""
	}
	host := c.Host
	if host == "" {
		host = defaultHost
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%s:%s", host, c.Port, c.Port)
}

// DisplayURL renders a human-friendly URL for CLI output and the browser
// side effect.
func (c Config) DisplayURL() string {
	if c.Disable {
		return ""
	}
	host := c.Host
	switch host {
	case "", "0.0.0.0", "127.0.0.1":
		host = "localhost"
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("http://%s:%s/", host, c.Port)
}

// RandomFreePort asks the kernel for an unused loopback TCP port. Nothing
// holds the port afterwards, so a rare collision at container start is still
// possible; the engine reports it and the user retries.
func RandomFreePort() (int, error) {
	l, err := net.Listen("tcp", defaultHost+":0")
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func validatePort(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid listen port %q", value)
	}
	return nil
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	return host
}

// OpenURL launches the default browser with the provided URL using
// platform-specific commands.
func OpenURL(url string) error {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}
	if err != nil {
		return fmt.Errorf("open browser on %s: %w", runtime.GOOS, err)
	}
	return nil
}
