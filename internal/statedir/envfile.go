package statedir

import (
	"fmt"
	"os"
	"strings"
)

// The env file holds exactly two keys. It is consumed both by the launcher
// on reload and by the container engine via --env-file, so it stays in plain
// KEY=VALUE form.

func writeEnvFile(path, token string, port int) error {
	content := fmt.Sprintf("GATEWAY_TOKEN=%s\nPORT=%d\n", token, port)
	return writeFileAtomic(path, []byte(content), 0o600)
}

func parseEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	values := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values, nil
}
