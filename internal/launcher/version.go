package launcher

import "strings"

var productVersion = "dev"

// SetVersion sets the human-readable clawdock version used in CLI output.
func SetVersion(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	productVersion = v
}

// Version returns the v-prefixed version for display and telemetry.
func Version() string {
	return versionTag()
}

func versionTag() string {
	v := strings.TrimSpace(productVersion)
	if v == "" || v == "dev" {
		return "dev"
	}
	if strings.HasPrefix(strings.ToLower(v), "v") {
		return v
	}
	return "v" + v
}
