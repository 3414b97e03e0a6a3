package ui

import "strings"

// ComposeTitle builds the status page <title>, appending the container name
// when it differs from the default.
func ComposeTitle(container string) string {
	base := "OpenClaw Launcher"
	container = strings.TrimSpace(container)
	if container != "" && container != "openclaw-gateway" {
		base += " | " + container
	}
	return base
}
