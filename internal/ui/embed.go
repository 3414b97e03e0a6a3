// Package ui serves the daemon's embedded status page.
package ui

import "embed"

//go:embed dist
var Dir embed.FS
