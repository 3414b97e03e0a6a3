// Package openflag interprets the environment toggle that gates the
// launcher's open-in-browser side effect.
package openflag

import "strings"

// BrowserEnabled reports whether the launcher may open the gateway URL in a
// browser. Setting CLAWDOCK_NO_OPEN to a truthy value suppresses it; unset
// or falsy means allowed.
func BrowserEnabled(getenv func(string) string) bool {
	return !IsTruthy(getenv("CLAWDOCK_NO_OPEN"))
}

// IsTruthy returns true when the provided value matches an accepted truthy
// form for the CLAWDOCK_NO_OPEN environment variable.
func IsTruthy(value string) bool {
	trimmed := strings.TrimSpace(value)
	switch strings.ToLower(trimmed) {
	case "1", "t", "true":
		return true
	default:
		return false
	}
}
