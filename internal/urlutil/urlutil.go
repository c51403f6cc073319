// Package urlutil provides small URL helpers for redirect handling.
package urlutil

import "strings"

// SafeLocalPath returns next if it is a same-site path suitable as a
// redirect target, otherwise fallback. Absolute URLs, protocol-relative
// URLs ("//evil.example") and anything not starting with "/" are rejected
// so a tampered next parameter cannot bounce the browser off-site.
func SafeLocalPath(next, fallback string) string {
	if !strings.HasPrefix(next, "/") {
		return fallback
	}
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	if strings.ContainsAny(next, "\r\n") {
		return fallback
	}
	return next
}
