package archive

import (
	"net/url"
	"strings"
)

// SameHost reports whether u points at the origin's host. Scheme is ignored;
// default ports 80 and 443 are treated as the same port.
func SameHost(origin, u *url.URL) bool {
	if u == nil || origin == nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), origin.Hostname()) {
		return false
	}
	return effectivePort(u) == effectivePort(origin)
}

func effectivePort(u *url.URL) string {
	switch port := u.Port(); port {
	case "", "80", "443":
		return ""
	default:
		return port
	}
}
