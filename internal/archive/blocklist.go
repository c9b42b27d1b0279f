package archive

import "strings"

// HostBlocklist stores exact hosts and suffix wildcards derived from configuration.
// A bare entry such as "google-analytics.com" matches the host and its subdomains,
// "=host" matches only the exact host.
type HostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostBlocklist builds a blocklist. It returns nil when no usable pattern is given;
// a nil blocklist blocks nothing.
func NewHostBlocklist(patterns []string) *HostBlocklist {
	matcher := &HostBlocklist{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "="):
			if exact := strings.TrimPrefix(value, "="); exact != "" {
				matcher.exact[exact] = struct{}{}
			}
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		default:
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (b *HostBlocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host (without port) matches any entry.
func (b *HostBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// DefaultAnalyticsHosts lists tracking and ad hosts that never function offline.
var DefaultAnalyticsHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"analytics.google.com",
	"connect.facebook.net",
	"pixel.facebook.com",
	"an.facebook.com",
	"hotjar.com",
	"segment.io",
	"segment.com",
	"mixpanel.com",
	"amplitude.com",
	"plausible.io",
	"clarity.ms",
	"sentry.io",
	"intercom.io",
	"fullstory.com",
	"heapanalytics.com",
	"posthog.com",
}
