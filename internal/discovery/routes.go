package discovery

import (
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// RouteSet is an insertion-ordered set of normalized route paths with a cap.
// Candidates added after the cap is reached are counted and dropped.
type RouteSet struct {
	max     int
	order   []string
	seen    map[string]struct{}
	dropped int
}

// NewRouteSet returns an empty set holding at most max routes. A max of zero
// or less means unbounded.
func NewRouteSet(max int) *RouteSet {
	return &RouteSet{max: max, seen: make(map[string]struct{})}
}

// Add inserts route if it is new and the cap allows. It reports whether the
// route was inserted.
func (s *RouteSet) Add(route string) bool {
	if _, ok := s.seen[route]; ok {
		return false
	}
	if s.max > 0 && len(s.order) >= s.max {
		s.dropped++
		return false
	}
	s.seen[route] = struct{}{}
	s.order = append(s.order, route)
	return true
}

// Contains reports whether route was accepted.
func (s *RouteSet) Contains(route string) bool {
	_, ok := s.seen[route]
	return ok
}

// Paths returns the accepted routes in discovery order.
func (s *RouteSet) Paths() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of accepted routes.
func (s *RouteSet) Len() int { return len(s.order) }

// Dropped returns how many distinct candidates were discarded by the cap.
func (s *RouteSet) Dropped() int { return s.dropped }

// Normalize turns a raw candidate into an origin-relative route path. It
// accepts root-relative paths and absolute URLs on the origin's host, strips
// query and fragment, trims trailing slashes, decodes percent-escapes and
// rejects parameterized or wildcard patterns. The homepage normalizes to "/".
func Normalize(origin *url.URL, raw string) (string, bool) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", false
	}

	lower := strings.ToLower(candidate)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(candidate, "//"):
		if strings.HasPrefix(candidate, "//") {
			candidate = origin.Scheme + ":" + candidate
		}
		u, err := url.Parse(candidate)
		if err != nil || !archive.SameHost(origin, u) {
			return "", false
		}
		candidate = u.EscapedPath()
		if candidate == "" {
			candidate = "/"
		}
	case strings.HasPrefix(candidate, "/"):
		if idx := strings.IndexAny(candidate, "?#"); idx >= 0 {
			candidate = candidate[:idx]
		}
	default:
		return "", false
	}

	if candidate == "" || strings.ContainsAny(candidate, ":*") {
		return "", false
	}
	if strings.ContainsAny(candidate, " \t\r\n\"'`<>{}\\$") {
		return "", false
	}
	// Routes are kept decoded, the same form as url.URL.Path, so building a
	// URL from one escapes it exactly once.
	decoded, err := url.PathUnescape(candidate)
	if err != nil || strings.ContainsAny(decoded, ":*\x00") {
		return "", false
	}
	cleaned := path.Clean(decoded)
	if cleaned == "." {
		cleaned = "/"
	}
	return cleaned, true
}
