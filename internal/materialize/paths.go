package materialize

import (
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/rewrite"
)

// ReservedDir is the staging namespace for archive metadata. Path mapping
// never produces a path inside it.
const ReservedDir = "/_archive"

// ManifestPath is where the run manifest is written.
const ManifestPath = ReservedDir + "/manifest.json"

const indexFile = "index.html"

// LocalPath maps a captured URL to its slash-separated path inside the
// staging folder. Same-origin URLs keep their path; cross-origin URLs live
// under /_external/<host>. Paths ending in "/" get index.html and the query
// string is dropped. It reports false for URLs that cannot be stored.
func LocalPath(origin *url.URL, rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" || u.Hostname() == "" {
		return "", false
	}

	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		p += indexFile
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !archive.SameHost(origin, u) {
		p = strings.TrimSuffix(rewrite.ExternalPrefix, "/") + "/" + strings.ToLower(u.Hostname()) + p
	}
	return cleanLocal(p)
}

// RoutePath is the location of a route's rendered markup.
func RoutePath(route string) string {
	if route == "" || route == "/" {
		return "/" + indexFile
	}
	return strings.TrimSuffix(route, "/") + "/" + indexFile
}

func cleanLocal(p string) (string, bool) {
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", false
	}
	if cleaned == ReservedDir || strings.HasPrefix(cleaned, ReservedDir+"/") {
		return "", false
	}
	return cleaned, true
}
