// Package discovery finds the client-side routes of a single-page application
// from its rendered homepage markup and captured script bundles.
package discovery

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxRoutes     = 50
	DefaultMinPathLength = 2
	DefaultMaxPathLength = 64
)

// DefaultReservedPrefixes are asset and API namespaces that bundle literals
// commonly reference but that are never client-side routes.
var DefaultReservedPrefixes = []string{
	"/static", "/assets", "/api", "/_next", "/_nuxt", "/js", "/css",
	"/img", "/images", "/fonts", "/media", "/favicon", "/_external", "/_archive",
}

// Config bounds discovery.
type Config struct {
	MaxRoutes        int
	ReservedPrefixes []string
	MinPathLength    int
	MaxPathLength    int
}

func (c Config) withDefaults() Config {
	if c.MaxRoutes == 0 {
		c.MaxRoutes = DefaultMaxRoutes
	}
	if c.ReservedPrefixes == nil {
		c.ReservedPrefixes = DefaultReservedPrefixes
	}
	if c.MinPathLength == 0 {
		c.MinPathLength = DefaultMinPathLength
	}
	if c.MaxPathLength == 0 {
		c.MaxPathLength = DefaultMaxPathLength
	}
	return c
}

const literal = "[\"'`]"

// routerPatterns match route literals in router configuration and navigation
// calls: `path: "/x"`, `to="/x"`, `navigate("/x")` and `<Route path="/x">`.
var routerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bpath\s*:\s*` + literal + "(/[^\"'`\\s]*)" + literal),
	regexp.MustCompile(`\bto\s*[=:]\s*\{?\s*` + literal + "(/[^\"'`\\s]*)" + literal),
	regexp.MustCompile(`\bnavigate\s*\(\s*` + literal + "(/[^\"'`\\s]*)" + literal),
	regexp.MustCompile(`<Route\b[^>]*?\bpath\s*=\s*\{?\s*` + literal + "(/[^\"'`\\s]*)" + literal),
}

// bareLiteralPattern is the conservative fallback for bundles: a quoted
// lowercase path made of word characters, dashes and slashes only.
var bareLiteralPattern = regexp.MustCompile(`["'](/[a-z0-9][a-z0-9_\-/]*)["']`)

// Discoverer extracts route candidates.
type Discoverer struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Discoverer.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg.withDefaults(), logger: logger}
}

// Discover returns the ordered, capped set of routes found in the homepage
// markup and the captured script bundles. DOM-derived candidates come first,
// then bundle-derived ones in bundle capture order. The homepage itself is
// never part of the result.
func (d *Discoverer) Discover(origin *url.URL, markup string, bundles []archive.CapturedResource) *RouteSet {
	set := NewRouteSet(d.cfg.MaxRoutes)
	add := func(raw string, fromBundle bool) {
		route, ok := Normalize(origin, raw)
		if !ok || route == "/" {
			return
		}
		if fromBundle && !set.Contains(route) && !d.acceptBundleRoute(route) {
			return
		}
		set.Add(route)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		d.logger.Warn("homepage markup could not be parsed for discovery", zap.Error(err))
	} else {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			add(href, false)
		})
		doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
			if _, external := sel.Attr("src"); external {
				return
			}
			for _, candidate := range matchInOrder(sel.Text(), routerPatterns) {
				add(candidate, false)
			}
		})
	}

	bundlePatterns := append(append([]*regexp.Regexp{}, routerPatterns...), bareLiteralPattern)
	for _, bundle := range bundles {
		for _, candidate := range matchInOrder(string(bundle.Body), bundlePatterns) {
			add(candidate, true)
		}
	}

	if set.Dropped() > 0 {
		d.logger.Info("route cap reached, extra candidates dropped",
			zap.Int("max_routes", d.cfg.MaxRoutes),
			zap.Int("dropped", set.Dropped()),
		)
	}
	d.logger.Debug("routes discovered", zap.Int("count", set.Len()))
	return set
}

func (d *Discoverer) acceptBundleRoute(route string) bool {
	if len(route) < d.cfg.MinPathLength || len(route) > d.cfg.MaxPathLength {
		return false
	}
	lower := strings.ToLower(route)
	for _, prefix := range d.cfg.ReservedPrefixes {
		prefix = strings.TrimRight(strings.ToLower(prefix), "/")
		if prefix == "" {
			continue
		}
		if lower == prefix || strings.HasPrefix(lower, prefix+"/") {
			return false
		}
	}
	if strings.Contains(lower[strings.LastIndex(lower, "/"):], ".") {
		return false
	}
	return true
}

// matchInOrder runs every pattern over text and returns capture group 1 of
// each match ordered by position, so the result follows source order.
func matchInOrder(text string, patterns []*regexp.Regexp) []string {
	type hit struct {
		pos   int
		value string
	}
	var hits []hit
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			hits = append(hits, hit{pos: m[2], value: text[m[2]:m[3]]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.value)
	}
	return out
}
