package capture

import (
	"sync"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// Registry is the per-run store of captured response bodies keyed by URL.
// A later capture of the same URL replaces the earlier body but keeps the
// URL's first-seen position, so iteration order is deterministic.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]archive.CapturedResource
	order     []string
	routes    map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]archive.CapturedResource),
		routes:    make(map[string]struct{}),
	}
}

// Put stores res, replacing any earlier capture of the same URL.
func (r *Registry) Put(res archive.CapturedResource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.URL]; !exists {
		r.order = append(r.order, res.URL)
	}
	r.resources[res.URL] = res
}

// Get returns the capture for url.
func (r *Registry) Get(url string) (archive.CapturedResource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[url]
	return res, ok
}

// Resources returns every capture in first-seen order.
func (r *Registry) Resources() []archive.CapturedResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]archive.CapturedResource, 0, len(r.order))
	for _, u := range r.order {
		out = append(out, r.resources[u])
	}
	return out
}

// Scripts returns the captured script bodies in first-seen order.
func (r *Registry) Scripts() []archive.CapturedResource {
	all := r.Resources()
	out := all[:0]
	for _, res := range all {
		if res.Type == archive.ResourceScript {
			out = append(out, res)
		}
	}
	return out
}

// Len returns the number of distinct URLs captured.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetRoutes records the discovered route paths. Document responses for these
// paths are skipped from then on because their rendered markup is captured
// separately.
func (r *Registry) SetRoutes(paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range paths {
		r.routes[p] = struct{}{}
	}
}

// IsRoute reports whether path is a discovered route.
func (r *Registry) IsRoute(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[path]
	return ok
}
