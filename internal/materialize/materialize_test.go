package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/hash/sha256"
	"github.com/JakeFAU/spa-archiver/internal/rewrite"
)

func origin(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://example.com/")
	require.NoError(t, err)
	return u
}

func newMaterializer(t *testing.T) (*Materializer, string) {
	t.Helper()
	m := New(afero.NewOsFs(), t.TempDir(), sha256.New(), zap.NewNop())
	dir, err := m.Prepare("run-1")
	require.NoError(t, err)
	return m, dir
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestLocalPath(t *testing.T) {
	t.Parallel()

	o := origin(t)
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://example.com/", "/index.html", true},
		{"https://example.com", "/index.html", true},
		{"https://example.com/static/js/main.js?v=3", "/static/js/main.js", true},
		{"https://example.com/docs/", "/docs/index.html", true},
		{"https://fonts.gstatic.com/s/inter.woff2", "/_external/fonts.gstatic.com/s/inter.woff2", true},
		{"https://cdn.other.com/", "/_external/cdn.other.com/index.html", true},
		{"https://example.com/../../etc/passwd", "/etc/passwd", true},
		{"https://example.com/_archive/manifest.json", "", false},
		{"data:image/png;base64,AAA", "", false},
	}
	for _, tc := range cases {
		got, ok := LocalPath(o, tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.raw)
		}
	}
}

func TestRoutePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/index.html", RoutePath("/"))
	assert.Equal(t, "/about/index.html", RoutePath("/about"))
	assert.Equal(t, "/a/b/index.html", RoutePath("/a/b/"))
}

func TestMaterializeWritesResourcesRoutesAndManifest(t *testing.T) {
	t.Parallel()

	m, dir := newMaterializer(t)
	o := origin(t)
	in := Input{
		RunID:      "run-1",
		Target:     "https://example.com/",
		Origin:     o,
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Resources: []archive.CapturedResource{
			{URL: "https://example.com/", Type: archive.ResourceDocument, Body: []byte("<html>shell</html>")},
			{URL: "https://example.com/static/js/main.js", Type: archive.ResourceScript, Body: []byte(`fetch("https://example.com/api/x")`)},
			{URL: "https://example.com/logo.png", Type: archive.ResourceImage, Body: []byte{0x89, 'P', 'N', 'G'}},
			{URL: "https://cdn.other.com/lib.css", Type: archive.ResourceStylesheet, Body: []byte(`a{background:url(https://example.com/bg.png)}`)},
		},
		Routes: []archive.RouteRecord{
			{Path: "/", Markup: `<!DOCTYPE html><html><script src="https://example.com/static/js/main.js"></script></html>`},
			{Path: "/about", Markup: "<html>about</html>"},
		},
		Abandoned: []string{"/broken"},
		Rewriter:  rewrite.New(o, nil, nil),
	}

	stats, err := m.Materialize(context.Background(), dir, in)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Files)
	assert.Zero(t, stats.RewriteFailures)

	assert.Equal(t, `<!DOCTYPE html><html><script src="/static/js/main.js"></script></html>`, readFile(t, dir, "index.html"))
	assert.Equal(t, `fetch("/api/x")`, readFile(t, dir, "static/js/main.js"))
	assert.Equal(t, "\x89PNG", readFile(t, dir, "logo.png"))
	assert.Equal(t, `a{background:url(/bg.png)}`, readFile(t, dir, "_external/cdn.other.com/lib.css"))
	assert.Equal(t, "<html>about</html>", readFile(t, dir, "about/index.html"))

	var manifest Manifest
	require.NoError(t, json.Unmarshal([]byte(readFile(t, dir, "_archive/manifest.json")), &manifest))
	assert.Equal(t, "run-1", manifest.RunID)
	assert.Equal(t, []string{"/broken"}, manifest.Abandoned)
	require.Len(t, manifest.Routes, 2)
	assert.Equal(t, "/about", manifest.Routes[1].Path)
	require.Len(t, manifest.Files, 6)
	assert.Len(t, manifest.Files[0].SHA256, 64)
}

func TestMaterializeFileBlocksDirectory(t *testing.T) {
	t.Parallel()

	m, dir := newMaterializer(t)
	o := origin(t)
	in := Input{
		Origin: o,
		Resources: []archive.CapturedResource{
			{URL: "https://example.com/docs", Type: archive.ResourceOther, Body: []byte("plain file")},
			{URL: "https://example.com/docs/guide.css", Type: archive.ResourceOther, Body: []byte("css")},
		},
	}

	stats, err := m.Materialize(context.Background(), dir, in)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Collisions)
	info, err := os.Stat(filepath.Join(dir, "docs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "css", readFile(t, dir, "docs/guide.css"))
}

func TestMaterializeDirectoryBlocksFile(t *testing.T) {
	t.Parallel()

	m, dir := newMaterializer(t)
	in := Input{
		Origin: origin(t),
		Resources: []archive.CapturedResource{
			{URL: "https://example.com/docs/guide.css", Type: archive.ResourceOther, Body: []byte("css")},
			{URL: "https://example.com/docs", Type: archive.ResourceOther, Body: []byte("plain file")},
		},
	}

	stats, err := m.Materialize(context.Background(), dir, in)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Collisions)
	assert.Equal(t, "plain file", readFile(t, dir, "docs/index.html"))
	assert.Equal(t, "css", readFile(t, dir, "docs/guide.css"))
}

func TestMaterializeLastCaptureWins(t *testing.T) {
	t.Parallel()

	m, dir := newMaterializer(t)
	in := Input{
		Origin: origin(t),
		Resources: []archive.CapturedResource{
			{URL: "https://example.com/data.json", Type: archive.ResourceFetch, Body: []byte(`{"v":2}`)},
		},
	}
	_, err := m.Materialize(context.Background(), dir, in)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, readFile(t, dir, "data.json"))
}

type failingRewriter struct{}

func (failingRewriter) Rewrite(rewrite.Kind, []byte) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestMaterializeRewriteFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	m, dir := newMaterializer(t)
	body := `fetch("https://example.com/api")`
	in := Input{
		Origin:    origin(t),
		Resources: []archive.CapturedResource{{URL: "https://example.com/app.js", Type: archive.ResourceScript, Body: []byte(body)}},
		Routes:    []archive.RouteRecord{{Path: "/", Markup: "<html></html>"}},
		Rewriter:  failingRewriter{},
	}

	stats, err := m.Materialize(context.Background(), dir, in)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RewriteFailures)
	assert.Equal(t, body, readFile(t, dir, "app.js"))
	assert.Equal(t, "<html></html>", readFile(t, dir, "index.html"))
}

func TestPrepareAndDiscard(t *testing.T) {
	t.Parallel()

	m, dir := newMaterializer(t)
	assert.True(t, strings.Contains(filepath.Base(dir), "run-1"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0o600))
	require.NoError(t, m.Discard(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, m.Discard(""))
}

func TestMaterializeRejectsMissingDir(t *testing.T) {
	t.Parallel()

	m := New(afero.NewMemMapFs(), "/staging", nil, zap.NewNop())
	_, err := m.Materialize(context.Background(), "/staging/missing", Input{Origin: origin(t)})
	require.Error(t, err)
}
