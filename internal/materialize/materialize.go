// Package materialize writes a capture run's registry and route markup into a
// run-scoped staging folder that can be served as a static site.
package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/metrics"
	"github.com/JakeFAU/spa-archiver/internal/rewrite"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// Rewriter localizes URLs in text of a given kind.
type Rewriter interface {
	Rewrite(kind rewrite.Kind, body []byte) ([]byte, error)
}

// Input is everything a run hands to the materializer.
type Input struct {
	RunID      string
	Target     string
	Origin     *url.URL
	CapturedAt time.Time
	Resources  []archive.CapturedResource
	Routes     []archive.RouteRecord
	Abandoned  []string
	Rewriter   Rewriter
}

// Stats summarizes what was written.
type Stats struct {
	Files           int
	Rewritten       int
	RewriteFailures int
	Collisions      int
	Skipped         int
}

// Manifest is written to ManifestPath in every staging folder.
type Manifest struct {
	RunID      string                `json:"run_id"`
	Target     string                `json:"target"`
	CapturedAt time.Time             `json:"captured_at"`
	Routes     []archive.RouteRecord `json:"routes"`
	Abandoned  []string              `json:"abandoned"`
	Files      []ManifestFile        `json:"files"`
}

// ManifestFile maps one captured URL to its stored location.
type ManifestFile struct {
	URL    string `json:"url"`
	Path   string `json:"path"`
	Type   string `json:"type,omitempty"`
	SHA256 string `json:"sha256"`
}

// Materializer owns the staging root.
type Materializer struct {
	fs      afero.Fs
	baseDir string
	hasher  archive.Hasher
	logger  *zap.Logger
}

// New returns a Materializer that creates run folders under baseDir on fsys.
func New(fsys afero.Fs, baseDir string, hasher archive.Hasher, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{fs: fsys, baseDir: baseDir, hasher: hasher, logger: logger}
}

// Prepare creates an empty run-scoped staging folder.
func (m *Materializer) Prepare(runID string) (string, error) {
	if m.baseDir != "" {
		if err := m.fs.MkdirAll(m.baseDir, dirPerm); err != nil {
			return "", fmt.Errorf("create staging root: %w", err)
		}
	}
	dir, err := afero.TempDir(m.fs, m.baseDir, "archive-"+runID+"-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// Discard removes a staging folder and everything in it.
func (m *Materializer) Discard(dir string) error {
	if dir == "" {
		return nil
	}
	if err := m.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}

// Materialize writes every resource in registry order, then each route's
// markup at <route>/index.html, then the manifest. A resource that fails to
// rewrite is written unmodified; a file that cannot be written is skipped.
// Only staging-level failures (unusable root, manifest) are returned.
func (m *Materializer) Materialize(ctx context.Context, dir string, in Input) (Stats, error) {
	var stats Stats
	info, err := m.fs.Stat(dir)
	if err != nil {
		return stats, fmt.Errorf("stat staging dir: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("staging path %s is not a directory", dir)
	}

	manifest := Manifest{
		RunID:      in.RunID,
		Target:     in.Target,
		CapturedAt: in.CapturedAt,
		Routes:     in.Routes,
		Abandoned:  in.Abandoned,
	}
	if manifest.Abandoned == nil {
		manifest.Abandoned = []string{}
	}

	for _, res := range in.Resources {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("materialize: %w", err)
		}
		rel, ok := LocalPath(in.Origin, res.URL)
		if !ok {
			stats.Skipped++
			m.logger.Debug("resource has no local path", zap.String("url", res.URL))
			continue
		}
		body := m.rewrite(in.Rewriter, rewrite.Classify(res), res.Body, res.URL, &stats)
		written, err := m.write(dir, rel, body, &stats)
		if err != nil {
			stats.Skipped++
			m.logger.Warn("write resource failed", zap.String("url", res.URL), zap.String("path", rel), zap.Error(err))
			continue
		}
		manifest.Files = append(manifest.Files, m.entry(res.URL, written, string(res.Type), body))
	}

	for _, route := range in.Routes {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("materialize: %w", err)
		}
		rel := RoutePath(route.Path)
		body := m.rewrite(in.Rewriter, rewrite.KindMarkup, []byte(route.Markup), route.Path, &stats)
		written, err := m.write(dir, rel, body, &stats)
		if err != nil {
			stats.Skipped++
			m.logger.Warn("write route markup failed", zap.String("route", route.Path), zap.Error(err))
			continue
		}
		manifest.Files = append(manifest.Files, m.entry(route.Path, written, "Route", body))
	}

	if err := m.writeManifest(dir, manifest); err != nil {
		return stats, err
	}
	return stats, nil
}

func (m *Materializer) rewrite(r Rewriter, kind rewrite.Kind, body []byte, source string, stats *Stats) []byte {
	if r == nil || kind == rewrite.KindBinary {
		return body
	}
	out, err := r.Rewrite(kind, body)
	if err != nil {
		stats.RewriteFailures++
		metrics.ObserveRewriteFailure(string(kind))
		m.logger.Warn("rewrite failed, writing original bytes",
			zap.String("source", source),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return body
	}
	stats.Rewritten++
	return out
}

func (m *Materializer) entry(source, rel, kind string, body []byte) ManifestFile {
	file := ManifestFile{URL: source, Path: rel, Type: kind}
	if m.hasher != nil {
		if digest, err := m.hasher.Hash(body); err == nil {
			file.SHA256 = digest
		}
	}
	return file
}

// write stores body at rel under dir, resolving collisions: a file standing
// where a directory is needed is replaced by the directory, and a write to a
// path that is already a directory lands in that directory's index.html
// unless one exists. It returns the slash path actually written.
func (m *Materializer) write(dir, rel string, body []byte, stats *Stats) (string, error) {
	target, err := m.resolve(dir, rel)
	if err != nil {
		return "", err
	}
	if err := m.ensureDirs(dir, path.Dir(rel), stats); err != nil {
		return "", err
	}

	info, err := m.fs.Stat(target)
	switch {
	case err == nil && info.IsDir():
		stats.Collisions++
		metrics.ObserveCollision()
		indexRel := path.Join(rel, indexFile)
		indexTarget := filepath.Join(target, indexFile)
		if _, statErr := m.fs.Stat(indexTarget); statErr == nil {
			m.logger.Debug("directory already has an index, dropping file", zap.String("path", rel))
			return "", fmt.Errorf("path %s is a directory with an index", rel)
		}
		m.logger.Debug("file path is a directory, writing index", zap.String("path", indexRel))
		target, rel = indexTarget, indexRel
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}

	if err := afero.WriteFile(m.fs, target, body, filePerm); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	stats.Files++
	return rel, nil
}

// ensureDirs creates each component of relDir, replacing any plain file that
// occupies a component.
func (m *Materializer) ensureDirs(dir, relDir string, stats *Stats) error {
	current := dir
	for _, part := range strings.Split(strings.Trim(relDir, "/"), "/") {
		if part == "" {
			continue
		}
		current = filepath.Join(current, part)
		info, err := m.fs.Stat(current)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			stats.Collisions++
			metrics.ObserveCollision()
			m.logger.Debug("replacing file with directory", zap.String("path", current))
			if err := m.fs.Remove(current); err != nil {
				return fmt.Errorf("remove colliding file %s: %w", current, err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("stat %s: %w", current, err)
		}
		if err := m.fs.Mkdir(current, dirPerm); err != nil {
			return fmt.Errorf("create dir %s: %w", current, err)
		}
	}
	return nil
}

func (m *Materializer) resolve(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	root := filepath.Clean(dir)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes staging dir", rel)
	}
	return target, nil
}

func (m *Materializer) writeManifest(dir string, manifest Manifest) error {
	if manifest.Files == nil {
		manifest.Files = []ManifestFile{}
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	metaDir := filepath.Join(dir, strings.TrimPrefix(ReservedDir, "/"))
	if err := m.fs.MkdirAll(metaDir, dirPerm); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	target := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(ManifestPath, "/")))
	if err := afero.WriteFile(m.fs, target, data, filePerm); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
