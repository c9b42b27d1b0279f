// Package capture runs a single archive capture: it drives one browser page
// through the homepage and every discovered route while collecting response
// bodies, then hands everything to the materializer.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/discovery"
	"github.com/JakeFAU/spa-archiver/internal/materialize"
	"github.com/JakeFAU/spa-archiver/internal/metrics"
	"github.com/JakeFAU/spa-archiver/internal/rewrite"
)

// Config holds the knobs of a capture run.
type Config struct {
	Visitor         VisitorConfig
	FinalDelay      time.Duration
	BodyReadTimeout time.Duration
	AnalyticsHosts  []string
	SelfHosts       []string
}

// RouteDiscoverer finds routes from homepage markup and captured bundles.
type RouteDiscoverer interface {
	Discover(origin *url.URL, markup string, bundles []archive.CapturedResource) *discovery.RouteSet
}

// Stager owns run-scoped staging folders.
type Stager interface {
	Prepare(runID string) (string, error)
	Discard(dir string) error
	Materialize(ctx context.Context, dir string, in materialize.Input) (materialize.Stats, error)
}

// Pipeline wires the collector, discoverer, visitor and materializer.
type Pipeline struct {
	browser    archive.Browser
	discoverer RouteDiscoverer
	stager     Stager
	clock      archive.Clock
	cfg        Config
	analytics  *archive.HostBlocklist
	preserve   *archive.HostBlocklist
	logger     *zap.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(
	browser archive.Browser,
	discoverer RouteDiscoverer,
	stager Stager,
	clock archive.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		browser:    browser,
		discoverer: discoverer,
		stager:     stager,
		clock:      clock,
		cfg:        cfg,
		analytics:  archive.NewHostBlocklist(cfg.AnalyticsHosts),
		preserve:   archive.NewHostBlocklist(cfg.SelfHosts),
		logger:     logger.Named("capture"),
	}
}

// Run captures target into a new staging folder. The only error it returns
// is an *archive.RunError; per-route and per-resource failures are logged
// and reflected in the result.
func (p *Pipeline) Run(ctx context.Context, runID, target string) (archive.CaptureResult, error) {
	start := p.clock.Now()
	logger := p.logger.With(zap.String("run_id", runID), zap.String("target", target))

	origin, err := parseTarget(target)
	if err != nil {
		return archive.CaptureResult{}, p.fail(logger, archive.StageHomepage, err)
	}
	logger.Info("capture run started")

	page, err := p.browser.NewPage(ctx)
	if err != nil {
		return archive.CaptureResult{}, p.fail(logger, archive.StageLaunch, err)
	}
	closed := false
	closePage := func() {
		if closed {
			return
		}
		closed = true
		if err := page.Close(); err != nil {
			logger.Debug("close page", zap.Error(err))
		}
	}
	defer closePage()

	registry := NewRegistry()
	collector := NewCollector(ctx, registry, origin, p.analytics, p.clock, p.cfg.BodyReadTimeout, logger.Named("collector"))
	page.OnResponse(collector.Handle)
	visitor := NewVisitor(page, collector, p.clock, p.cfg.Visitor, logger.Named("visitor"))

	home, err := visitor.Visit(ctx, origin.String(), "/")
	if err != nil {
		return archive.CaptureResult{}, p.fail(logger, p.stageFor(ctx, archive.StageHomepage), err)
	}
	metrics.ObserveRoute("captured")

	if err := collector.Barrier(ctx); err != nil {
		return archive.CaptureResult{}, p.fail(logger, archive.StageDeadline, err)
	}
	routes := p.discoverer.Discover(origin, home.Markup, registry.Scripts()).Paths()
	registry.SetRoutes(routes)
	logger.Info("routes discovered", zap.Int("count", len(routes)))

	records := []archive.RouteRecord{home}
	var abandoned []string
	for _, route := range routes {
		if err := ctx.Err(); err != nil {
			return archive.CaptureResult{}, p.fail(logger, archive.StageDeadline, err)
		}
		record, err := visitor.Visit(ctx, routeURL(origin, route), route)
		if err != nil {
			if ctx.Err() != nil {
				return archive.CaptureResult{}, p.fail(logger, archive.StageDeadline, err)
			}
			logger.Warn("route abandoned", zap.String("route", route), zap.Error(err))
			metrics.ObserveRoute("abandoned")
			abandoned = append(abandoned, route)
			continue
		}
		metrics.ObserveRoute("captured")
		records = append(records, record)
	}

	if err := p.clock.Sleep(ctx, p.cfg.FinalDelay); err != nil {
		return archive.CaptureResult{}, p.fail(logger, archive.StageDeadline, err)
	}
	if err := collector.Barrier(ctx); err != nil {
		return archive.CaptureResult{}, p.fail(logger, archive.StageDeadline, err)
	}
	closePage()

	dir, err := p.stager.Prepare(runID)
	if err != nil {
		return archive.CaptureResult{}, p.fail(logger, archive.StageStaging, err)
	}
	resources := registry.Resources()
	stats, err := p.stager.Materialize(ctx, dir, materialize.Input{
		RunID:      runID,
		Target:     target,
		Origin:     origin,
		CapturedAt: start,
		Resources:  resources,
		Routes:     records,
		Abandoned:  abandoned,
		Rewriter:   rewrite.New(origin, p.analytics, p.preserve),
	})
	if err != nil {
		if discardErr := p.stager.Discard(dir); discardErr != nil {
			logger.Warn("discard staging dir", zap.String("dir", dir), zap.Error(discardErr))
		}
		return archive.CaptureResult{}, p.fail(logger, archive.StageStaging, err)
	}

	result := archive.CaptureResult{
		RunID:      runID,
		Target:     target,
		StagingDir: dir,
		Routes:     records,
		Abandoned:  abandoned,
		Resources:  len(resources),
		Duration:   p.clock.Now().Sub(start),
	}
	logger.Info("capture run finished",
		zap.Int("routes", len(records)),
		zap.Int("abandoned", len(abandoned)),
		zap.Int("resources", result.Resources),
		zap.Int("files", stats.Files),
		zap.Int("rewrite_failures", stats.RewriteFailures),
		zap.Int("collisions", stats.Collisions),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Discard removes a staging folder produced by Run.
func (p *Pipeline) Discard(dir string) error {
	return p.stager.Discard(dir)
}

func (p *Pipeline) fail(logger *zap.Logger, stage string, err error) error {
	runErr := archive.NewRunError(stage, err)
	logger.Error("capture run failed", zap.String("stage", stage), zap.Error(err))
	return runErr
}

func (p *Pipeline) stageFor(ctx context.Context, stage string) string {
	if ctx.Err() != nil {
		return archive.StageDeadline
	}
	return stage
}

func parseTarget(target string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("target %q must be an absolute http(s) URL", target)
	}
	return u, nil
}

func routeURL(origin *url.URL, route string) string {
	return (&url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: route}).String()
}
