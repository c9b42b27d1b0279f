package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// Phase is a step of the per-route state machine.
type Phase string

// Route visit phases in execution order. PhaseNetworkIdle only runs when the
// chart wait found chart elements.
const (
	PhaseNavigate      Phase = "NAVIGATE"
	PhaseScroll        Phase = "SCROLL"
	PhaseChartWait     Phase = "CHART_WAIT"
	PhaseNetworkIdle   Phase = "NETWORK_IDLE_WAIT"
	PhaseSettle        Phase = "SETTLE_DELAY"
	PhaseCaptureMarkup Phase = "CAPTURE_MARKUP"
	PhaseDone          Phase = "DONE"
)

// DefaultChartSelector matches the elements chart libraries render into.
const DefaultChartSelector = "canvas, svg"

const (
	scrollStepScript = `(() => { const el = document.scrollingElement || document.documentElement || document.body; if (!el) { return 0; } window.scrollTo(0, el.scrollHeight); return el.scrollHeight; })()`
	scrollTopScript  = `(() => { window.scrollTo(0, 0); return true; })()`
	markupScript     = `(() => { const dt = document.doctype ? new XMLSerializer().serializeToString(document.doctype) + "\n" : ""; return dt + document.documentElement.outerHTML; })()`
)

func chartDetectScript(selector string) string {
	return fmt.Sprintf(`!!document.querySelector(%q)`, selector)
}

// VisitorConfig holds the per-route timings.
type VisitorConfig struct {
	NavigationTimeout  time.Duration
	ChartSelector      string
	ChartWaitTimeout   time.Duration
	ChartPollInterval  time.Duration
	NetworkIdleTimeout time.Duration
	NetworkIdleWindow  time.Duration
	ChartSettleDelay   time.Duration
	SettleDelay        time.Duration
	ScrollMaxSteps     int
	ScrollPause        time.Duration
}

func (c VisitorConfig) withDefaults() VisitorConfig {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ChartSelector == "" {
		c.ChartSelector = DefaultChartSelector
	}
	if c.ChartPollInterval <= 0 {
		c.ChartPollInterval = 250 * time.Millisecond
	}
	if c.NetworkIdleWindow <= 0 {
		c.NetworkIdleWindow = 500 * time.Millisecond
	}
	return c
}

// barrier waits until pending body reads have landed in the registry.
type barrier interface {
	Barrier(ctx context.Context) error
}

// Visitor drives one page through the route state machine.
type Visitor struct {
	page    archive.Page
	reads   barrier
	clock   archive.Clock
	cfg     VisitorConfig
	logger  *zap.Logger
	onPhase func(route string, phase Phase)
}

// NewVisitor builds a Visitor for page.
func NewVisitor(page archive.Page, reads barrier, clock archive.Clock, cfg VisitorConfig, logger *zap.Logger) *Visitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Visitor{
		page:   page,
		reads:  reads,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Visit runs NAVIGATE through DONE for route at pageURL. A navigation error
// wraps archive.ErrRouteNavigation; the caller decides whether it is fatal.
func (v *Visitor) Visit(ctx context.Context, pageURL, route string) (archive.RouteRecord, error) {
	record := archive.RouteRecord{Path: route}
	logger := v.logger.With(zap.String("route", route))

	phase := PhaseNavigate
	for phase != PhaseDone {
		logger.Debug("route phase", zap.String("phase", string(phase)))
		if v.onPhase != nil {
			v.onPhase(route, phase)
		}

		switch phase {
		case PhaseNavigate:
			if err := v.navigate(ctx, pageURL); err != nil {
				return archive.RouteRecord{}, fmt.Errorf("%w: %s: %w", archive.ErrRouteNavigation, route, err)
			}
			phase = PhaseScroll

		case PhaseScroll:
			if err := v.scroll(ctx); err != nil {
				if ctx.Err() != nil {
					return archive.RouteRecord{}, fmt.Errorf("scroll %s: %w", route, err)
				}
				logger.Debug("scroll incomplete", zap.Error(err))
			}
			phase = PhaseChartWait

		case PhaseChartWait:
			found, err := v.waitForCharts(ctx)
			if err != nil && ctx.Err() != nil {
				return archive.RouteRecord{}, fmt.Errorf("wait for charts %s: %w", route, err)
			}
			record.HadCharts = found
			if found {
				phase = PhaseNetworkIdle
			} else {
				phase = PhaseSettle
			}

		case PhaseNetworkIdle:
			idleCtx, cancel := v.bounded(ctx, v.cfg.NetworkIdleTimeout)
			err := v.page.WaitNetworkIdle(idleCtx, v.cfg.NetworkIdleWindow)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return archive.RouteRecord{}, fmt.Errorf("wait network idle %s: %w", route, err)
				}
				logger.Debug("network did not go idle, continuing", zap.Error(err))
			}
			phase = PhaseSettle

		case PhaseSettle:
			delay := v.cfg.SettleDelay
			if record.HadCharts {
				delay = v.cfg.ChartSettleDelay
			}
			if err := v.clock.Sleep(ctx, delay); err != nil {
				return archive.RouteRecord{}, fmt.Errorf("settle %s: %w", route, err)
			}
			phase = PhaseCaptureMarkup

		case PhaseCaptureMarkup:
			if v.reads != nil {
				if err := v.reads.Barrier(ctx); err != nil {
					return archive.RouteRecord{}, fmt.Errorf("capture %s: %w", route, err)
				}
			}
			var markup string
			if err := v.page.Evaluate(ctx, markupScript, &markup); err != nil {
				return archive.RouteRecord{}, fmt.Errorf("capture markup %s: %w", route, err)
			}
			record.Markup = markup
			record.VisitedAt = v.clock.Now()
			phase = PhaseDone
		}
	}
	return record, nil
}

func (v *Visitor) navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := v.bounded(ctx, v.cfg.NavigationTimeout)
	defer cancel()
	if err := v.page.Navigate(navCtx, pageURL); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("navigation timed out after %s: %w", v.cfg.NavigationTimeout, err)
		}
		return err
	}
	return nil
}

// scroll repeatedly scrolls to the bottom until the document height stops
// growing or the step bound is hit, then returns to the top.
func (v *Visitor) scroll(ctx context.Context) error {
	last := -1.0
	for step := 0; step < v.cfg.ScrollMaxSteps; step++ {
		var height float64
		if err := v.page.Evaluate(ctx, scrollStepScript, &height); err != nil {
			return fmt.Errorf("scroll step %d: %w", step, err)
		}
		if height <= last {
			break
		}
		last = height
		if err := v.clock.Sleep(ctx, v.cfg.ScrollPause); err != nil {
			return err
		}
	}
	var ok bool
	if err := v.page.Evaluate(ctx, scrollTopScript, &ok); err != nil {
		return fmt.Errorf("scroll to top: %w", err)
	}
	return nil
}

// waitForCharts polls for chart elements until found or the wait window ends.
func (v *Visitor) waitForCharts(ctx context.Context) (bool, error) {
	script := chartDetectScript(v.cfg.ChartSelector)
	deadline := v.clock.Now().Add(v.cfg.ChartWaitTimeout)
	for {
		var found bool
		err := v.page.Evaluate(ctx, script, &found)
		if err == nil && found {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !v.clock.Now().Before(deadline) {
			return false, err
		}
		if err := v.clock.Sleep(ctx, v.cfg.ChartPollInterval); err != nil {
			return false, err
		}
	}
}

func (v *Visitor) bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
