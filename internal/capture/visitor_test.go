package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

type phaseLog struct {
	mu     sync.Mutex
	phases []Phase
}

func (l *phaseLog) record(_ string, phase Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, phase)
}

func testVisitorConfig() VisitorConfig {
	return VisitorConfig{
		NavigationTimeout:  time.Second,
		ChartWaitTimeout:   time.Second,
		ChartPollInterval:  250 * time.Millisecond,
		NetworkIdleTimeout: time.Second,
		ChartSettleDelay:   1500 * time.Millisecond,
		SettleDelay:        500 * time.Millisecond,
		ScrollMaxSteps:     5,
		ScrollPause:        100 * time.Millisecond,
	}
}

func TestVisitorWithoutCharts(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.markup["https://example.com/about"] = "<!DOCTYPE html><html><body>about</body></html>"
	clock := newFakeClock()
	log := &phaseLog{}
	v := NewVisitor(page, nil, clock, testVisitorConfig(), zap.NewNop())
	v.onPhase = log.record

	start := clock.Now()
	record, err := v.Visit(context.Background(), "https://example.com/about", "/about")
	require.NoError(t, err)

	assert.Equal(t, "/about", record.Path)
	assert.False(t, record.HadCharts)
	assert.Equal(t, "<!DOCTYPE html><html><body>about</body></html>", record.Markup)
	assert.Equal(t, []Phase{PhaseNavigate, PhaseScroll, PhaseChartWait, PhaseSettle, PhaseCaptureMarkup}, log.phases)
	assert.Zero(t, page.idleCalls)
	// one scroll pause, the full chart wait window, then the plain settle delay
	assert.Equal(t, 100*time.Millisecond+time.Second+500*time.Millisecond, record.VisitedAt.Sub(start))
}

func TestVisitorWithChartsWaitsForIdle(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.charts["https://example.com/dashboard"] = true
	page.markup["https://example.com/dashboard"] = "<html><canvas></canvas></html>"
	clock := newFakeClock()
	log := &phaseLog{}
	v := NewVisitor(page, nil, clock, testVisitorConfig(), zap.NewNop())
	v.onPhase = log.record

	start := clock.Now()
	record, err := v.Visit(context.Background(), "https://example.com/dashboard", "/dashboard")
	require.NoError(t, err)

	assert.True(t, record.HadCharts)
	assert.Equal(t, []Phase{PhaseNavigate, PhaseScroll, PhaseChartWait, PhaseNetworkIdle, PhaseSettle, PhaseCaptureMarkup}, log.phases)
	assert.Equal(t, 1, page.idleCalls)
	assert.Equal(t, 100*time.Millisecond+1500*time.Millisecond, record.VisitedAt.Sub(start))
}

func TestVisitorScrollsWhileHeightGrows(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/feed"
	page := newFakePage()
	page.heights[target] = []float64{1000, 2000, 3000, 3000}
	clock := newFakeClock()
	v := NewVisitor(page, nil, clock, testVisitorConfig(), zap.NewNop())

	start := clock.Now()
	record, err := v.Visit(context.Background(), target, "/feed")
	require.NoError(t, err)

	// three growing heights pause, the repeated height stops the loop
	assert.Equal(t, 4, page.scrollSteps(target))
	assert.Equal(t, 3*100*time.Millisecond+time.Second+500*time.Millisecond, record.VisitedAt.Sub(start))
}

func TestVisitorScrollRespectsStepCap(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/infinite"
	page := newFakePage()
	page.heights[target] = []float64{100, 200, 300, 400, 500, 600, 700, 800}
	clock := newFakeClock()
	cfg := testVisitorConfig()
	cfg.ScrollMaxSteps = 3
	v := NewVisitor(page, nil, clock, cfg, zap.NewNop())

	start := clock.Now()
	record, err := v.Visit(context.Background(), target, "/infinite")
	require.NoError(t, err)

	assert.Equal(t, 3, page.scrollSteps(target))
	assert.Equal(t, 3*100*time.Millisecond+time.Second+500*time.Millisecond, record.VisitedAt.Sub(start))
}

func TestVisitorScrollDisabled(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/static"
	page := newFakePage()
	cfg := testVisitorConfig()
	cfg.ScrollMaxSteps = 0
	v := NewVisitor(page, nil, newFakeClock(), cfg, zap.NewNop())

	_, err := v.Visit(context.Background(), target, "/static")
	require.NoError(t, err)
	assert.Zero(t, page.scrollSteps(target))
}

func TestVisitorNavigationFailure(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.navErr["https://example.com/broken"] = errors.New("net::ERR_CONNECTION_RESET")
	v := NewVisitor(page, nil, newFakeClock(), testVisitorConfig(), zap.NewNop())

	_, err := v.Visit(context.Background(), "https://example.com/broken", "/broken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, archive.ErrRouteNavigation))
}

func TestVisitorCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := NewVisitor(newFakePage(), nil, newFakeClock(), testVisitorConfig(), zap.NewNop())
	_, err := v.Visit(ctx, "https://example.com/", "/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
