package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func body(data string) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return []byte(data), nil }
}

// fakePage replays scripted responses per URL and answers the visitor's
// evaluation scripts from per-URL tables.
type fakePage struct {
	mu        sync.Mutex
	navErr    map[string]error
	charts    map[string]bool
	heights   map[string][]float64
	scrolls   map[string]int
	markup    map[string]string
	responses map[string][]archive.Response
	handlers  []func(archive.Response)
	current   string
	navigated []string
	idleCalls int
	closed    bool
}

func newFakePage() *fakePage {
	return &fakePage{
		navErr:    map[string]error{},
		charts:    map[string]bool{},
		heights:   map[string][]float64{},
		scrolls:   map[string]int{},
		markup:    map[string]string{},
		responses: map[string][]archive.Response{},
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	if err := p.navErr[url]; err != nil {
		p.mu.Unlock()
		return err
	}
	p.current = url
	handlers := append([]func(archive.Response){}, p.handlers...)
	responses := p.responses[url]
	p.mu.Unlock()

	for _, resp := range responses {
		for _, h := range handlers {
			h(resp)
		}
	}
	return nil
}

func (p *fakePage) Evaluate(_ context.Context, expr string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case expr == scrollStepScript:
		*out.(*float64) = p.nextHeight()
	case expr == scrollTopScript:
		*out.(*bool) = true
	case expr == markupScript:
		*out.(*string) = p.markup[p.current]
	case strings.HasPrefix(expr, "!!document.querySelector"):
		*out.(*bool) = p.charts[p.current]
	default:
		return errors.New("unexpected expression")
	}
	return nil
}

// nextHeight replays the scripted scroll heights of the current URL, holding
// the last one. Callers hold p.mu.
func (p *fakePage) nextHeight() float64 {
	step := p.scrolls[p.current]
	p.scrolls[p.current]++
	seq := p.heights[p.current]
	if len(seq) == 0 {
		return 2400
	}
	if step >= len(seq) {
		step = len(seq) - 1
	}
	return seq[step]
}

func (p *fakePage) scrollSteps(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls[url]
}

func (p *fakePage) OnResponse(handler func(archive.Response)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

func (p *fakePage) WaitNetworkIdle(context.Context, time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idleCalls++
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.navigated...)
}

type fakeBrowser struct {
	page *fakePage
	err  error
}

func (b *fakeBrowser) NewPage(context.Context) (archive.Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.page, nil
}
