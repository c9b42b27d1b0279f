// Package headless implements archive.Browser on headless Chrome via chromedp.
package headless

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// Config controls the browser process and every page it opens.
type Config struct {
	MaxParallel    int
	UserAgent      string
	ExecPath       string
	NoSandbox      bool
	ViewportWidth  int64
	ViewportHeight int64
}

// Browser launches headless Chrome. Every page runs in its own browser
// process, so capture runs share no cookies, cache or storage.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New prepares an exec allocator. No process starts until NewPage.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1440
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 900
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("browser"),
	}, nil
}

// Close stops the allocator and any browser still running.
func (b *Browser) Close() {
	b.allocCancel()
}

// NewPage opens a fresh target with network events enabled. Canceling ctx
// tears the target down.
func (b *Browser) NewPage(ctx context.Context) (archive.Page, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(b.allocator,
		chromedp.WithLogf(b.logger.Sugar().Debugf),
		chromedp.WithErrorf(b.logger.Sugar().Debugf),
	)
	page := newPage(tabCtx, tabCancel, b.logger)
	page.release = b.release
	page.stopForward = context.AfterFunc(ctx, tabCancel)
	chromedp.ListenTarget(tabCtx, page.onEvent)

	// The first Run allocates the browser and target; it must use the tab
	// context itself or the process dies with a shorter-lived context.
	if err := chromedp.Run(tabCtx, b.setupAction()); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("open browser page: %w", err)
	}
	return page, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if b.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
		chromedp.EmulateViewport(b.cfg.ViewportWidth, b.cfg.ViewportHeight),
	}
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// Page is one Chrome target.
type Page struct {
	ctx         context.Context
	cancel      context.CancelFunc
	stopForward func() bool
	release     func()
	logger      *zap.Logger

	mu           sync.Mutex
	handlers     []func(archive.Response)
	received     map[network.RequestID]*network.EventResponseReceived
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time

	closeOnce sync.Once
	closeErr  error
}

func newPage(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *Page {
	return &Page{
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
		received:     make(map[network.RequestID]*network.EventResponseReceived),
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Evaluate runs a JavaScript expression and decodes its result into out.
func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	if err := p.run(ctx, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// OnResponse registers a handler called for every finished response. Handlers
// run on the browser's event goroutine and must not block.
func (p *Page) OnResponse(handler func(archive.Response)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// WaitNetworkIdle returns once no request has been in flight for idle.
func (p *Page) WaitNetworkIdle(ctx context.Context, idle time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		pending := len(p.inflight)
		quiet := time.Since(p.lastActivity)
		p.mu.Unlock()
		if pending == 0 && quiet >= idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait network idle (%d pending): %w", pending, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close closes the target. It is safe to call more than once.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		if p.stopForward != nil {
			p.stopForward()
		}
		if p.ctx.Err() == nil {
			if err := chromedp.Cancel(p.ctx); err != nil {
				p.closeErr = fmt.Errorf("close browser page: %w", err)
			}
		}
		p.cancel()
		if p.release != nil {
			p.release()
		}
	})
	return p.closeErr
}

// run executes actions on the target, bounded by the caller's ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.mu.Lock()
		p.inflight[e.RequestID] = struct{}{}
		p.lastActivity = time.Now()
		p.mu.Unlock()
		if e.RedirectResponse != nil {
			p.emit(redirectResponse(e))
		}
	case *network.EventResponseReceived:
		p.mu.Lock()
		p.received[e.RequestID] = e
		p.lastActivity = time.Now()
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		resp := p.finish(e.RequestID)
		if resp != nil && resp.Response != nil {
			p.emit(p.toResponse(resp))
		}
	case *network.EventLoadingFailed:
		p.finish(e.RequestID)
	}
}

func (p *Page) finish(id network.RequestID) *network.EventResponseReceived {
	p.mu.Lock()
	defer p.mu.Unlock()
	resp := p.received[id]
	delete(p.received, id)
	delete(p.inflight, id)
	p.lastActivity = time.Now()
	return resp
}

func (p *Page) emit(resp archive.Response) {
	p.mu.Lock()
	handlers := append([]func(archive.Response){}, p.handlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(resp)
	}
}

func (p *Page) toResponse(e *network.EventResponseReceived) archive.Response {
	status := int(e.Response.Status)
	id := e.RequestID
	return archive.Response{
		URL:      e.Response.URL,
		Type:     resourceType(e.Type),
		Status:   status,
		MIMEType: e.Response.MimeType,
		ReadBody: func(ctx context.Context) ([]byte, error) {
			return p.readBody(ctx, id, status)
		},
	}
}

func (p *Page) readBody(ctx context.Context, id network.RequestID, status int) ([]byte, error) {
	var body []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := network.GetResponseBody(id).Do(ctx)
		if err != nil {
			return err
		}
		body = data
		return nil
	}))
	if err != nil {
		return nil, classifyBodyError(status, err)
	}
	if len(body) == 0 && status == 204 {
		return nil, archive.ErrNoContent
	}
	return body, nil
}

func redirectResponse(e *network.EventRequestWillBeSent) archive.Response {
	status := int(e.RedirectResponse.Status)
	return archive.Response{
		URL:      e.RedirectResponse.URL,
		Type:     resourceType(e.Type),
		Status:   status,
		MIMEType: e.RedirectResponse.MimeType,
		ReadBody: func(context.Context) ([]byte, error) {
			return nil, fmt.Errorf("%w (status %d)", archive.ErrNoBody, status)
		},
	}
}

// classifyBodyError maps Chrome's body errors onto the benign sentinels.
func classifyBodyError(status int, err error) error {
	msg := err.Error()
	switch {
	case status >= 300 && status < 400:
		return fmt.Errorf("%w: %w", archive.ErrNoBody, err)
	case status == 204 || strings.Contains(msg, "No data found for resource"):
		return fmt.Errorf("%w: %w", archive.ErrNoContent, err)
	case strings.Contains(msg, "No resource with given identifier"):
		return fmt.Errorf("%w: %w", archive.ErrBodyEvicted, err)
	default:
		return fmt.Errorf("get response body: %w", err)
	}
}

func resourceType(t network.ResourceType) archive.ResourceType {
	switch t {
	case network.ResourceTypeDocument:
		return archive.ResourceDocument
	case network.ResourceTypeStylesheet:
		return archive.ResourceStylesheet
	case network.ResourceTypeScript:
		return archive.ResourceScript
	case network.ResourceTypeImage:
		return archive.ResourceImage
	case network.ResourceTypeFont:
		return archive.ResourceFont
	case network.ResourceTypeXHR:
		return archive.ResourceXHR
	case network.ResourceTypeFetch:
		return archive.ResourceFetch
	default:
		return archive.ResourceOther
	}
}
