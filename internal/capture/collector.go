package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/metrics"
)

// Collector observes page responses and stores their bodies in a Registry.
// Body reads run off the browser's event goroutine; Barrier waits for the
// reads started so far.
type Collector struct {
	ctx         context.Context
	registry    *Registry
	origin      *url.URL
	blocklist   *archive.HostBlocklist
	clock       archive.Clock
	readTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan struct{}
}

// NewCollector builds a collector whose body reads are bound to ctx.
func NewCollector(
	ctx context.Context,
	registry *Registry,
	origin *url.URL,
	blocklist *archive.HostBlocklist,
	clock archive.Clock,
	readTimeout time.Duration,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		ctx:         ctx,
		registry:    registry,
		origin:      origin,
		blocklist:   blocklist,
		clock:       clock,
		readTimeout: readTimeout,
		logger:      logger,
		pending:     make(map[uint64]chan struct{}),
	}
}

// Handle is registered with Page.OnResponse. It never blocks.
func (c *Collector) Handle(resp archive.Response) {
	u, err := url.Parse(resp.URL)
	if err != nil {
		return
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return
	}
	if c.blocklist.IsBlocked(u.Hostname()) {
		c.logger.Debug("skipping blocklisted response", zap.String("url", resp.URL))
		return
	}
	if resp.Type == archive.ResourceDocument && archive.SameHost(c.origin, u) && c.registry.IsRoute(routeKey(u.Path)) {
		return
	}
	if resp.ReadBody == nil {
		return
	}

	id := c.begin()
	go func() {
		defer c.end(id)
		c.read(resp)
	}()
}

func (c *Collector) read(resp archive.Response) {
	ctx := c.ctx
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}

	body, err := resp.ReadBody(ctx)
	if err != nil {
		if resp.Status >= 300 && resp.Status < 400 && !errors.Is(err, archive.ErrNoBody) {
			err = fmt.Errorf("%w: %w", archive.ErrNoBody, err)
		}
		benign := archive.IsBenignReadError(err)
		metrics.ObserveReadFailure(benign)
		fields := []zap.Field{
			zap.String("url", resp.URL),
			zap.Int("status", resp.Status),
			zap.Error(err),
		}
		if benign {
			c.logger.Debug("response body unavailable", fields...)
		} else {
			c.logger.Warn("response body read failed", fields...)
		}
		return
	}

	c.registry.Put(archive.CapturedResource{
		URL:        resp.URL,
		Body:       body,
		Type:       resp.Type,
		MIMEType:   resp.MIMEType,
		CapturedAt: c.clock.Now(),
	})
	metrics.ObserveResource(string(resp.Type), len(body))
}

func (c *Collector) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.pending[c.nextID] = make(chan struct{})
	return c.nextID
}

func (c *Collector) end(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if done, ok := c.pending[id]; ok {
		close(done)
		delete(c.pending, id)
	}
}

// Barrier blocks until every body read started before the call has been
// written to the registry, or ctx is done. Reads started afterwards are not
// waited for.
func (c *Collector) Barrier(ctx context.Context) error {
	return waitReads(ctx, c.inflight())
}

// inflight snapshots the completion channels of the reads running now.
func (c *Collector) inflight() []chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	waits := make([]chan struct{}, 0, len(c.pending))
	for _, done := range c.pending {
		waits = append(waits, done)
	}
	return waits
}

func waitReads(ctx context.Context, waits []chan struct{}) error {
	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("wait for body reads: %w", ctx.Err())
		}
	}
	return nil
}

func routeKey(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}
