package capture

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

func newTestCollector(t *testing.T, logger *zap.Logger) (*Collector, *Registry) {
	t.Helper()
	origin, err := url.Parse("https://example.com/")
	require.NoError(t, err)
	reg := NewRegistry()
	bl := archive.NewHostBlocklist(archive.DefaultAnalyticsHosts)
	return NewCollector(context.Background(), reg, origin, bl, newFakeClock(), 0, logger), reg
}

func TestRegistryLastWriteWinsKeepsOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Put(archive.CapturedResource{URL: "https://example.com/a.js", Type: archive.ResourceScript, Body: []byte("v1")})
	reg.Put(archive.CapturedResource{URL: "https://example.com/b.css", Type: archive.ResourceStylesheet, Body: []byte("b")})
	reg.Put(archive.CapturedResource{URL: "https://example.com/a.js", Type: archive.ResourceScript, Body: []byte("v2")})

	all := reg.Resources()
	require.Len(t, all, 2)
	assert.Equal(t, "https://example.com/a.js", all[0].URL)
	assert.Equal(t, "v2", string(all[0].Body))
	scripts := reg.Scripts()
	require.Len(t, scripts, 1)
	assert.Equal(t, "v2", string(scripts[0].Body))

	reg.SetRoutes([]string{"/about"})
	assert.True(t, reg.IsRoute("/about"))
	assert.False(t, reg.IsRoute("/"))
}

func TestCollectorFiltersResponses(t *testing.T) {
	t.Parallel()

	c, reg := newTestCollector(t, zap.NewNop())
	reg.SetRoutes([]string{"/about"})

	c.Handle(archive.Response{URL: "data:image/png;base64,AAAA", Type: archive.ResourceImage, ReadBody: body("x")})
	c.Handle(archive.Response{URL: "https://www.google-analytics.com/collect", Type: archive.ResourceXHR, ReadBody: body("x")})
	c.Handle(archive.Response{URL: "https://example.com/about/", Type: archive.ResourceDocument, ReadBody: body("shell")})
	c.Handle(archive.Response{URL: "https://example.com/", Type: archive.ResourceDocument, ReadBody: body("home")})
	c.Handle(archive.Response{URL: "https://cdn.other.com/lib.js", Type: archive.ResourceScript, ReadBody: body("lib")})
	require.NoError(t, c.Barrier(context.Background()))

	urls := []string{}
	for _, res := range reg.Resources() {
		urls = append(urls, res.URL)
	}
	assert.ElementsMatch(t, []string{"https://example.com/", "https://cdn.other.com/lib.js"}, urls)
}

func TestCollectorBenignReadFailuresStayBelowWarn(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	c, reg := newTestCollector(t, zap.New(core))

	c.Handle(archive.Response{
		URL:    "https://example.com/login",
		Type:   archive.ResourceDocument,
		Status: 302,
		ReadBody: func(context.Context) ([]byte, error) {
			return nil, archive.ErrNoBody
		},
	})
	c.Handle(archive.Response{
		URL:    "https://example.com/old",
		Type:   archive.ResourceOther,
		Status: 301,
		ReadBody: func(context.Context) ([]byte, error) {
			return nil, errors.New("protocol error: no body for redirect")
		},
	})
	c.Handle(archive.Response{
		URL:    "https://example.com/ping",
		Type:   archive.ResourceFetch,
		Status: 204,
		ReadBody: func(context.Context) ([]byte, error) {
			return nil, archive.ErrNoContent
		},
	})
	require.NoError(t, c.Barrier(context.Background()))

	assert.Zero(t, reg.Len())
	assert.Zero(t, logs.Filter(func(e observer.LoggedEntry) bool { return e.Level >= zapcore.WarnLevel }).Len())
	assert.Equal(t, 3, logs.FilterMessage("response body unavailable").Len())
}

func TestCollectorUnexpectedReadFailureWarns(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	c, _ := newTestCollector(t, zap.New(core))
	c.Handle(archive.Response{
		URL:    "https://example.com/app.js",
		Type:   archive.ResourceScript,
		Status: 200,
		ReadBody: func(context.Context) ([]byte, error) {
			return nil, errors.New("target closed")
		},
	})
	require.NoError(t, c.Barrier(context.Background()))
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestCollectorBarrierWaitsForReads(t *testing.T) {
	t.Parallel()

	c, reg := newTestCollector(t, zap.NewNop())
	release := make(chan struct{})
	c.Handle(archive.Response{
		URL:  "https://example.com/slow.js",
		Type: archive.ResourceScript,
		ReadBody: func(context.Context) ([]byte, error) {
			<-release
			return []byte("slow"), nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, c.Barrier(ctx))

	close(release)
	require.NoError(t, c.Barrier(context.Background()))
	res, ok := reg.Get("https://example.com/slow.js")
	require.True(t, ok)
	assert.Equal(t, "slow", string(res.Body))
}

func TestCollectorBarrierIgnoresLaterReads(t *testing.T) {
	t.Parallel()

	c, reg := newTestCollector(t, zap.NewNop())
	first := make(chan struct{})
	c.Handle(archive.Response{
		URL:  "https://example.com/first.js",
		Type: archive.ResourceScript,
		ReadBody: func(context.Context) ([]byte, error) {
			<-first
			return []byte("first"), nil
		},
	})

	waits := c.inflight()
	require.Len(t, waits, 1)
	done := make(chan error, 1)
	go func() { done <- waitReads(context.Background(), waits) }()

	late := make(chan struct{})
	t.Cleanup(func() { close(late) })
	c.Handle(archive.Response{
		URL:  "https://example.com/late.js",
		Type: archive.ResourceScript,
		ReadBody: func(context.Context) ([]byte, error) {
			<-late
			return []byte("late"), nil
		},
	})

	close(first)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("barrier waited for a read started after it")
	}
	_, ok := reg.Get("https://example.com/first.js")
	assert.True(t, ok)
}
