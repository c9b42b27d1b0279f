package fingerprint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	collyfetcher "github.com/JakeFAU/spa-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/spa-archiver/internal/hash/sha256"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestComputeDigestsHomepage(t *testing.T) {
	t.Parallel()

	var paths atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths.Store(r.URL.Path)
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := New(collyfetcher.New(collyfetcher.Config{}), sha256.New(), fixedClock{now: now}, time.Second, zap.NewNop())

	fp, ok := f.Compute(context.Background(), srv.URL+"/dashboard?tab=1")
	require.True(t, ok)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", fp.Digest)
	assert.Equal(t, now, fp.ComputedAt)
	assert.Equal(t, "/", paths.Load(), "fingerprint must fetch the homepage, not the submitted route")

	again, ok := f.Compute(context.Background(), srv.URL)
	require.True(t, ok)
	assert.Equal(t, fp.Digest, again.Digest)
}

func TestComputeDegradesOnFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	f := New(collyfetcher.New(collyfetcher.Config{}), sha256.New(), fixedClock{}, time.Second, zap.New(core))

	_, ok := f.Compute(context.Background(), srv.URL)
	assert.False(t, ok)
	for _, entry := range logs.All() {
		assert.Less(t, entry.Level, zapcore.WarnLevel, "fingerprint failures are informational")
	}
	assert.Equal(t, 1, logs.FilterMessage("fingerprint unavailable").Len())
}

func TestComputeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := New(collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), sha256.New(), fixedClock{}, 50*time.Millisecond, nil)
	start := time.Now()
	_, ok := f.Compute(context.Background(), srv.URL)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestComputeRejectsInvalidTarget(t *testing.T) {
	t.Parallel()

	f := New(collyfetcher.New(collyfetcher.Config{}), sha256.New(), fixedClock{}, 0, nil)
	for _, target := range []string{"", "ftp://example.com", "/relative", "://bad"} {
		_, ok := f.Compute(context.Background(), target)
		assert.False(t, ok, target)
	}
}
