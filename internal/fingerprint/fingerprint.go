// Package fingerprint computes a content digest of a site's live homepage so
// callers can tell whether an archived project changed since its last capture.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/metrics"
)

// DefaultTimeout bounds a single homepage fetch.
const DefaultTimeout = 15 * time.Second

// BodyFetcher performs a direct GET and returns the raw body.
type BodyFetcher interface {
	FetchBody(ctx context.Context, url string) ([]byte, error)
}

// Fingerprinter fetches the live homepage outside of any capture run.
type Fingerprinter struct {
	fetcher BodyFetcher
	hasher  archive.Hasher
	clock   archive.Clock
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Fingerprinter. A non-positive timeout selects DefaultTimeout.
func New(fetcher BodyFetcher, hasher archive.Hasher, clock archive.Clock, timeout time.Duration, logger *zap.Logger) *Fingerprinter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fingerprinter{
		fetcher: fetcher,
		hasher:  hasher,
		clock:   clock,
		timeout: timeout,
		logger:  logger.Named("fingerprint"),
	}
}

// Compute returns the digest of the homepage markup at target. The boolean is
// false when no fingerprint is available; failures are logged, never returned.
func (f *Fingerprinter) Compute(ctx context.Context, target string) (archive.Fingerprint, bool) {
	fp, err := f.compute(ctx, target)
	if err != nil {
		metrics.ObserveFingerprint("failed")
		f.logger.Info("fingerprint unavailable", zap.String("url", target), zap.Error(err))
		return archive.Fingerprint{}, false
	}
	metrics.ObserveFingerprint("computed")
	f.logger.Debug("fingerprint computed", zap.String("url", target), zap.String("digest", fp.Digest))
	return fp, true
}

func (f *Fingerprinter) compute(ctx context.Context, target string) (archive.Fingerprint, error) {
	homepage, err := homepageURL(target)
	if err != nil {
		return archive.Fingerprint{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.fetcher.FetchBody(fetchCtx, homepage)
	if err != nil {
		return archive.Fingerprint{}, fmt.Errorf("fetch homepage: %w", err)
	}
	if len(body) == 0 {
		return archive.Fingerprint{}, errors.New("fetch homepage: empty body")
	}
	digest, err := f.hasher.Hash(body)
	if err != nil {
		return archive.Fingerprint{}, fmt.Errorf("hash homepage: %w", err)
	}
	return archive.Fingerprint{Digest: digest, ComputedAt: f.clock.Now()}, nil
}

// homepageURL reduces target to the root of its origin.
func homepageURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse target: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("target %q is not an absolute http(s) URL", target)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String(), nil
}
