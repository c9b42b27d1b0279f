// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// ArchiveStore keeps ledger rows in memory.
type ArchiveStore struct {
	mu      sync.RWMutex
	records []archive.ArchiveRecord
}

// NewArchiveStore creates an empty ledger.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{}
}

// RecordArchive appends a ledger row.
func (s *ArchiveStore) RecordArchive(_ context.Context, record archive.ArchiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// LatestFingerprint returns the fingerprint of the newest row for target that has one.
func (s *ArchiveStore) LatestFingerprint(_ context.Context, target string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  archive.ArchiveRecord
		found bool
	)
	for _, rec := range s.records {
		if rec.Target != target || rec.Fingerprint == "" {
			continue
		}
		if !found || !rec.CapturedAt.Before(best.CapturedAt) {
			best, found = rec, true
		}
	}
	return best.Fingerprint, found, nil
}

// Records returns a copy of every stored row.
func (s *ArchiveStore) Records() []archive.ArchiveRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.ArchiveRecord, len(s.records))
	copy(out, s.records)
	return out
}
