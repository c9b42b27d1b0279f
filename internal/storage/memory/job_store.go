package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]archive.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]archive.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job archive.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob applies a status transition and the run outcome to a job.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, update archive.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = update.Status
	job.ErrorText = update.ErrorText
	if update.ArchiveURI != "" {
		job.ArchiveURI = update.ArchiveURI
	}
	if update.Fingerprint != "" {
		job.Fingerprint = update.Fingerprint
	}
	job.Routes = update.Routes
	job.Abandoned = update.Abandoned
	job.Resources = update.Resources
	now := s.now()
	if update.Status == archive.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if update.Status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (archive.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return archive.Job{}, ErrJobNotFound
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
