package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := archive.Job{ID: "job-1", Target: "https://example.com/", Status: archive.JobStatusQueued}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := store.UpdateJob(ctx, job.ID, archive.JobUpdate{Status: archive.JobStatusRunning}); err != nil {
		t.Fatalf("UpdateJob running error = %v", err)
	}
	running, _ := store.GetJob(ctx, job.ID)
	if running.Started == nil || running.Finished != nil {
		t.Fatalf("expected only start timestamp, got %+v", running)
	}

	err := store.UpdateJob(ctx, job.ID, archive.JobUpdate{
		Status:      archive.JobStatusSucceeded,
		ArchiveURI:  "file:///archives/job-1",
		Fingerprint: "abc",
		Routes:      3,
		Abandoned:   1,
		Resources:   12,
	})
	if err != nil {
		t.Fatalf("UpdateJob succeeded error = %v", err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != archive.JobStatusSucceeded || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.ArchiveURI != "file:///archives/job-1" || final.Routes != 3 || final.Abandoned != 1 || final.Resources != 12 {
		t.Fatalf("expected outcome to persist, got %+v", final)
	}

	if err := store.UpdateJob(ctx, "missing", archive.JobUpdate{}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestArchiveStoreLatestFingerprint(t *testing.T) {
	t.Parallel()

	store := NewArchiveStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	if _, ok, _ := store.LatestFingerprint(ctx, "https://example.com/"); ok {
		t.Fatal("expected no fingerprint for unknown target")
	}

	records := []archive.ArchiveRecord{
		{RunID: "a", Target: "https://example.com/", Fingerprint: "old", CapturedAt: base},
		{RunID: "b", Target: "https://example.com/", Fingerprint: "new", CapturedAt: base.Add(time.Hour)},
		{RunID: "c", Target: "https://example.com/", Fingerprint: "", CapturedAt: base.Add(2 * time.Hour)},
		{RunID: "d", Target: "https://other.com/", Fingerprint: "other", CapturedAt: base.Add(3 * time.Hour)},
	}
	for _, rec := range records {
		if err := store.RecordArchive(ctx, rec); err != nil {
			t.Fatalf("RecordArchive() error = %v", err)
		}
	}

	digest, ok, err := store.LatestFingerprint(ctx, "https://example.com/")
	if err != nil || !ok || digest != "new" {
		t.Fatalf("LatestFingerprint() = %q, %v, %v", digest, ok, err)
	}
	if got := len(store.Records()); got != 4 {
		t.Fatalf("expected 4 records, got %d", got)
	}
}
