package archive

import (
	"context"
	"time"
)

// Browser launches isolated pages. Each page owns its own browser target.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
}

// Page is the browser-automation capability a capture run drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expression string, out any) error
	OnResponse(handler func(Response))
	WaitNetworkIdle(ctx context.Context, idle time.Duration) error
	Close() error
}

// Uploader hands a finished staging folder to permanent storage and returns
// an opaque identifier for the stored archive.
type Uploader interface {
	Upload(ctx context.Context, runID string, dir string) (string, error)
}

// ArchiveStore persists the outcome of capture runs.
type ArchiveStore interface {
	RecordArchive(ctx context.Context, record ArchiveRecord) error
	LatestFingerprint(ctx context.Context, target string) (string, bool, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// JobStore persists capture job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Queue provides enqueue/dequeue semantics for capture jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes hex digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and sleeps cooperatively.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run and job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
