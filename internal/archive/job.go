package archive

import "time"

// JobStatus represents the lifecycle state of a capture job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusUnchanged JobStatus = "unchanged"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusUnchanged:
		return true
	default:
		return false
	}
}

// Job represents the metadata persisted for each submitted capture request.
type Job struct {
	ID            string     `json:"id"`
	Target        string     `json:"target"`
	SkipUnchanged bool       `json:"skip_unchanged"`
	Status        JobStatus  `json:"status"`
	Submitted     time.Time  `json:"submitted_at"`
	Started       *time.Time `json:"started_at,omitempty"`
	Finished      *time.Time `json:"finished_at,omitempty"`
	ErrorText     string     `json:"error_text,omitempty"`
	ArchiveURI    string     `json:"archive_uri,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	Routes        int        `json:"routes"`
	Abandoned     int        `json:"abandoned"`
	Resources     int        `json:"resources"`
}

// JobUpdate carries the mutable fields of a Job.
type JobUpdate struct {
	Status      JobStatus
	ErrorText   string
	ArchiveURI  string
	Fingerprint string
	Routes      int
	Abandoned   int
	Resources   int
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID         string
	Target        string
	SkipUnchanged bool
	Submitted     int64
}

// ArchiveRecord is the ledger row written after a successful upload.
type ArchiveRecord struct {
	RunID       string
	Target      string
	ArchiveURI  string
	Fingerprint string
	Routes      int
	Resources   int
	CapturedAt  time.Time
}

// Completed is the payload published when an archive is stored.
type Completed struct {
	JobID       string `json:"job_id"`
	Target      string `json:"target"`
	ArchiveURI  string `json:"archive_uri"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Routes      int    `json:"routes"`
	Resources   int    `json:"resources"`
	Timestamp   string `json:"timestamp"`
}
