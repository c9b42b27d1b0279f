// Package worker implements the capture job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/metrics"
)

// Capturer runs one capture into a staging folder and reclaims it afterwards.
type Capturer interface {
	Run(ctx context.Context, runID, target string) (archive.CaptureResult, error)
	Discard(dir string) error
}

// Fingerprinter computes the live homepage digest of a target.
type Fingerprinter interface {
	Compute(ctx context.Context, target string) (archive.Fingerprint, bool)
}

// Config controls Worker behavior.
type Config struct {
	// RunTimeout is the wall-clock ceiling of one capture run. Zero disables it.
	RunTimeout time.Duration
	Topic      string
}

// Worker consumes queue items and executes capture runs.
type Worker struct {
	queue         archive.Queue
	jobStore      archive.JobStore
	capturer      Capturer
	fingerprinter Fingerprinter
	uploader      archive.Uploader
	archives      archive.ArchiveStore
	publisher     archive.Publisher
	clock         archive.Clock
	cfg           Config
	logger        *zap.Logger
}

// New constructs a Worker. fingerprinter and publisher may be nil.
func New(
	queue archive.Queue,
	jobStore archive.JobStore,
	capturer Capturer,
	fingerprinter Fingerprinter,
	uploader archive.Uploader,
	archives archive.ArchiveStore,
	publisher archive.Publisher,
	clock archive.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:         queue,
		jobStore:      jobStore,
		capturer:      capturer,
		fingerprinter: fingerprinter,
		uploader:      uploader,
		archives:      archives,
		publisher:     publisher,
		clock:         clock,
		cfg:           cfg,
		logger:        logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if err := w.clock.Sleep(ctx, 100*time.Millisecond); err != nil {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

// Execute runs a single job outside the queue loop. The job must already
// exist in the job store; its terminal state is written there.
func (w *Worker) Execute(ctx context.Context, item archive.QueueItem) {
	w.processJob(ctx, item)
}

func (w *Worker) processJob(ctx context.Context, item archive.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("target", item.Target))
	if err := w.jobStore.UpdateJob(ctx, item.JobID, archive.JobUpdate{Status: archive.JobStatusRunning}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	digest := w.fingerprint(ctx, item.Target)
	if item.SkipUnchanged && digest != "" && w.unchanged(ctx, logger, item.Target, digest) {
		logger.Info("target unchanged since last archive", zap.String("fingerprint", digest))
		metrics.ObserveCapture(string(archive.JobStatusUnchanged), item.Target, 0)
		w.finish(ctx, logger, item.JobID, archive.JobUpdate{Status: archive.JobStatusUnchanged, Fingerprint: digest})
		return
	}

	result, err := w.capture(ctx, item)
	if err != nil {
		w.fail(ctx, logger, item, digest, err)
		return
	}

	uri, err := w.persistAndPublish(ctx, item, result, digest)
	if discardErr := w.capturer.Discard(result.StagingDir); discardErr != nil {
		logger.Warn("discard staging dir failed", zap.String("dir", result.StagingDir), zap.Error(discardErr))
	}
	if err != nil {
		w.fail(ctx, logger, item, digest, err)
		return
	}

	metrics.ObserveCapture(string(archive.JobStatusSucceeded), item.Target, result.Duration)
	logger.Info("archive stored", zap.String("archive_uri", uri), zap.Int("routes", len(result.Routes)))
	w.finish(ctx, logger, item.JobID, archive.JobUpdate{
		Status:      archive.JobStatusSucceeded,
		ArchiveURI:  uri,
		Fingerprint: digest,
		Routes:      len(result.Routes),
		Abandoned:   len(result.Abandoned),
		Resources:   result.Resources,
	})
}

func (w *Worker) fingerprint(ctx context.Context, target string) string {
	if w.fingerprinter == nil {
		return ""
	}
	fp, ok := w.fingerprinter.Compute(ctx, target)
	if !ok {
		return ""
	}
	return fp.Digest
}

func (w *Worker) unchanged(ctx context.Context, logger *zap.Logger, target, digest string) bool {
	latest, found, err := w.archives.LatestFingerprint(ctx, target)
	if err != nil {
		logger.Warn("fingerprint lookup failed", zap.Error(err))
		return false
	}
	return found && latest == digest
}

func (w *Worker) capture(ctx context.Context, item archive.QueueItem) (archive.CaptureResult, error) {
	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}
	result, err := w.capturer.Run(runCtx, item.JobID, item.Target)
	if err != nil {
		return archive.CaptureResult{}, fmt.Errorf("capture: %w", err)
	}
	return result, nil
}

func (w *Worker) persistAndPublish(
	ctx context.Context,
	item archive.QueueItem,
	result archive.CaptureResult,
	digest string,
) (string, error) {
	uri, err := w.uploader.Upload(ctx, result.RunID, result.StagingDir)
	if err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}

	now := w.clock.Now()
	record := archive.ArchiveRecord{
		RunID:       result.RunID,
		Target:      item.Target,
		ArchiveURI:  uri,
		Fingerprint: digest,
		Routes:      len(result.Routes),
		Resources:   result.Resources,
		CapturedAt:  now,
	}
	if err := w.archives.RecordArchive(ctx, record); err != nil {
		return "", fmt.Errorf("record archive: %w", err)
	}

	if w.cfg.Topic == "" || w.publisher == nil {
		return uri, nil
	}
	event := archive.Completed{
		JobID:       item.JobID,
		Target:      item.Target,
		ArchiveURI:  uri,
		Fingerprint: digest,
		Routes:      record.Routes,
		Resources:   record.Resources,
		Timestamp:   now.Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		return "", fmt.Errorf("publish completion: %w", err)
	}
	return uri, nil
}

func (w *Worker) fail(ctx context.Context, logger *zap.Logger, item archive.QueueItem, digest string, err error) {
	logger.Error("capture job failed", zap.Error(err))
	metrics.ObserveCapture(string(archive.JobStatusFailed), item.Target, 0)
	update := archive.JobUpdate{Status: archive.JobStatusFailed, ErrorText: err.Error(), Fingerprint: digest}
	var runErr *archive.RunError
	if errors.As(err, &runErr) && runErr.Stage == archive.StageDeadline {
		update.ErrorText = fmt.Sprintf("run exceeded its time limit: %v", runErr.Err)
	}
	w.finish(ctx, logger, item.JobID, update)
}

func (w *Worker) finish(ctx context.Context, logger *zap.Logger, jobID string, update archive.JobUpdate) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := w.jobStore.UpdateJob(ctx, jobID, update); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
}
