package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/storage/local"
	storagememory "github.com/JakeFAU/spa-archiver/internal/storage/memory"
	"github.com/JakeFAU/spa-archiver/internal/worker"
)

type captureOptions struct {
	target        string
	outDir        string
	skipUnchanged bool
}

func newCaptureCmd() *cobra.Command {
	var opts captureOptions
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Captures one target and exits",
		Long: `Runs a single capture of --url in-process. The archive goes to the
configured storage backend and ledger, or to --out when given. The final job
record is printed as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runCapture(cmd.Context(), appInstance, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.target, "url", "", "homepage URL of the application to capture")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "write the archive under this local directory instead of the configured storage")
	cmd.Flags().BoolVar(&opts.skipUnchanged, "skip-unchanged", false, "skip the capture when the homepage fingerprint matches the last archive")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

var errCaptureFailed = errors.New("capture failed")

func runCapture(ctx context.Context, appInstance App, opts captureOptions, out io.Writer) error {
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	uploader := appInstance.Uploader()
	if opts.outDir != "" {
		exporter, err := local.New(appInstance.Fs(), local.Config{BaseDir: opts.outDir})
		if err != nil {
			return fmt.Errorf("prepare output dir: %w", err)
		}
		uploader = exporter
	}

	jobID, err := appInstance.IDs().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	jobs := storagememory.NewJobStore()
	job := archive.Job{
		ID:            jobID,
		Target:        opts.target,
		SkipUnchanged: opts.skipUnchanged,
		Status:        archive.JobStatusQueued,
		Submitted:     appInstance.Clock().Now(),
	}
	if err := jobs.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	w := worker.New(
		nil,
		jobs,
		appInstance.Pipeline(),
		appInstance.Fingerprinter(),
		uploader,
		appInstance.Archives(),
		appInstance.Publisher(),
		appInstance.Clock(),
		worker.Config{RunTimeout: cfg.Server.RunTimeout, Topic: cfg.PubSub.TopicName},
		logger,
	)
	w.Execute(ctx, archive.QueueItem{
		JobID:         jobID,
		Target:        opts.target,
		SkipUnchanged: opts.skipUnchanged,
		Submitted:     job.Submitted.Unix(),
	})

	final, err := jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read job: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(final); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if final.Status == archive.JobStatusFailed {
		return fmt.Errorf("%w: %s", errCaptureFailed, final.ErrorText)
	}
	logger.Info("capture finished", zap.String("status", string(final.Status)), zap.String("archive_uri", final.ArchiveURI))
	return nil
}
