package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/api"
	"github.com/JakeFAU/spa-archiver/internal/dispatcher"
	queuememory "github.com/JakeFAU/spa-archiver/internal/queue/memory"
	storagememory "github.com/JakeFAU/spa-archiver/internal/storage/memory"
	"github.com/JakeFAU/spa-archiver/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the capture API and worker pool",
		Long: `Starts the HTTP API and a fixed pool of capture workers fed by a bounded
in-memory queue. SIGINT or SIGTERM drains the server and stops the workers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, appInstance)
		},
	}
}

// serve blocks until ctx is done or the listener fails.
func serve(ctx context.Context, appInstance App) error {
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobStore := storagememory.NewJobStore()
	queue := queuememory.NewQueue(cfg.Server.QueueDepth)

	workerCfg := worker.Config{
		RunTimeout: cfg.Server.RunTimeout,
		Topic:      cfg.PubSub.TopicName,
	}
	var workers []dispatcher.Runner
	for i := 0; i < cfg.Server.MaxConcurrentRuns; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			appInstance.Pipeline(),
			appInstance.Fingerprinter(),
			appInstance.Uploader(),
			appInstance.Archives(),
			appInstance.Publisher(),
			appInstance.Clock(),
			workerCfg,
			logger.With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers, dispatcher.DefaultEnqueueTimeout)

	var fingerprinter api.Fingerprinter
	if fp := appInstance.Fingerprinter(); fp != nil {
		fingerprinter = fp
	}
	apiServer := api.NewServer(jobStore, dispatch, fingerprinter, appInstance.IDs(), appInstance.Clock(), cfg, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-dispatchDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
