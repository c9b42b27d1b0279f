// Package main hosts the spa-archiver entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts capture submissions, validates the target URL, rate limits per host,
//     persists a queued job and hands it to the dispatcher. Job state and live fingerprints are readable over GET.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by server.queue_depth and are consumed
//     by a fixed worker pool sized by server.max_concurrent_runs. A full queue is reported to the client as 503.
//   - Capture pipeline: each worker drives one chromedp page through the homepage and every discovered route,
//     collecting response bodies, then materializes a rewritten offline copy into a staging folder.
//   - Persistence & fanout: the staging folder is uploaded to the configured backend (local directory or GCS), the
//     run is recorded in the archive ledger (Postgres when a DSN is set, memory otherwise) and a completion event is
//     published to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from file and ARCHIVER_* env vars; zap provides structured
//     logging; Prometheus metrics are exported on /metrics.
//
// Commands:
//   - serve: run the API and worker pool until SIGINT or SIGTERM.
//   - capture --url URL [--out DIR] [--skip-unchanged]: run one capture in-process and print the job as JSON.
//   - fingerprint --url URL: print the live homepage digest, or "unknown".
package main
