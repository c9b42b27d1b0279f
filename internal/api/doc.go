// Package api hosts the HTTP server, middleware, and REST handlers of the
// archiver service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/captures to submit a capture job, GET /v1/captures/{job_id} to poll it.
//   - GET /v1/fingerprint?url= to compute a live homepage digest on demand.
package api
