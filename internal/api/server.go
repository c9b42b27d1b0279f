package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/spa-archiver/internal/archive"
	"github.com/JakeFAU/spa-archiver/internal/config"
	"github.com/JakeFAU/spa-archiver/internal/dispatcher"
	"github.com/JakeFAU/spa-archiver/internal/metrics"
)

// Enqueuer admits capture jobs for execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, item archive.QueueItem) error
}

// Fingerprinter computes live homepage digests.
type Fingerprinter interface {
	Compute(ctx context.Context, target string) (archive.Fingerprint, bool)
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router        chi.Router
	jobStore      archive.JobStore
	enqueuer      Enqueuer
	fingerprinter Fingerprinter
	idGen         archive.IDGenerator
	clock         archive.Clock
	limiter       *hostLimiter
	logger        *zap.Logger
}

// NewServer constructs a Server with middleware and routes. fingerprinter may
// be nil when fingerprinting is disabled.
func NewServer(
	jobStore archive.JobStore,
	enqueuer Enqueuer,
	fingerprinter Fingerprinter,
	idGen archive.IDGenerator,
	clock archive.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:      jobStore,
		enqueuer:      enqueuer,
		fingerprinter: fingerprinter,
		idGen:         idGen,
		clock:         clock,
		limiter:       newHostLimiter(cfg.Server.SubmitRPS, cfg.Server.SubmitBurst),
		logger:        logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/captures", s.submitCapture)
		r.Get("/captures/{job_id}", s.getCapture)
		r.Get("/fingerprint", s.getFingerprint)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type captureRequest struct {
	URL           string `json:"url"`
	SkipUnchanged bool   `json:"skip_unchanged"`
}

func (s *Server) submitCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target, err := validateTarget(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.limiter.Allow(target.Hostname()) {
		writeError(w, http.StatusTooManyRequests, "too many capture requests for "+target.Hostname())
		return
	}

	jobID, err := s.enqueueJob(r.Context(), target.String(), req.SkipUnchanged)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dispatcher.ErrQueueFull):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getCapture(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type fingerprintResponse struct {
	URL        string     `json:"url"`
	Digest     *string    `json:"digest"`
	ComputedAt *time.Time `json:"computed_at,omitempty"`
}

func (s *Server) getFingerprint(w http.ResponseWriter, r *http.Request) {
	if s.fingerprinter == nil {
		writeError(w, http.StatusNotImplemented, "fingerprinting is disabled")
		return
	}
	target, err := validateTarget(r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := fingerprintResponse{URL: target.String()}
	if fp, ok := s.fingerprinter.Compute(r.Context(), target.String()); ok {
		resp.Digest = &fp.Digest
		resp.ComputedAt = &fp.ComputedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) enqueueJob(ctx context.Context, target string, skipUnchanged bool) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := archive.Job{
		ID:            jobID,
		Target:        target,
		SkipUnchanged: skipUnchanged,
		Status:        archive.JobStatusQueued,
		Submitted:     now,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	item := archive.QueueItem{
		JobID:         jobID,
		Target:        target,
		SkipUnchanged: skipUnchanged,
		Submitted:     now.Unix(),
	}
	if err := s.enqueuer.Enqueue(ctx, item); err != nil {
		update := archive.JobUpdate{Status: archive.JobStatusFailed, ErrorText: "not admitted: " + err.Error()}
		if updateErr := s.jobStore.UpdateJob(context.WithoutCancel(ctx), jobID, update); updateErr != nil {
			s.logger.Error("mark rejected job failed", zap.String("job_id", jobID), zap.Error(updateErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	s.logger.Info("capture job queued", zap.String("job_id", jobID), zap.String("target", target))
	return jobID, nil
}

func validateTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("url required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, errors.New("url must be an absolute http or https URL")
	}
	u.Fragment = ""
	return u, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
