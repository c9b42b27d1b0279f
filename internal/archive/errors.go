package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes a capture run distinguishes.
var (
	// ErrRunFailure marks a failure that aborts the whole capture run.
	ErrRunFailure = errors.New("capture run failed")
	// ErrRouteNavigation marks a route that could not be navigated to.
	ErrRouteNavigation = errors.New("route navigation failed")
	// ErrNoBody is returned when a redirect response carries no body.
	ErrNoBody = errors.New("redirect has no body")
	// ErrBodyEvicted is returned when the browser dropped the body from its cache.
	ErrBodyEvicted = errors.New("response body evicted")
	// ErrNoContent is returned for empty no-content responses.
	ErrNoContent = errors.New("response has no content")
	// ErrRewrite marks text that could not be rewritten.
	ErrRewrite = errors.New("rewrite failed")
)

// Run stages that can produce a RunError.
const (
	StageLaunch   = "launch"
	StageHomepage = "homepage"
	StageStaging  = "staging"
	StageDeadline = "deadline"
)

// RunError is the only error a capture run propagates to its caller.
type RunError struct {
	Stage string
	Err   error
}

// NewRunError wraps err as a fatal failure of the given stage.
func NewRunError(stage string, err error) *RunError {
	return &RunError{Stage: stage, Err: err}
}

func (e *RunError) Error() string {
	return fmt.Sprintf("capture run failed at %s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRunFailure) match any RunError.
func (e *RunError) Is(target error) bool {
	return target == ErrRunFailure
}

// IsBenignReadError reports whether a body read failure is expected and must
// not be surfaced above informational level.
func IsBenignReadError(err error) bool {
	return errors.Is(err, ErrNoBody) || errors.Is(err, ErrBodyEvicted) || errors.Is(err, ErrNoContent)
}
