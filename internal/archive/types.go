// Package archive defines the domain types shared by the capture pipeline and
// the service that drives it.
package archive

import (
	"context"
	"time"
)

// ResourceType mirrors the browser's classification of a network response.
type ResourceType string

// Resource types reported by the browser that the pipeline treats specially.
const (
	ResourceDocument   ResourceType = "Document"
	ResourceStylesheet ResourceType = "Stylesheet"
	ResourceScript     ResourceType = "Script"
	ResourceImage      ResourceType = "Image"
	ResourceFont       ResourceType = "Font"
	ResourceXHR        ResourceType = "XHR"
	ResourceFetch      ResourceType = "Fetch"
	ResourceOther      ResourceType = "Other"
)

// CapturedResource is one response body held in the run registry.
type CapturedResource struct {
	URL        string
	Body       []byte
	Type       ResourceType
	MIMEType   string
	CapturedAt time.Time
}

// RouteRecord is the rendered markup of one successfully visited route.
type RouteRecord struct {
	Path      string    `json:"path"`
	Markup    string    `json:"-"`
	HadCharts bool      `json:"had_charts"`
	VisitedAt time.Time `json:"visited_at"`
}

// Fingerprint is a content digest of the live homepage markup.
type Fingerprint struct {
	Digest     string    `json:"digest"`
	ComputedAt time.Time `json:"computed_at"`
}

// Response is a network response observed on a page. ReadBody fetches the
// body lazily; it must not be invoked from the browser's event goroutine.
type Response struct {
	URL      string
	Type     ResourceType
	Status   int
	MIMEType string
	ReadBody func(ctx context.Context) ([]byte, error)
}

// CaptureResult summarizes a finished capture run.
type CaptureResult struct {
	RunID      string
	Target     string
	StagingDir string
	Routes     []RouteRecord
	Abandoned  []string
	Resources  int
	Duration   time.Duration
}
