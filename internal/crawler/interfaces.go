package crawler

import (
	"context"
	"io"
	"time"
)

// JobStore is the persistence contract the pipeline writes through.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// GetActiveJob returns the job in pending or running state, if any.
	GetActiveJob(ctx context.Context) (Job, bool, error)
	AddCompany(ctx context.Context, company Company) error
	AddLog(ctx context.Context, entry LogEntry) error
}

// Repository extends JobStore with the read side used by the API.
type Repository interface {
	JobStore
	ListCompanies(ctx context.Context) ([]Company, error)
	ClearCompanies(ctx context.Context) error
	// ListLogs returns entries newest first. An empty jobID lists everything.
	ListLogs(ctx context.Context, jobID string) ([]LogEntry, error)
	ClearLogs(ctx context.Context) error
	AddSeedURL(ctx context.Context, seed SeedURL) error
	ListSeedURLs(ctx context.Context) ([]SeedURL, error)
	UpdateSeedURLStatus(ctx context.Context, id string, status SeedURLStatus) error
	RemoveSeedURL(ctx context.Context, id string) error
	ClearSeedURLs(ctx context.Context) error
	Close() error
}

// Transport performs a single HTTP GET.
type Transport interface {
	Get(ctx context.Context, request TransportRequest) (TransportResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time and waits between steps (swappable in tests).
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// PageNamer picks the archive object path for a fetched page.
type PageNamer interface {
	PagePath(jobID string, html []byte) (string, error)
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
