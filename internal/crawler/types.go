package crawler

import (
	"net/http"
	"strings"
	"time"
)

// JobStatus captures the lifecycle state of a scrape job.
type JobStatus string

const (
	// JobStatusPending marks a job that has been created but not started.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning marks a job that is actively walking its seed URLs.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted marks a job that visited every seed URL.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusStopped marks a job halted by a stop request.
	JobStatusStopped JobStatus = "stopped"
	// JobStatusError marks a job aborted by a fatal error.
	JobStatusError JobStatus = "error"
)

// Active reports whether the status occupies the single job slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusStopped, JobStatusError:
		return true
	default:
		return false
	}
}

// Settings tune a single scrape run.
type Settings struct {
	ReviewLimit int     `json:"reviewLimit"`
	DelayMs     int     `json:"delay"`
	MinRating   float64 `json:"minRating"`
	// ConcurrentRequests is accepted for compatibility; URLs are processed sequentially.
	ConcurrentRequests int `json:"concurrentRequests"`
	// CORSProxy names a preferred relay. The rotator still owns ordering.
	CORSProxy     string `json:"corsProxy,omitempty"`
	RetryAttempts int    `json:"retryAttempts"`
	OutputFormat  string `json:"outputFormat,omitempty"`
	IncludeImages bool   `json:"includeImages"`
}

// DefaultSettings mirrors the values used when a client omits settings.
func DefaultSettings() Settings {
	return Settings{
		ReviewLimit:        50,
		DelayMs:            2000,
		MinRating:          0,
		ConcurrentRequests: 1,
		RetryAttempts:      3,
		OutputFormat:       "csv",
	}
}

// Delay converts DelayMs into a duration.
func (s Settings) Delay() time.Duration {
	if s.DelayMs <= 0 {
		return 0
	}
	return time.Duration(s.DelayMs) * time.Millisecond
}

// JobCounters aggregates progress for a job.
type JobCounters struct {
	TotalURLs      int `json:"totalUrls"`
	ProcessedURLs  int `json:"processedUrls"`
	TotalCompanies int `json:"totalCompanies"`
	ErrorCount     int `json:"errorCount"`
}

// Job is a single scrape run over a list of seed URLs.
type Job struct {
	ID string `json:"id"`
	JobCounters
	Status      JobStatus  `json:"status"`
	Settings    Settings   `json:"settings"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// JobUpdate is a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status      *JobStatus
	Counters    *JobCounters
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Apply merges the update into job.
func (u JobUpdate) Apply(job *Job) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Counters != nil {
		job.JobCounters = *u.Counters
	}
	if u.StartedAt != nil {
		started := *u.StartedAt
		job.StartedAt = &started
	}
	if u.CompletedAt != nil {
		completed := *u.CompletedAt
		job.CompletedAt = &completed
	}
}

// CompanyStatus is the record state of a harvested company.
type CompanyStatus string

// CompanyStatusComplete is set on every persisted company.
const CompanyStatusComplete CompanyStatus = "complete"

// Company is one harvested business record. Empty strings mean "unknown".
type Company struct {
	ID          string        `json:"id"`
	JobID       string        `json:"jobId,omitempty"`
	Name        string        `json:"name"`
	Type        string        `json:"type,omitempty"`
	Domain      string        `json:"domain,omitempty"`
	City        string        `json:"city,omitempty"`
	Address     string        `json:"address,omitempty"`
	Phone       string        `json:"phone,omitempty"`
	Email       string        `json:"email,omitempty"`
	Rating      *float64      `json:"rating,omitempty"`
	ReviewCount *int          `json:"reviewCount,omitempty"`
	SourceURL   string        `json:"sourceUrl"`
	Description string        `json:"description,omitempty"`
	Website     string        `json:"website,omitempty"`
	Status      CompanyStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// NameKey is the case-insensitive identity used for de-duplication.
func (c Company) NameKey() string {
	return strings.ToLower(strings.Join(strings.Fields(c.Name), " "))
}

// LogLevel classifies a log entry.
type LogLevel string

const (
	// LogLevelInfo is routine progress.
	LogLevelInfo LogLevel = "info"
	// LogLevelSuccess marks a positive outcome.
	LogLevelSuccess LogLevel = "success"
	// LogLevelWarning marks a recoverable problem.
	LogLevelWarning LogLevel = "warning"
	// LogLevelError marks a failure.
	LogLevelError LogLevel = "error"
)

// LogEntry is an append-only, user-visible job log line.
type LogEntry struct {
	ID        string    `json:"id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"jobId,omitempty"`
}

// SeedURLStatus is the lifecycle of a registered seed URL.
type SeedURLStatus string

const (
	// SeedURLPending has not been scraped yet.
	SeedURLPending SeedURLStatus = "pending"
	// SeedURLProcessing is being scraped.
	SeedURLProcessing SeedURLStatus = "processing"
	// SeedURLCompleted was scraped.
	SeedURLCompleted SeedURLStatus = "completed"
	// SeedURLError failed to scrape.
	SeedURLError SeedURLStatus = "error"
)

// SeedURL is a registered listing URL.
type SeedURL struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Name      string        `json:"name"`
	Status    SeedURLStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// TransportRequest is a single outbound HTTP GET.
type TransportRequest struct {
	URL     string
	Timeout time.Duration
	Headers http.Header
}

// TransportResponse is the raw result of a TransportRequest.
type TransportResponse struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
