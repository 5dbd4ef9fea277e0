// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Repository implements crawler.Repository with maps guarded by a RWMutex.
// Reads return copies.
type Repository struct {
	mu        sync.RWMutex
	jobs      map[string]crawler.Job
	companies []crawler.Company
	logs      []crawler.LogEntry
	seeds     []crawler.SeedURL
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{jobs: make(map[string]crawler.Job)}
}

// CreateJob stores a new job.
func (r *Repository) CreateJob(_ context.Context, job crawler.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrDuplicate)
	}
	r.jobs[job.ID] = job
	return nil
}

// UpdateJob merges a partial update into an existing job.
func (r *Repository) UpdateJob(_ context.Context, jobID string, update crawler.JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	update.Apply(&job)
	r.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (r *Repository) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return job, nil
}

// GetActiveJob returns the most recently created pending or running job.
func (r *Repository) GetActiveJob(_ context.Context) (crawler.Job, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		active crawler.Job
		found  bool
	)
	for _, job := range r.jobs {
		if !job.Status.Active() {
			continue
		}
		if !found || job.CreatedAt.After(active.CreatedAt) {
			active, found = job, true
		}
	}
	return active, found, nil
}

// AddCompany appends a company record.
func (r *Repository) AddCompany(_ context.Context, company crawler.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.companies = append(r.companies, company)
	return nil
}

// ListCompanies returns companies in insertion order.
func (r *Repository) ListCompanies(_ context.Context) ([]crawler.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.companies), nil
}

// ClearCompanies drops every company.
func (r *Repository) ClearCompanies(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.companies = nil
	return nil
}

// AddLog appends a log entry.
func (r *Repository) AddLog(_ context.Context, entry crawler.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

// ListLogs returns entries newest first, optionally for one job.
func (r *Repository) ListLogs(_ context.Context, jobID string) ([]crawler.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.LogEntry, 0, len(r.logs))
	for i := len(r.logs) - 1; i >= 0; i-- {
		if jobID != "" && r.logs[i].JobID != jobID {
			continue
		}
		out = append(out, r.logs[i])
	}
	slices.SortStableFunc(out, func(a, b crawler.LogEntry) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out, nil
}

// ClearLogs drops every log entry.
func (r *Repository) ClearLogs(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = nil
	return nil
}

// AddSeedURL registers a seed URL; the URL must be unique.
func (r *Repository) AddSeedURL(_ context.Context, seed crawler.SeedURL) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.seeds {
		if existing.URL == seed.URL || existing.ID == seed.ID {
			return fmt.Errorf("add seed url %s: %w", seed.URL, crawler.ErrDuplicate)
		}
	}
	r.seeds = append(r.seeds, seed)
	return nil
}

// ListSeedURLs returns seed URLs in registration order.
func (r *Repository) ListSeedURLs(_ context.Context) ([]crawler.SeedURL, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.seeds), nil
}

// UpdateSeedURLStatus sets the status of one seed URL.
func (r *Repository) UpdateSeedURLStatus(_ context.Context, id string, status crawler.SeedURLStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.seeds {
		if r.seeds[i].ID == id {
			r.seeds[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("update seed url %s: %w", id, crawler.ErrNotFound)
}

// RemoveSeedURL deletes one seed URL.
func (r *Repository) RemoveSeedURL(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.seeds, func(s crawler.SeedURL) bool { return s.ID == id })
	if idx < 0 {
		return fmt.Errorf("remove seed url %s: %w", id, crawler.ErrNotFound)
	}
	r.seeds = slices.Delete(r.seeds, idx, idx+1)
	return nil
}

// ClearSeedURLs drops every seed URL.
func (r *Repository) ClearSeedURLs(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeds = nil
	return nil
}

// Close is a no-op.
func (r *Repository) Close() error { return nil }
