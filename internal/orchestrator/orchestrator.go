// Package orchestrator runs scrape jobs: one job at a time, one seed URL at a
// time, with cooperative stop requests observed between URLs and pages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/journal"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/pagination"
)

var errNotBegun = errors.New("job does not hold the active slot")

// Collector walks one seed URL.
type Collector interface {
	Collect(ctx context.Context, req pagination.Request) (int, error)
}

// URLTracker follows each seed URL through a job.
type URLTracker interface {
	TrackURL(ctx context.Context, url string, status crawler.SeedURLStatus) error
}

// Config controls Orchestrator behavior.
type Config struct {
	// Topic receives a completion event per job when a publisher is configured.
	Topic string
	// Tracker, when set, hears processing and then completed or error for
	// every seed URL the job reaches.
	Tracker URLTracker
}

// Orchestrator owns the single active job slot.
type Orchestrator struct {
	store     crawler.JobStore
	collector Collector
	journal   *journal.Journal
	publisher crawler.Publisher
	clock     crawler.Clock
	ids       crawler.IDGenerator
	cfg       Config
	logger    *zap.Logger

	mu            sync.Mutex
	running       bool
	stopRequested bool
	jobID         string
}

// New constructs an Orchestrator. publisher may be nil.
func New(
	store crawler.JobStore,
	collector Collector,
	j *journal.Journal,
	publisher crawler.Publisher,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if j == nil {
		j = journal.New(store, ids, clock, logger)
	}
	return &Orchestrator{
		store:     store,
		collector: collector,
		journal:   j,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Begin claims the active slot and persists a pending job. It fails with
// crawler.ErrConcurrencyConflict, before writing anything, when another job
// is pending or running. A successful Begin must be followed by Run.
func (o *Orchestrator) Begin(ctx context.Context, seedURLs []string, settings crawler.Settings) (crawler.Job, error) {
	if len(seedURLs) == 0 {
		return crawler.Job{}, errors.New("at least one seed url is required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return crawler.Job{}, fmt.Errorf("begin job: %w", crawler.ErrConcurrencyConflict)
	}
	active, found, err := o.store.GetActiveJob(ctx)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("check active job: %w", err)
	}
	if found {
		o.logger.Warn("job already active", zap.String("job_id", active.ID), zap.String("status", string(active.Status)))
		return crawler.Job{}, fmt.Errorf("begin job: job %s is %s: %w", active.ID, active.Status, crawler.ErrConcurrencyConflict)
	}

	id, err := o.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:          id,
		JobCounters: crawler.JobCounters{TotalURLs: len(seedURLs)},
		Status:      crawler.JobStatusPending,
		Settings:    settings,
		CreatedAt:   o.clock.Now(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	o.running = true
	o.stopRequested = false
	o.jobID = id
	return job, nil
}

// Start is Begin followed by a synchronous Run.
func (o *Orchestrator) Start(ctx context.Context, seedURLs []string, settings crawler.Settings) (crawler.Job, error) {
	job, err := o.Begin(ctx, seedURLs, settings)
	if err != nil {
		return crawler.Job{}, err
	}
	if err := o.Run(ctx, job.ID, seedURLs, settings); err != nil {
		return job, err
	}
	return job, nil
}

// RequestStop asks the running job to halt at the next URL or page boundary.
// It reports whether a job was running.
func (o *Orchestrator) RequestStop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return false
	}
	o.stopRequested = true
	return true
}

// Active returns the ID of the job holding the slot.
func (o *Orchestrator) Active() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobID, o.running
}

func (o *Orchestrator) stopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopRequested
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.stopRequested = false
	o.jobID = ""
}

// Run walks seedURLs in order for a job claimed by Begin. Only fatal failures
// are returned, as a *crawler.JobFatalError; per-URL failures are counted and
// logged. The active slot is always released on return.
func (o *Orchestrator) Run(ctx context.Context, jobID string, seedURLs []string, settings crawler.Settings) (err error) {
	o.mu.Lock()
	owned := o.running && o.jobID == jobID
	o.mu.Unlock()
	if !owned {
		return fmt.Errorf("run job %s: %w", jobID, errNotBegun)
	}

	started := o.clock.Now()
	metrics.SetJobActive(true)
	status := crawler.JobStatusError
	defer func() {
		if r := recover(); r != nil {
			err = &crawler.JobFatalError{JobID: jobID, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			status = crawler.JobStatusError
			o.fail(ctx, jobID, err)
		}
		metrics.ObserveJob(string(status), o.clock.Now().Sub(started))
		metrics.SetJobActive(false)
		o.release()
	}()

	status, err = o.execute(ctx, jobID, seedURLs, settings, started)
	return err
}

func (o *Orchestrator) execute(
	ctx context.Context,
	jobID string,
	seedURLs []string,
	settings crawler.Settings,
	started time.Time,
) (crawler.JobStatus, error) {
	running := crawler.JobStatusRunning
	if err := o.store.UpdateJob(ctx, jobID, crawler.JobUpdate{Status: &running, StartedAt: &started}); err != nil {
		return crawler.JobStatusError, &crawler.JobFatalError{JobID: jobID, Err: fmt.Errorf("mark running: %w", err)}
	}
	o.journal.Info(ctx, jobID, "Scraping process initiated", zap.Int("urls", len(seedURLs)))

	counters := crawler.JobCounters{TotalURLs: len(seedURLs)}
	sink := newRunSink(o.store, o.ids, o.clock, jobID)
	halted := false
	inFlight := ""
	defer func() {
		if inFlight != "" {
			o.track(context.WithoutCancel(ctx), inFlight, crawler.SeedURLError)
		}
	}()
	for i, seedURL := range seedURLs {
		if o.stopped() || ctx.Err() != nil {
			halted = true
			break
		}
		o.journal.Info(ctx, jobID, fmt.Sprintf("Processing URL: %s", seedURL), zap.String("url", seedURL))
		inFlight = seedURL
		o.track(ctx, seedURL, crawler.SeedURLProcessing)

		found, err := o.collector.Collect(ctx, pagination.Request{
			JobID:    jobID,
			SeedURL:  seedURL,
			Settings: settings,
			Sink:     sink.add,
			Stopped:  o.stopped,
		})
		counters.TotalCompanies += found
		if err != nil && ctx.Err() != nil {
			halted = true
			break
		}
		inFlight = ""
		if err != nil {
			counters.ErrorCount++
			o.journal.Error(ctx, jobID, fmt.Sprintf("Failed to process URL %s: %s", seedURL, err),
				zap.String("url", seedURL), zap.Error(err))
			o.track(ctx, seedURL, crawler.SeedURLError)
		} else {
			o.journal.Success(ctx, jobID, fmt.Sprintf("Found %d companies from %s", found, seedURL),
				zap.String("url", seedURL))
			o.track(ctx, seedURL, crawler.SeedURLCompleted)
		}
		counters.ProcessedURLs++

		snapshot := counters
		if err := o.store.UpdateJob(ctx, jobID, crawler.JobUpdate{Counters: &snapshot}); err != nil {
			return crawler.JobStatusError, &crawler.JobFatalError{JobID: jobID, Err: fmt.Errorf("persist counters: %w", err)}
		}

		if i < len(seedURLs)-1 {
			if err := o.clock.Sleep(ctx, settings.Delay()); err != nil {
				halted = true
				break
			}
		}
	}

	// A stop honored inside the last URL ends the loop normally.
	if o.stopped() || ctx.Err() != nil {
		halted = true
	}
	final := crawler.JobStatusCompleted
	if halted {
		final = crawler.JobStatusStopped
		o.journal.Warning(ctx, jobID, "Scraping stopped by user request")
	}
	completed := o.clock.Now()
	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.UpdateJob(persistCtx, jobID, crawler.JobUpdate{
		Status:      &final,
		Counters:    &counters,
		CompletedAt: &completed,
	}); err != nil {
		return crawler.JobStatusError, &crawler.JobFatalError{JobID: jobID, Err: fmt.Errorf("mark %s: %w", final, err)}
	}
	o.journal.Success(persistCtx, jobID, fmt.Sprintf(
		"Scraping %s. Processed %d/%d URLs, found %d companies with %d errors.",
		final, counters.ProcessedURLs, counters.TotalURLs, counters.TotalCompanies, counters.ErrorCount,
	))
	o.publishCompletion(persistCtx, jobID, final, counters, completed)
	return final, nil
}

func (o *Orchestrator) track(ctx context.Context, seedURL string, status crawler.SeedURLStatus) {
	if o.cfg.Tracker == nil {
		return
	}
	if err := o.cfg.Tracker.TrackURL(ctx, seedURL, status); err != nil {
		o.logger.Warn("track seed url failed",
			zap.String("url", seedURL), zap.String("status", string(status)), zap.Error(err))
	}
}

// fail moves the job to error. It runs detached from ctx so a canceled
// parent still leaves a terminal status behind.
func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	status := crawler.JobStatusError
	completed := o.clock.Now()
	if err := o.store.UpdateJob(ctx, jobID, crawler.JobUpdate{Status: &status, CompletedAt: &completed}); err != nil {
		o.logger.Error("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	o.journal.Error(ctx, jobID, fmt.Sprintf("Scraping failed: %s", cause), zap.Error(cause))
}

func (o *Orchestrator) publishCompletion(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	counters crawler.JobCounters,
	completed time.Time,
) {
	if o.cfg.Topic == "" || o.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":          jobID,
		"status":          string(status),
		"total_urls":      counters.TotalURLs,
		"processed_urls":  counters.ProcessedURLs,
		"total_companies": counters.TotalCompanies,
		"error_count":     counters.ErrorCount,
		"completed_at":    completed.Format(time.RFC3339),
	}
	msgID, err := o.publisher.Publish(ctx, o.cfg.Topic, payload)
	if err != nil {
		o.logger.Warn("publish job completion failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	o.logger.Info("job completion published",
		zap.String("job_id", jobID),
		zap.String("topic", o.cfg.Topic),
		zap.String("message_id", msgID),
	)
}
