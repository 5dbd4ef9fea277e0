// Package postgres persists jobs, companies, logs and seed URLs in Postgres.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool used here; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Repository implements crawler.Repository on Postgres.
type Repository struct {
	pool pool
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: p}, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool) (*Repository, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Repository{pool: p}, nil
}

// Migrate creates the tables when they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

const jobColumns = `id, status, total_urls, processed_urls, total_companies, error_count, settings, started_at, completed_at, created_at`

// CreateJob inserts a job row.
func (r *Repository) CreateJob(ctx context.Context, job crawler.Job) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO scrape_jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		job.ID,
		string(job.Status),
		job.TotalURLs,
		job.ProcessedURLs,
		job.TotalCompanies,
		job.ErrorCount,
		settings,
		job.StartedAt,
		job.CompletedAt,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", mapError(err))
	}
	return nil
}

// UpdateJob applies the non-nil fields of update.
func (r *Repository) UpdateJob(ctx context.Context, jobID string, update crawler.JobUpdate) error {
	var status *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}
	var total, processed, companies, errs *int
	if c := update.Counters; c != nil {
		total, processed, companies, errs = &c.TotalURLs, &c.ProcessedURLs, &c.TotalCompanies, &c.ErrorCount
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE scrape_jobs SET
	status = COALESCE($2, status),
	total_urls = COALESCE($3, total_urls),
	processed_urls = COALESCE($4, processed_urls),
	total_companies = COALESCE($5, total_companies),
	error_count = COALESCE($6, error_count),
	started_at = COALESCE($7, started_at),
	completed_at = COALESCE($8, completed_at)
WHERE id = $1`,
		jobID, status, total, processed, companies, errs, update.StartedAt, update.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// GetJob loads one job.
func (r *Repository) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// GetActiveJob returns the newest pending or running job.
func (r *Repository) GetActiveJob(ctx context.Context) (crawler.Job, bool, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+jobColumns+` FROM scrape_jobs
WHERE status IN ($1, $2)
ORDER BY created_at DESC
LIMIT 1`, string(crawler.JobStatusPending), string(crawler.JobStatusRunning))
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, false, nil
	}
	if err != nil {
		return crawler.Job{}, false, fmt.Errorf("get active job: %w", err)
	}
	return job, true, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job      crawler.Job
		status   string
		settings []byte
	)
	err := row.Scan(
		&job.ID,
		&status,
		&job.TotalURLs,
		&job.ProcessedURLs,
		&job.TotalCompanies,
		&job.ErrorCount,
		&settings,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &job.Settings); err != nil {
			return crawler.Job{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	return job, nil
}

const companyColumns = `id, job_id, name, type, domain, city, address, phone, email, rating, review_count, source_url, description, website, status, created_at`

// AddCompany inserts a company row.
func (r *Repository) AddCompany(ctx context.Context, c crawler.Company) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO companies (`+companyColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		c.ID,
		c.JobID,
		c.Name,
		c.Type,
		c.Domain,
		c.City,
		c.Address,
		c.Phone,
		c.Email,
		c.Rating,
		c.ReviewCount,
		c.SourceURL,
		c.Description,
		c.Website,
		string(c.Status),
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert company: %w", mapError(err))
	}
	return nil
}

// ListCompanies returns companies oldest first.
func (r *Repository) ListCompanies(ctx context.Context) ([]crawler.Company, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var companies []crawler.Company
	for rows.Next() {
		var (
			c      crawler.Company
			status string
		)
		err := rows.Scan(
			&c.ID,
			&c.JobID,
			&c.Name,
			&c.Type,
			&c.Domain,
			&c.City,
			&c.Address,
			&c.Phone,
			&c.Email,
			&c.Rating,
			&c.ReviewCount,
			&c.SourceURL,
			&c.Description,
			&c.Website,
			&status,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan company row: %w", err)
		}
		c.Status = crawler.CompanyStatus(status)
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return companies, nil
}

// ClearCompanies deletes every company.
func (r *Repository) ClearCompanies(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM companies`); err != nil {
		return fmt.Errorf("clear companies: %w", err)
	}
	return nil
}

// AddLog inserts a log entry.
func (r *Repository) AddLog(ctx context.Context, entry crawler.LogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO logs (id, level, message, timestamp, job_id) VALUES ($1,$2,$3,$4,$5)`,
		entry.ID, string(entry.Level), entry.Message, entry.Timestamp, entry.JobID,
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListLogs returns entries newest first. An empty jobID lists all jobs.
func (r *Repository) ListLogs(ctx context.Context, jobID string) ([]crawler.LogEntry, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, level, message, timestamp, job_id FROM logs
WHERE ($1::text = '' OR job_id = $1)
ORDER BY timestamp DESC, id DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var entries []crawler.LogEntry
	for rows.Next() {
		var (
			e     crawler.LogEntry
			level string
		)
		if err := rows.Scan(&e.ID, &level, &e.Message, &e.Timestamp, &e.JobID); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		e.Level = crawler.LogLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return entries, nil
}

// ClearLogs deletes every log entry.
func (r *Repository) ClearLogs(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM logs`); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	return nil
}

// AddSeedURL registers a seed URL. Duplicate URLs return crawler.ErrDuplicate.
func (r *Repository) AddSeedURL(ctx context.Context, seed crawler.SeedURL) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO scraping_urls (id, url, name, status, created_at) VALUES ($1,$2,$3,$4,$5)`,
		seed.ID, seed.URL, seed.Name, string(seed.Status), seed.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert seed url %s: %w", seed.URL, mapError(err))
	}
	return nil
}

// ListSeedURLs returns seed URLs oldest first.
func (r *Repository) ListSeedURLs(ctx context.Context) ([]crawler.SeedURL, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, url, name, status, created_at FROM scraping_urls ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list seed urls: %w", err)
	}
	defer rows.Close()

	var seeds []crawler.SeedURL
	for rows.Next() {
		var (
			s      crawler.SeedURL
			status string
		)
		if err := rows.Scan(&s.ID, &s.URL, &s.Name, &status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan seed url row: %w", err)
		}
		s.Status = crawler.SeedURLStatus(status)
		seeds = append(seeds, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seed urls: %w", err)
	}
	return seeds, nil
}

// UpdateSeedURLStatus sets a seed URL's status.
func (r *Repository) UpdateSeedURLStatus(ctx context.Context, id string, status crawler.SeedURLStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE scraping_urls SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update seed url %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update seed url %s: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// RemoveSeedURL deletes one seed URL.
func (r *Repository) RemoveSeedURL(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM scraping_urls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove seed url %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove seed url %s: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// ClearSeedURLs deletes every seed URL.
func (r *Repository) ClearSeedURLs(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM scraping_urls`); err != nil {
		return fmt.Errorf("clear seed urls: %w", err)
	}
	return nil
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", crawler.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
