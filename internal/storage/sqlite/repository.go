// Package sqlite persists jobs, companies, logs and seed URLs in an embedded
// SQLite database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// timeLayout is fixed-width UTC so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const migration = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	total_urls      INTEGER NOT NULL DEFAULT 0,
	processed_urls  INTEGER NOT NULL DEFAULT 0,
	total_companies INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0,
	settings        TEXT NOT NULL DEFAULT '{}',
	started_at      TEXT,
	completed_at    TEXT,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	rating       REAL,
	review_count INTEGER,
	source_url   TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'complete',
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
	id        TEXT PRIMARY KEY,
	level     TEXT NOT NULL,
	message   TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	job_id    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scraping_urls (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs(status);
CREATE INDEX IF NOT EXISTS idx_companies_job_id ON companies(job_id);
CREATE INDEX IF NOT EXISTS idx_logs_job_id ON logs(job_id, timestamp);
`

// Repository implements crawler.Repository on SQLite.
type Repository struct {
	db *sql.DB
}

// New opens the database at dsn (a file path or ":memory:") and applies the
// schema. A single connection is kept so ":memory:" databases persist.
func New(ctx context.Context, dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	repo := &Repository{db: db}
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Migrate creates the tables when they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

const jobColumns = `id, status, total_urls, processed_urls, total_companies, error_count, settings, started_at, completed_at, created_at`

// CreateJob inserts a job row.
func (r *Repository) CreateJob(ctx context.Context, job crawler.Job) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO scrape_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Status),
		job.TotalURLs,
		job.ProcessedURLs,
		job.TotalCompanies,
		job.ErrorCount,
		string(settings),
		formatOptional(job.StartedAt),
		formatOptional(job.CompletedAt),
		formatTime(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", mapError(err))
	}
	return nil
}

// UpdateJob applies the non-nil fields of update.
func (r *Repository) UpdateJob(ctx context.Context, jobID string, update crawler.JobUpdate) error {
	var status, total, processed, companies, errs any
	if update.Status != nil {
		status = string(*update.Status)
	}
	if c := update.Counters; c != nil {
		total, processed, companies, errs = c.TotalURLs, c.ProcessedURLs, c.TotalCompanies, c.ErrorCount
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE scrape_jobs SET
	status = COALESCE(?, status),
	total_urls = COALESCE(?, total_urls),
	processed_urls = COALESCE(?, processed_urls),
	total_companies = COALESCE(?, total_companies),
	error_count = COALESCE(?, error_count),
	started_at = COALESCE(?, started_at),
	completed_at = COALESCE(?, completed_at)
WHERE id = ?`,
		status, total, processed, companies, errs,
		formatOptional(update.StartedAt), formatOptional(update.CompletedAt),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return checkRowsAffected(res, fmt.Sprintf("update job %s", jobID), crawler.ErrJobNotFound)
}

// GetJob loads one job.
func (r *Repository) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// GetActiveJob returns the newest pending or running job.
func (r *Repository) GetActiveJob(ctx context.Context) (crawler.Job, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
		string(crawler.JobStatusPending), string(crawler.JobStatusRunning),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Job{}, false, nil
	}
	if err != nil {
		return crawler.Job{}, false, fmt.Errorf("get active job: %w", err)
	}
	return job, true, nil
}

func scanJob(row *sql.Row) (crawler.Job, error) {
	var (
		job                         crawler.Job
		status, settings, createdAt string
		startedAt, completedAt      sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&status,
		&job.TotalURLs,
		&job.ProcessedURLs,
		&job.TotalCompanies,
		&job.ErrorCount,
		&settings,
		&startedAt,
		&completedAt,
		&createdAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if err := json.Unmarshal([]byte(settings), &job.Settings); err != nil {
		return crawler.Job{}, fmt.Errorf("decode settings: %w", err)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return crawler.Job{}, err
	}
	if job.StartedAt, err = parseOptional(startedAt); err != nil {
		return crawler.Job{}, err
	}
	if job.CompletedAt, err = parseOptional(completedAt); err != nil {
		return crawler.Job{}, err
	}
	return job, nil
}

const companyColumns = `id, job_id, name, type, domain, city, address, phone, email, rating, review_count, source_url, description, website, status, created_at`

// AddCompany inserts a company row.
func (r *Repository) AddCompany(ctx context.Context, c crawler.Company) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO companies (`+companyColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.JobID,
		c.Name,
		c.Type,
		c.Domain,
		c.City,
		c.Address,
		c.Phone,
		c.Email,
		nullFloat(c.Rating),
		nullInt(c.ReviewCount),
		c.SourceURL,
		c.Description,
		c.Website,
		string(c.Status),
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert company: %w", mapError(err))
	}
	return nil
}

// ListCompanies returns companies in insertion order.
func (r *Repository) ListCompanies(ctx context.Context) ([]crawler.Company, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var companies []crawler.Company
	for rows.Next() {
		var (
			c                 crawler.Company
			status, createdAt string
			rating            sql.NullFloat64
			reviews           sql.NullInt64
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
			&rating,
			&reviews,
			&c.SourceURL,
			&c.Description,
			&c.Website,
			&status,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan company row: %w", err)
		}
		c.Status = crawler.CompanyStatus(status)
		if rating.Valid {
			v := rating.Float64
			c.Rating = &v
		}
		if reviews.Valid {
			v := int(reviews.Int64)
			c.ReviewCount = &v
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return companies, nil
}

// ClearCompanies deletes every company.
func (r *Repository) ClearCompanies(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM companies`); err != nil {
		return fmt.Errorf("clear companies: %w", err)
	}
	return nil
}

// AddLog inserts a log entry.
func (r *Repository) AddLog(ctx context.Context, entry crawler.LogEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO logs (id, level, message, timestamp, job_id) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Level), entry.Message, formatTime(entry.Timestamp), entry.JobID,
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListLogs returns entries newest first. An empty jobID lists all jobs.
func (r *Repository) ListLogs(ctx context.Context, jobID string) ([]crawler.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, level, message, timestamp, job_id FROM logs
WHERE (? = '' OR job_id = ?)
ORDER BY timestamp DESC, rowid DESC`, jobID, jobID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var entries []crawler.LogEntry
	for rows.Next() {
		var (
			e            crawler.LogEntry
			level, stamp string
		)
		if err := rows.Scan(&e.ID, &level, &e.Message, &stamp, &e.JobID); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		e.Level = crawler.LogLevel(level)
		if e.Timestamp, err = parseTime(stamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return entries, nil
}

// ClearLogs deletes every log entry.
func (r *Repository) ClearLogs(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM logs`); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	return nil
}

// AddSeedURL registers a seed URL. Duplicate URLs return crawler.ErrDuplicate.
func (r *Repository) AddSeedURL(ctx context.Context, seed crawler.SeedURL) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scraping_urls (id, url, name, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		seed.ID, seed.URL, seed.Name, string(seed.Status), formatTime(seed.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert seed url %s: %w", seed.URL, mapError(err))
	}
	return nil
}

// ListSeedURLs returns seed URLs in registration order.
func (r *Repository) ListSeedURLs(ctx context.Context) ([]crawler.SeedURL, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, url, name, status, created_at FROM scraping_urls ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list seed urls: %w", err)
	}
	defer rows.Close()

	var seeds []crawler.SeedURL
	for rows.Next() {
		var (
			s                 crawler.SeedURL
			status, createdAt string
		)
		if err := rows.Scan(&s.ID, &s.URL, &s.Name, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan seed url row: %w", err)
		}
		s.Status = crawler.SeedURLStatus(status)
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		seeds = append(seeds, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seed urls: %w", err)
	}
	return seeds, nil
}

// UpdateSeedURLStatus sets a seed URL's status.
func (r *Repository) UpdateSeedURLStatus(ctx context.Context, id string, status crawler.SeedURLStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE scraping_urls SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update seed url %s: %w", id, err)
	}
	return checkRowsAffected(res, fmt.Sprintf("update seed url %s", id), crawler.ErrNotFound)
}

// RemoveSeedURL deletes one seed URL.
func (r *Repository) RemoveSeedURL(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scraping_urls WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove seed url %s: %w", id, err)
	}
	return checkRowsAffected(res, fmt.Sprintf("remove seed url %s", id), crawler.ErrNotFound)
}

// ClearSeedURLs deletes every seed URL.
func (r *Repository) ClearSeedURLs(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM scraping_urls`); err != nil {
		return fmt.Errorf("clear seed urls: %w", err)
	}
	return nil
}

func checkRowsAffected(res sql.Result, op string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	return nil
}

func mapError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")) {
			return fmt.Errorf("%w: %s", crawler.ErrDuplicate, sqliteErr.Error())
		}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatOptional(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseOptional(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
