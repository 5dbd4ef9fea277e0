// Package pagination walks a seed URL page by page, extracting companies and
// handing each one to a sink until the listing runs dry.
package pagination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	pagehash "github.com/JakeFAU/listing-harvester/internal/hash/sha256"
	"github.com/JakeFAU/listing-harvester/internal/journal"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/relay"
)

const (
	// DefaultMaxPages bounds pagination per seed URL.
	DefaultMaxPages = 10
	// DefaultMaxRecords bounds records per seed URL.
	DefaultMaxRecords = 500
	// DefaultRetryBaseDelay is the linear page retry unit.
	DefaultRetryBaseDelay = 2 * time.Second
)

// Fetcher retrieves page HTML.
type Fetcher interface {
	Fetch(ctx context.Context, target string, opts relay.Options) (string, error)
}

// Extractor turns HTML into companies.
type Extractor interface {
	ExtractListing(html, sourceURL string, settings crawler.Settings) []crawler.Company
	ExtractDetail(html, sourceURL string) (crawler.Company, bool)
}

// Sink receives each passing record. accepted=false means the record was a
// duplicate and is not counted.
type Sink func(ctx context.Context, company crawler.Company) (accepted bool, err error)

// Config bounds a Collect call.
type Config struct {
	MaxPages       int
	MaxRecords     int
	RetryBaseDelay time.Duration
	FetchTimeout   time.Duration
	// Namer names archived pages; defaults to content digests with no prefix.
	Namer crawler.PageNamer
}

// Request describes one seed URL to walk.
type Request struct {
	JobID    string
	SeedURL  string
	Settings crawler.Settings
	Sink     Sink
	// Stopped is polled at the top of every page iteration.
	Stopped func() bool
}

// Controller walks listing pages.
type Controller struct {
	fetcher   Fetcher
	extractor Extractor
	clock     crawler.Clock
	journal   *journal.Journal
	archive   crawler.BlobStore
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Controller. archive may be nil.
func New(
	fetcher Fetcher,
	extractor Extractor,
	clock crawler.Clock,
	j *journal.Journal,
	archive crawler.BlobStore,
	cfg Config,
	logger *zap.Logger,
) *Controller {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.RetryBaseDelay < 0 {
		cfg.RetryBaseDelay = 0
	}
	if cfg.Namer == nil {
		cfg.Namer = pagehash.New("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if j == nil {
		j = journal.New(nil, nil, clock, logger)
	}
	return &Controller{
		fetcher:   fetcher,
		extractor: extractor,
		clock:     clock,
		journal:   j,
		archive:   archive,
		cfg:       cfg,
		logger:    logger,
	}
}

// Collect walks req.SeedURL and returns the number of records accepted by
// the sink. A page that fails every retry ends this seed URL without an
// error; only sink failures and context cancellation are returned.
func (c *Controller) Collect(ctx context.Context, req Request) (int, error) {
	if req.Sink == nil {
		return 0, errors.New("pagination sink is required")
	}
	kind := extract.ClassifyURL(req.SeedURL)
	total := 0
	for page := 1; page <= c.cfg.MaxPages; page++ {
		if req.Stopped != nil && req.Stopped() {
			c.logger.Info("pagination stopped", zap.String("url", req.SeedURL), zap.Int("page", page))
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("collect %s: %w", req.SeedURL, err)
		}

		pageURL := PageURL(req.SeedURL, page)
		companies, err := c.fetchPage(ctx, req, pageURL, kind)
		if err != nil {
			if ctx.Err() != nil {
				return total, fmt.Errorf("collect %s: %w", req.SeedURL, ctx.Err())
			}
			metrics.ObservePage(req.SeedURL, "failed")
			c.journal.Warning(ctx, req.JobID,
				fmt.Sprintf("Giving up on %s after %d attempts: %v", pageURL, retryAttempts(req.Settings), err),
				zap.String("url", pageURL), zap.Int("page", page))
			return total, nil
		}
		if len(companies) == 0 {
			metrics.ObservePage(req.SeedURL, "empty")
			c.logger.Debug("empty page ends pagination", zap.String("url", pageURL), zap.Int("page", page))
			return total, nil
		}
		metrics.ObservePage(req.SeedURL, "ok")

		for _, company := range companies {
			if !passesMinRating(company, req.Settings.MinRating) {
				continue
			}
			accepted, err := req.Sink(ctx, company)
			if err != nil {
				return total, fmt.Errorf("store company %q: %w", company.Name, err)
			}
			if !accepted {
				continue
			}
			total++
			if total >= c.cfg.MaxRecords {
				c.logger.Info("record ceiling reached", zap.String("url", req.SeedURL), zap.Int("records", total))
				return total, nil
			}
		}

		if kind == extract.PageDetail {
			return total, nil
		}
		if page < c.cfg.MaxPages {
			if err := c.clock.Sleep(ctx, req.Settings.Delay()); err != nil {
				return total, fmt.Errorf("collect %s: %w", req.SeedURL, err)
			}
		}
	}
	return total, nil
}

// fetchPage fetches and extracts one page with linear-backoff retries.
func (c *Controller) fetchPage(
	ctx context.Context,
	req Request,
	pageURL string,
	kind extract.PageKind,
) ([]crawler.Company, error) {
	attempts := retryAttempts(req.Settings)
	backoff := crawler.NewLinearBackoff(c.cfg.RetryBaseDelay)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		html, err := c.fetcher.Fetch(ctx, pageURL, relay.Options{Timeout: c.cfg.FetchTimeout})
		if err == nil {
			c.archivePage(ctx, req.JobID, pageURL, html)
			return c.extract(html, pageURL, kind, req.Settings), nil
		}
		lastErr = err
		if !crawler.Retryable(ctx, err) {
			break
		}
		c.journal.Warning(ctx, req.JobID,
			fmt.Sprintf("Attempt %d/%d failed for %s: %v", attempt, attempts, pageURL, err),
			zap.String("url", pageURL), zap.Int("attempt", attempt))
		if attempt < attempts {
			if err := c.clock.Sleep(ctx, backoff.Delay(attempt)); err != nil {
				return nil, fmt.Errorf("page retry backoff: %w", err)
			}
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", crawler.ErrPageRetryExhausted, pageURL, lastErr)
}

func (c *Controller) extract(html, pageURL string, kind extract.PageKind, settings crawler.Settings) []crawler.Company {
	if kind == extract.PageDetail {
		company, ok := c.extractor.ExtractDetail(html, pageURL)
		if !ok {
			return nil
		}
		return []crawler.Company{company}
	}
	return c.extractor.ExtractListing(html, pageURL, settings)
}

// archivePage stores the raw HTML; failures are logged and otherwise ignored.
func (c *Controller) archivePage(ctx context.Context, jobID, pageURL, html string) {
	if c.archive == nil {
		return
	}
	path, err := c.cfg.Namer.PagePath(jobID, []byte(html))
	if err != nil {
		c.logger.Warn("name archived page failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	uri, err := c.archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader([]byte(html)))
	if err != nil {
		metrics.ObserveArchiveFailure()
		c.logger.Warn("archive page failed", zap.String("url", pageURL), zap.String("path", path), zap.Error(err))
		return
	}
	c.logger.Debug("archived page", zap.String("url", pageURL), zap.String("uri", uri))
}

// PageURL returns seed unchanged for page 1 and sets page=N otherwise.
func PageURL(seed string, page int) string {
	if page <= 1 {
		return seed
	}
	u, err := url.Parse(seed)
	if err != nil {
		sep := "?"
		if strings.Contains(seed, "?") {
			sep = "&"
		}
		return seed + sep + "page=" + strconv.Itoa(page)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func passesMinRating(company crawler.Company, minRating float64) bool {
	return company.Rating == nil || *company.Rating >= minRating
}

func retryAttempts(settings crawler.Settings) int {
	if settings.RetryAttempts <= 0 {
		return 1
	}
	return settings.RetryAttempts
}
