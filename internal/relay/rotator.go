package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

const (
	// MinContentLength is the shortest body accepted as a real page.
	MinContentLength = 100
	// DefaultTimeout bounds a single relay attempt.
	DefaultTimeout = 30 * time.Second
	// ProbeTimeout bounds each attempt made by TestEndpoints.
	ProbeTimeout = 10 * time.Second
	// BackoffStep is the linear backoff unit between attempts.
	BackoffStep = time.Second
)

var errShortContent = errors.New("relay returned empty or invalid content")

// Waiter throttles requests per relay.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Options tune a single Fetch call.
type Options struct {
	Timeout time.Duration
	// MaxRetries defaults to the number of relays.
	MaxRetries int
}

// Rotator walks the relay list round-robin. The cursor survives across
// calls, so consecutive fetches start at different relays.
type Rotator struct {
	endpoints []Endpoint
	transport crawler.Transport
	clock     crawler.Clock
	limiter   Waiter
	backoff   crawler.LinearBackoff
	headers   http.Header
	logger    *zap.Logger

	mu     sync.Mutex
	cursor int
}

// New constructs a Rotator. limiter may be nil.
func New(
	endpoints []Endpoint,
	transport crawler.Transport,
	clock crawler.Clock,
	limiter Waiter,
	logger *zap.Logger,
) (*Rotator, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("relay rotator requires at least one endpoint")
	}
	if transport == nil {
		return nil, errors.New("relay rotator requires a transport")
	}
	if clock == nil {
		return nil, errors.New("relay rotator requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rotator{
		endpoints: append([]Endpoint(nil), endpoints...),
		transport: transport,
		clock:     clock,
		limiter:   limiter,
		backoff:   crawler.NewLinearBackoff(BackoffStep),
		headers:   BrowserHeaders(),
		logger:    logger,
	}, nil
}

// BrowserHeaders is the header set sent with every relay request.
func BrowserHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9,it;q=0.8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// Endpoints returns the relay names in rotation order.
func (r *Rotator) Endpoints() []string {
	names := make([]string, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		names = append(names, ep.Name)
	}
	return names
}

// Fetch retrieves target through successive relays until one returns a
// usable page. Between failed attempts it waits BackoffStep × attempt.
// When every attempt fails it returns a *crawler.ProxyExhaustedError.
func (r *Rotator) Fetch(ctx context.Context, target string, opts Options) (string, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = len(r.endpoints)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	exhausted := &crawler.ProxyExhaustedError{URL: target}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		ep := r.next()
		html, err := r.attempt(ctx, ep, target, timeout)
		if err == nil {
			r.logger.Debug("relay fetch succeeded",
				zap.String("relay", ep.Name),
				zap.String("url", target),
				zap.Int("attempt", attempt),
			)
			return html, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("relay fetch canceled: %w", ctx.Err())
		}
		exhausted.Attempts = append(exhausted.Attempts, &crawler.RelayError{Relay: ep.Name, Attempt: attempt, Err: err})
		r.logger.Warn("relay attempt failed",
			zap.String("relay", ep.Name),
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)
		if attempt < maxRetries {
			if err := r.clock.Sleep(ctx, r.backoff.Delay(attempt)); err != nil {
				return "", fmt.Errorf("relay backoff: %w", err)
			}
		}
	}
	return "", exhausted
}

// next returns the relay under the cursor and advances it.
func (r *Rotator) next() Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := r.endpoints[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.endpoints)
	return ep
}

func (r *Rotator) attempt(ctx context.Context, ep Endpoint, target string, timeout time.Duration) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, ep.Name); err != nil {
			return "", err
		}
	}
	start := time.Now()
	html, err := r.fetchVia(ctx, ep, target, timeout)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveRelayAttempt(ep.Name, outcome, time.Since(start))
	return html, err
}

func (r *Rotator) fetchVia(ctx context.Context, ep Endpoint, target string, timeout time.Duration) (string, error) {
	resp, err := r.transport.Get(ctx, crawler.TransportRequest{
		URL:     ep.BuildURL(target),
		Timeout: timeout,
		Headers: r.headers.Clone(),
	})
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	html, err := ep.Transform(resp.Body)
	if err != nil {
		return "", err
	}
	if len(html) < MinContentLength {
		return "", errShortContent
	}
	return html, nil
}

// Report classifies relays after a health probe.
type Report struct {
	Working []string `json:"working"`
	Failed  []string `json:"failed"`
}

// TestEndpoints probes every relay once, independently of the rotation
// cursor, using ProbeTimeout.
func (r *Rotator) TestEndpoints(ctx context.Context, sampleURL string) Report {
	report := Report{Working: []string{}, Failed: []string{}}
	for _, ep := range r.endpoints {
		if _, err := r.attempt(ctx, ep, sampleURL, ProbeTimeout); err != nil {
			r.logger.Info("relay probe failed", zap.String("relay", ep.Name), zap.Error(err))
			report.Failed = append(report.Failed, ep.Name)
			continue
		}
		report.Working = append(report.Working, ep.Name)
	}
	return report
}
