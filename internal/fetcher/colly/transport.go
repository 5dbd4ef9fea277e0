// Package collyfetcher implements crawler.Transport using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout applies when a request carries none.
	Timeout time.Duration
	// MaxBodySize caps response bodies in bytes; 0 keeps the colly default.
	MaxBodySize int
}

// Transport performs single GETs with a fresh Colly collector per request,
// sharing one pooled http.Transport.
type Transport struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Transport{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// Get executes a single HTTP GET. Non-2xx responses are returned with their
// status code rather than as errors.
func (t *Transport) Get(ctx context.Context, request crawler.TransportRequest) (crawler.TransportResponse, error) {
	var (
		result   crawler.TransportResponse
		fetchErr error
	)
	start := time.Now()
	collector := t.buildCollector(request)
	t.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.TransportResponse{StatusCode: result.StatusCode}, err
	}
	return result, nil
}

func (t *Transport) buildCollector(request crawler.TransportRequest) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	collector.ParseHTTPErrorResponse = true
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	if ua := request.Headers.Get("User-Agent"); ua != "" {
		collector.UserAgent = ua
	}
	if t.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = t.cfg.MaxBodySize
	}
	collector.WithTransport(t.transport)
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = t.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.TransportRequest,
	start time.Time,
	result *crawler.TransportResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.TransportResponse{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
