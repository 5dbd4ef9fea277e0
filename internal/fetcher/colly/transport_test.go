package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

func TestTransportGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "harvester-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "it", r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte("<html>listing</html>"))
	}))
	defer srv.Close()

	tr := New(Config{})
	resp, err := tr.Get(context.Background(), crawler.TransportRequest{
		URL:     srv.URL + "/page",
		Timeout: time.Second,
		Headers: http.Header{"User-Agent": {"harvester-test"}, "Accept-Language": {"it"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>listing</html>", string(resp.Body))

	// Same URL twice must not be rejected as a revisit.
	_, err = tr.Get(context.Background(), crawler.TransportRequest{
		URL:     srv.URL + "/page",
		Headers: http.Header{"User-Agent": {"harvester-test"}, "Accept-Language": {"it"}},
	})
	require.NoError(t, err)
}

func TestTransportGetReturnsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	resp, err := New(Config{}).Get(context.Background(), crawler.TransportRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestTransportGetCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Get(ctx, crawler.TransportRequest{URL: srv.URL, Timeout: 5 * time.Second})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	req := crawler.TransportRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result crawler.TransportResponse
	var fetchErr error

	hooks := &stubHooks{}
	tr.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	tr := New(Config{UserAgent: "cfg-agent", MaxBodySize: 1024})
	c := tr.buildCollector(crawler.TransportRequest{})
	require.Equal(t, "cfg-agent", c.UserAgent)
	require.Equal(t, 1024, c.MaxBodySize)
	require.True(t, c.AllowURLRevisit)
	require.True(t, c.IgnoreRobotsTxt)

	c = tr.buildCollector(crawler.TransportRequest{Headers: http.Header{"User-Agent": {"req-agent"}}})
	require.Equal(t, "req-agent", c.UserAgent)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
