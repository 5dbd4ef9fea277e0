package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

var longPage = "<html><body>" + strings.Repeat("x", 200) + "</body></html>"

func TestEndpointBuildURL(t *testing.T) {
	t.Parallel()

	ep := Endpoint{URLTemplate: "https://api.allorigins.win/get?url={url}"}
	require.Equal(t,
		"https://api.allorigins.win/get?url=https%3A%2F%2Fexample.com%2Fa%3Fpage%3D2",
		ep.BuildURL("https://example.com/a?page=2"))

	appended := Endpoint{URLTemplate: "https://proxy.test/fetch/"}
	require.Equal(t, "https://proxy.test/fetch/https%3A%2F%2Fexample.com", appended.BuildURL("https://example.com"))
}

func TestBuildEndpoints(t *testing.T) {
	t.Parallel()

	eps, err := BuildEndpoints(DefaultEndpointConfigs())
	require.NoError(t, err)
	require.Len(t, eps, 4)
	require.Equal(t, "allorigins", eps[0].Name)

	_, err = BuildEndpoints(nil)
	require.Error(t, err)
	_, err = BuildEndpoints([]EndpointConfig{{Name: "a", URL: "x", Transform: "xml"}})
	require.ErrorContains(t, err, "unknown transform")
	_, err = BuildEndpoints([]EndpointConfig{{Name: "a", URL: "x"}, {Name: "a", URL: "y"}})
	require.ErrorContains(t, err, "configured twice")
}

func TestJSONContentsTransform(t *testing.T) {
	t.Parallel()

	html, err := jsonContentsTransform([]byte(`{"contents":"<p>hi</p>","status":{"http_code":200}}`))
	require.NoError(t, err)
	require.Equal(t, "<p>hi</p>", html)

	_, err = jsonContentsTransform([]byte(`{"status":{}}`))
	require.Error(t, err)
	_, err = jsonContentsTransform([]byte(`<html>`))
	require.Error(t, err)
}

func TestRotator_CursorAdvancesAcrossCalls(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.respond("relay-a", http.StatusOK, longPage)
	transport.respond("relay-b", http.StatusOK, longPage)
	transport.respond("relay-c", http.StatusOK, longPage)
	r := newTestRotator(t, transport, &fakeClock{})

	for range 4 {
		_, err := r.Fetch(context.Background(), "https://example.com", Options{})
		require.NoError(t, err)
	}
	require.Equal(t, []string{"relay-a", "relay-b", "relay-c", "relay-a"}, transport.relaysCalled())
}

func TestRotator_FailsOverWithLinearBackoff(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.fail("relay-a", errors.New("connection reset"))
	transport.respond("relay-b", http.StatusOK, "too short")
	transport.respond("relay-c", http.StatusOK, longPage)
	clock := &fakeClock{}
	r := newTestRotator(t, transport, clock)

	html, err := r.Fetch(context.Background(), "https://example.com", Options{})
	require.NoError(t, err)
	require.Equal(t, longPage, html)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.slept())
}

func TestRotator_ExhaustedReturnsLastError(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.respond("relay-a", http.StatusBadGateway, longPage)
	transport.fail("relay-b", errors.New("dial timeout"))
	transport.respond("relay-c", http.StatusOK, "")
	clock := &fakeClock{}
	r := newTestRotator(t, transport, clock)

	_, err := r.Fetch(context.Background(), "https://example.com", Options{})
	require.ErrorIs(t, err, crawler.ErrProxyExhausted)
	var exhausted *crawler.ProxyExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 3)
	require.Equal(t, "relay-c", exhausted.Last().Relay)
	require.ErrorIs(t, exhausted.Last(), errShortContent)
	require.Len(t, clock.slept(), 2, "no backoff after the final attempt")
}

func TestRotator_MaxRetriesOverride(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.fail("relay-a", errors.New("boom"))
	transport.fail("relay-b", errors.New("boom"))
	r := newTestRotator(t, transport, &fakeClock{})

	_, err := r.Fetch(context.Background(), "https://example.com", Options{MaxRetries: 1, Timeout: time.Second})
	require.ErrorIs(t, err, crawler.ErrProxyExhausted)
	require.Equal(t, []string{"relay-a"}, transport.relaysCalled())
	require.Equal(t, time.Second, transport.lastTimeout())
}

func TestRotator_CanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.fail("relay-a", errors.New("boom"))
	clock := &fakeClock{sleepErr: context.Canceled}
	r := newTestRotator(t, transport, clock)

	_, err := r.Fetch(context.Background(), "https://example.com", Options{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, crawler.ErrProxyExhausted)
}

func TestRotator_SendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.respond("relay-a", http.StatusOK, longPage)
	r := newTestRotator(t, transport, &fakeClock{})

	_, err := r.Fetch(context.Background(), "https://example.com", Options{})
	require.NoError(t, err)
	require.Contains(t, transport.lastHeaders().Get("User-Agent"), "Mozilla/5.0")
	require.NotEmpty(t, transport.lastHeaders().Get("Accept-Language"))
}

func TestRotator_TestEndpoints(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.respond("relay-a", http.StatusOK, longPage)
	transport.fail("relay-b", errors.New("boom"))
	transport.respond("relay-c", http.StatusOK, longPage)
	clock := &fakeClock{}
	r := newTestRotator(t, transport, clock)

	report := r.TestEndpoints(context.Background(), "https://example.com")
	require.Equal(t, []string{"relay-a", "relay-c"}, report.Working)
	require.Equal(t, []string{"relay-b"}, report.Failed)
	require.Empty(t, clock.slept())
	require.Equal(t, ProbeTimeout, transport.lastTimeout())

	// Probing leaves the rotation cursor untouched.
	_, err := r.Fetch(context.Background(), "https://example.com", Options{MaxRetries: 1})
	require.NoError(t, err)
	require.Equal(t, "relay-a", transport.relaysCalled()[3])
}

func TestRotator_UsesLimiterPerRelay(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.respond("relay-a", http.StatusOK, longPage)
	limiter := &fakeLimiter{}
	r, err := New(testEndpoints(), transport, &fakeClock{}, limiter, zap.NewNop())
	require.NoError(t, err)

	_, err = r.Fetch(context.Background(), "https://example.com", Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"relay-a"}, limiter.keys)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, newFakeTransport(), &fakeClock{}, nil, nil)
	require.Error(t, err)
	_, err = New(testEndpoints(), nil, &fakeClock{}, nil, nil)
	require.Error(t, err)
	_, err = New(testEndpoints(), newFakeTransport(), nil, nil, nil)
	require.Error(t, err)
}

func testEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "relay-a", URLTemplate: "https://relay-a.test/?u={url}", Transform: rawTransform},
		{Name: "relay-b", URLTemplate: "https://relay-b.test/{url}", Transform: rawTransform},
		{Name: "relay-c", URLTemplate: "https://relay-c.test/get?url={url}", Transform: rawTransform},
	}
}

func newTestRotator(t *testing.T, transport *fakeTransport, clock *fakeClock) *Rotator {
	t.Helper()
	r, err := New(testEndpoints(), transport, clock, nil, zap.NewNop())
	require.NoError(t, err)
	return r
}

type fakeReply struct {
	status int
	body   string
	err    error
}

type fakeTransport struct {
	mu       sync.Mutex
	replies  map[string]fakeReply
	calls    []string
	timeouts []time.Duration
	headers  []http.Header
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[string]fakeReply)}
}

func (f *fakeTransport) respond(relay string, status int, body string) {
	f.replies[relay] = fakeReply{status: status, body: body}
}

func (f *fakeTransport) fail(relay string, err error) {
	f.replies[relay] = fakeReply{err: err}
}

func (f *fakeTransport) Get(_ context.Context, req crawler.TransportRequest) (crawler.TransportResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	relay := strings.TrimPrefix(strings.SplitN(req.URL, ".test", 2)[0], "https://")
	f.calls = append(f.calls, relay)
	f.timeouts = append(f.timeouts, req.Timeout)
	f.headers = append(f.headers, req.Headers)
	reply, ok := f.replies[relay]
	if !ok {
		return crawler.TransportResponse{}, errors.New("no reply configured")
	}
	if reply.err != nil {
		return crawler.TransportResponse{}, reply.err
	}
	return crawler.TransportResponse{StatusCode: reply.status, Body: []byte(reply.body)}, nil
}

func (f *fakeTransport) relaysCalled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) lastTimeout() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeouts[len(f.timeouts)-1]
}

func (f *fakeTransport) lastHeaders() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[len(f.headers)-1]
}

type fakeClock struct {
	mu       sync.Mutex
	sleeps   []time.Duration
	sleepErr error
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0).UTC() }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return c.sleepErr
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeLimiter struct {
	keys []string
}

func (l *fakeLimiter) Wait(_ context.Context, key string) error {
	l.keys = append(l.keys, key)
	return nil
}
