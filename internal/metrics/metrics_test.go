package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, relayAttemptsTotal)
	require.NotNil(t, pagesTotal)
	require.NotNil(t, jobsTotal)
}

func TestObserveRelayAttempt(t *testing.T) {
	ObserveRelayAttempt("metrics-test-relay", "ok", 200*time.Millisecond)
	require.InDelta(t, 1, testutil.ToFloat64(relayAttemptsTotal.WithLabelValues("metrics-test-relay", "ok")), 0.001)
}

func TestObserveExtractionSkipsZero(t *testing.T) {
	ObserveExtraction("metrics-test-strategy", 0)
	ObserveExtraction("metrics-test-strategy", 4)
	require.InDelta(t, 4, testutil.ToFloat64(extractionRecordsTotal.WithLabelValues("metrics-test-strategy")), 0.001)
}

func TestSetJobActive(t *testing.T) {
	SetJobActive(true)
	require.InDelta(t, 1, testutil.ToFloat64(activeJobs), 0.001)
	SetJobActive(false)
	require.InDelta(t, 0, testutil.ToFloat64(activeJobs), 0.001)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
