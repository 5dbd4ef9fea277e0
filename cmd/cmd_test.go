package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/api"
	"github.com/JakeFAU/listing-harvester/internal/app"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/relay"
)

const bakeryURL = "https://www.trustpilot.com/categories/bakery"

const relayListing = `<html><body>
<div data-business-unit-json='{"displayName":"Forno Rossi","trustScore":4.4,"numberOfReviews":{"total":210}}'></div>
<div data-business-unit-json='{"displayName":"Panificio Verdi","trustScore":3.8,"numberOfReviews":{"total":55}}'></div>
</body></html>`

// newRelayServer answers the first page with two companies and every later
// page with an empty listing.
func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if strings.Contains(r.URL.Query().Get("u"), "page=") {
			_, _ = w.Write([]byte("<html><body>" + strings.Repeat("<p>nothing else listed</p>", 6) + "</body></html>"))
			return
		}
		_, _ = w.Write([]byte(relayListing))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, relayURL string, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	body := fmt.Sprintf(`relays:
  rps: 0
  endpoints:
    - name: local
      url: %s/fetch?u={url}
      transform: raw
scrape:
  delay_ms: 0
  retry_attempts: 1
  base_retry_delay_ms: 0
logging:
  development: false
  level: error
%s`, relayURL, extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScrapeCommand(t *testing.T) {
	t.Parallel()

	relaySrv := newRelayServer(t)
	cfgPath := writeConfig(t, relaySrv.URL, "")

	out, err := execute(t, "--config", cfgPath, "scrape", bakeryURL, "--min-rating", "4")
	require.NoError(t, err)
	require.Contains(t, out, "status:     completed")
	require.Contains(t, out, "urls:       1/1")
	require.Contains(t, out, "companies:  1")
}

func TestScrapeCommandValidation(t *testing.T) {
	t.Parallel()

	relaySrv := newRelayServer(t)
	cfgPath := writeConfig(t, relaySrv.URL, "")

	_, err := execute(t, "--config", cfgPath, "scrape")
	require.ErrorIs(t, err, errNoSeeds)

	_, err = execute(t, "--config", cfgPath, "scrape", "https://example.com/categories/bakery")
	require.Error(t, err)

	_, err = execute(t, "--config", cfgPath, "scrape", bakeryURL, "--min-rating", "7")
	require.ErrorContains(t, err, "--min-rating")
}

func TestScrapeThenExport(t *testing.T) {
	t.Parallel()

	relaySrv := newRelayServer(t)
	dbPath := filepath.Join(t.TempDir(), "harvester.db")
	cfgPath := writeConfig(t, relaySrv.URL, fmt.Sprintf("storage:\n  driver: sqlite\n  sqlite_path: %s\n", dbPath))

	_, err := execute(t, "--config", cfgPath, "scrape", bakeryURL)
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "export", "--format", "json", "-o", "-")
	require.NoError(t, err)
	var envelope struct {
		TotalCompanies int               `json:"totalCompanies"`
		Companies      []crawler.Company `json:"companies"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &envelope))
	require.Equal(t, 2, envelope.TotalCompanies)
	require.Equal(t, "Forno Rossi", envelope.Companies[0].Name)

	csvPath := filepath.Join(t.TempDir(), "out.csv")
	_, err = execute(t, "--config", cfgPath, "export", "-o", csvPath)
	require.NoError(t, err)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "Panificio Verdi")

	_, err = execute(t, "--config", cfgPath, "export", "--format", "pdf")
	require.Error(t, err)
}

func TestRelaysCommand(t *testing.T) {
	t.Parallel()

	relaySrv := newRelayServer(t)
	cfgPath := writeConfig(t, relaySrv.URL, "")

	out, err := execute(t, "--config", cfgPath, "relays", "--sample", bakeryURL)
	require.NoError(t, err)
	var report relay.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, []string{"local"}, report.Working)
	require.Empty(t, report.Failed)
}

func TestMissingConfigFails(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "relays")
	require.ErrorContains(t, err, "load config")
}

func TestServeDrainsOnCancel(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	apiServer := api.NewServer(a.APIDeps(), cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, apiServer, zap.NewNop()) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("serve did not return after cancel")
	}
}

func TestApplyScrapeFlags(t *testing.T) {
	t.Parallel()

	cmd := newScrapeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--delay", "250", "--retries", "5"}))
	settings := crawler.DefaultSettings()
	settings.MinRating = 2
	applyScrapeFlags(cmd, &scrapeFlags{delayMs: 250, retries: 5, reviewLimit: 99, minRating: 4}, &settings)

	require.Equal(t, 250, settings.DelayMs)
	require.Equal(t, 5, settings.RetryAttempts)
	require.Equal(t, 50, settings.ReviewLimit, "unset flags keep config values")
	require.InDelta(t, 2.0, settings.MinRating, 0.0001)
}

func TestFormatJobSummary(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	var buf bytes.Buffer
	formatJobSummary(&buf, crawler.Job{
		ID:          "job-7",
		Status:      crawler.JobStatusStopped,
		JobCounters: crawler.JobCounters{TotalURLs: 3, ProcessedURLs: 2, TotalCompanies: 40, ErrorCount: 1},
		StartedAt:   &started,
		CompletedAt: &completed,
	})
	out := buf.String()
	require.Contains(t, out, "job-7")
	require.Contains(t, out, "status:     stopped")
	require.Contains(t, out, "urls:       2/3")
	require.Contains(t, out, "errors:     1")
	require.Contains(t, out, "duration:   1m30s")
}
