package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/app"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	memorypublisher "github.com/JakeFAU/listing-harvester/internal/publisher/memory"
	"github.com/JakeFAU/listing-harvester/internal/relay"
	"github.com/JakeFAU/listing-harvester/internal/storage/memory"
)

const listingPage = `<html><body>
<div data-business-unit-json='{"displayName":"Forno Rossi","trustScore":4.4,"numberOfReviews":{"total":210}}'></div>
<div data-business-unit-json='{"displayName":"Panificio Verdi","trustScore":3.8,"numberOfReviews":{"total":55}}'></div>
</body></html>`

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewMemoryWiring(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Archive.Driver = config.ArchiveMemory
	cfg.PubSub.Driver = config.PubSubMemory

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.IsType(t, &memory.Repository{}, a.Repository())
	require.IsType(t, &memory.BlobStore{}, a.Archive())
	require.IsType(t, &memorypublisher.Publisher{}, a.Publisher())
	require.NotNil(t, a.Orchestrator())
	require.NotNil(t, a.Seeds())
	require.NotNil(t, a.Relays())
	require.Equal(t, cfg.Server.Port, a.Config().Server.Port)

	deps := a.APIDeps()
	require.Equal(t, a.Repository(), deps.Repository)
	require.NotNil(t, deps.Runner)
	require.NotNil(t, deps.Relays)
	require.NotNil(t, deps.Journal)
	require.NotNil(t, deps.Clock)
}

func TestNewWithoutOptionalBackends(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), baseConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.Nil(t, a.Archive())
	require.Nil(t, a.Publisher())
	require.NotNil(t, a.Logger())
}

func TestNewSQLiteRepository(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Storage.Driver = config.StorageSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "harvester.db")
	cfg.Archive.Driver = config.ArchiveLocal
	cfg.Archive.BaseDir = filepath.Join(t.TempDir(), "pages")

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	seed, err := a.Seeds().Add(context.Background(), "https://www.trustpilot.com/categories/bakery")
	require.NoError(t, err)
	require.Equal(t, "Bakery", seed.Name)
	require.NoError(t, a.Close())
}

func TestNewRejectsUnknownDrivers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "storage", mutate: func(c *config.Config) { c.Storage.Driver = "mongo" }},
		{name: "archive", mutate: func(c *config.Config) { c.Archive.Driver = "ftp" }},
		{name: "pubsub", mutate: func(c *config.Config) { c.PubSub.Driver = "kafka" }},
		{name: "relays", mutate: func(c *config.Config) { c.Relays.Endpoints = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig(t)
			tt.mutate(&cfg)
			_, err := app.New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
		})
	}
}

func TestScrapeThroughLocalRelay(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		targets []string
	)
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("u")
		mu.Lock()
		targets = append(targets, target)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		if strings.Contains(target, "page=") {
			_, _ = w.Write([]byte("<html><body>" + strings.Repeat("<p>no more results</p>", 8) + "</body></html>"))
			return
		}
		_, _ = w.Write([]byte(listingPage))
	}))
	defer relaySrv.Close()

	cfg := baseConfig(t)
	cfg.Relays.Endpoints = []relay.EndpointConfig{
		{Name: "local", URL: relaySrv.URL + "/fetch?u={url}", Transform: relay.TransformRaw},
	}
	cfg.Relays.RPS = 0
	cfg.Archive.Driver = config.ArchiveMemory
	cfg.PubSub.Driver = config.PubSubMemory

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	settings := cfg.DefaultSettings()
	settings.DelayMs = 0
	settings.RetryAttempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	seed := "https://www.trustpilot.com/categories/bakery"
	registered, err := a.Seeds().Add(ctx, seed)
	require.NoError(t, err)
	job, err := a.Orchestrator().Start(ctx, []string{seed}, settings)
	require.NoError(t, err)

	seeds, err := a.Seeds().List(ctx)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	require.Equal(t, registered.ID, seeds[0].ID)
	require.Equal(t, crawler.SeedURLCompleted, seeds[0].Status)

	mu.Lock()
	require.Len(t, targets, 2)
	require.Equal(t, seed, targets[0])
	require.Equal(t, seed+"?page=2", targets[1])
	mu.Unlock()

	stored, err := a.Repository().GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, stored.Status)
	require.Equal(t, 2, stored.TotalCompanies)
	require.Equal(t, 1, stored.ProcessedURLs)

	companies, err := a.Repository().ListCompanies(ctx)
	require.NoError(t, err)
	require.Len(t, companies, 2)
	require.Equal(t, "Forno Rossi", companies[0].Name)
	require.Equal(t, job.ID, companies[0].JobID)

	archive, ok := a.Archive().(*memory.BlobStore)
	require.True(t, ok)
	require.Equal(t, 2, archive.Len())

	pub, ok := a.Publisher().(*memorypublisher.Publisher)
	require.True(t, ok)
	msgs := pub.Messages(cfg.PubSub.TopicName)
	require.Len(t, msgs, 1)
	var event struct {
		JobID          string `json:"job_id"`
		Status         string `json:"status"`
		TotalCompanies int    `json:"total_companies"`
	}
	require.NoError(t, msgs[0].Decode(&event))
	require.Equal(t, job.ID, event.JobID)
	require.Equal(t, "completed", event.Status)
	require.Equal(t, 2, event.TotalCompanies)
}
