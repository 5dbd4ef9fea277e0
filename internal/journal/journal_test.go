package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

func TestJournalRecordsAndMirrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	writer := &fakeWriter{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j := New(writer, &seqIDs{}, fixedClock{now: now}, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Success(ctx, "job-1", "Found 3 companies from https://example.com")
	j.Warning(ctx, "job-1", "Scraping stopped by user request")

	require.Len(t, writer.entries, 2)
	first := writer.entries[0]
	require.Equal(t, "id-1", first.ID)
	require.Equal(t, crawler.LogLevelSuccess, first.Level)
	require.Equal(t, "job-1", first.JobID)
	require.Equal(t, now, first.Timestamp)
	require.Equal(t, crawler.LogLevelWarning, writer.entries[1].Level)

	require.Equal(t, 2, logs.Len())
	require.Equal(t, zapcore.InfoLevel, logs.All()[0].Level)
	require.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
	require.Equal(t, "job-1", logs.All()[0].ContextMap()["job_id"])
}

func TestJournalSwallowsWriteErrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	j := New(&fakeWriter{err: errors.New("disk full")}, &seqIDs{}, fixedClock{}, zap.New(core))

	j.Error(context.Background(), "job-2", "Scraping failed: boom")
	require.Equal(t, 1, logs.FilterMessage("journal write failed").Len())
}

func TestJournalWithoutWriter(t *testing.T) {
	t.Parallel()

	j := New(nil, nil, nil, nil)
	j.Info(context.Background(), "job-3", "Scraping process initiated")
}

type fakeWriter struct {
	mu      sync.Mutex
	entries []crawler.LogEntry
	err     error
}

func (w *fakeWriter) AddLog(ctx context.Context, entry crawler.LogEntry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, entry)
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "id-" + string(rune('0'+s.n)), nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func (fixedClock) Sleep(context.Context, time.Duration) error { return nil }
