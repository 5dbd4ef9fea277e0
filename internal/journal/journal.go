// Package journal records user-visible job log entries and mirrors each one
// to the structured zap logger.
package journal

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Writer persists log entries.
type Writer interface {
	AddLog(ctx context.Context, entry crawler.LogEntry) error
}

// Journal appends LogEntry records for a job.
type Journal struct {
	writer Writer
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Journal. writer may be nil to only log through zap.
func New(writer Writer, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{writer: writer, ids: ids, clock: clock, logger: logger}
}

// Info records routine progress.
func (j *Journal) Info(ctx context.Context, jobID, message string, fields ...zap.Field) {
	j.Record(ctx, crawler.LogLevelInfo, jobID, message, fields...)
}

// Success records a positive outcome.
func (j *Journal) Success(ctx context.Context, jobID, message string, fields ...zap.Field) {
	j.Record(ctx, crawler.LogLevelSuccess, jobID, message, fields...)
}

// Warning records a recoverable problem.
func (j *Journal) Warning(ctx context.Context, jobID, message string, fields ...zap.Field) {
	j.Record(ctx, crawler.LogLevelWarning, jobID, message, fields...)
}

// Error records a failure.
func (j *Journal) Error(ctx context.Context, jobID, message string, fields ...zap.Field) {
	j.Record(ctx, crawler.LogLevelError, jobID, message, fields...)
}

// Record persists one entry. Persistence failures are logged, never returned:
// a lost log line must not fail the job that produced it.
func (j *Journal) Record(ctx context.Context, level crawler.LogLevel, jobID, message string, fields ...zap.Field) {
	fields = append(fields, zap.String("job_id", jobID), zap.String("journal_level", string(level)))
	if ce := j.logger.Check(zapLevel(level), message); ce != nil {
		ce.Write(fields...)
	}
	if j.writer == nil {
		return
	}
	entry := crawler.LogEntry{
		Level:     level,
		Message:   message,
		Timestamp: j.clock.Now(),
		JobID:     jobID,
	}
	id, err := j.ids.NewID()
	if err != nil {
		j.logger.Warn("journal id generation failed", zap.Error(err))
		return
	}
	entry.ID = id
	// Entries are still written after the job context is canceled.
	if err := j.writer.AddLog(context.WithoutCancel(ctx), entry); err != nil {
		j.logger.Warn("journal write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func zapLevel(level crawler.LogLevel) zapcore.Level {
	switch level {
	case crawler.LogLevelWarning:
		return zapcore.WarnLevel
	case crawler.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
