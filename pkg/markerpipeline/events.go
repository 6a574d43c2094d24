package markerpipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink discards all events.
type NoopEventSink struct{}

func (NoopEventSink) RunStarted(context.Context, uuid.UUID, uuid.UUID)           {}
func (NoopEventSink) StageChanged(context.Context, uuid.UUID, Stage)             {}
func (NoopEventSink) RunProgress(context.Context, uuid.UUID, float64, float64)   {}
func (NoopEventSink) RunCompleted(context.Context, uuid.UUID)                    {}
func (NoopEventSink) RunRejected(context.Context, uuid.UUID, string)             {}
func (NoopEventSink) RunFailed(context.Context, uuid.UUID, Stage, error)         {}
func (NoopEventSink) RunCancelled(context.Context, uuid.UUID)                    {}

// LogEventSink writes pipeline events to a structured logger. Progress
// events are logged at debug level to keep info output readable during
// large transfers.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates a sink over logger; a nil logger falls back
// to slog.Default().
func NewLogEventSink(logger *slog.Logger) *LogEventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

func (s *LogEventSink) RunStarted(ctx context.Context, ownerID, submissionID uuid.UUID) {
	s.logger.InfoContext(ctx, "pipeline run started",
		"owner_id", ownerID,
		"submission_id", submissionID)
}

func (s *LogEventSink) StageChanged(ctx context.Context, submissionID uuid.UUID, stage Stage) {
	s.logger.InfoContext(ctx, "pipeline stage changed",
		"submission_id", submissionID,
		"stage", stage)
}

func (s *LogEventSink) RunProgress(ctx context.Context, submissionID uuid.UUID, overall, video float64) {
	s.logger.DebugContext(ctx, "pipeline progress",
		"submission_id", submissionID,
		"overall", overall,
		"video", video)
}

func (s *LogEventSink) RunCompleted(ctx context.Context, submissionID uuid.UUID) {
	s.logger.InfoContext(ctx, "pipeline run completed",
		"submission_id", submissionID)
}

func (s *LogEventSink) RunRejected(ctx context.Context, submissionID uuid.UUID, reason string) {
	s.logger.InfoContext(ctx, "source rejected by compiler",
		"submission_id", submissionID,
		"reason", reason)
}

func (s *LogEventSink) RunFailed(ctx context.Context, submissionID uuid.UUID, stage Stage, err error) {
	s.logger.ErrorContext(ctx, "pipeline run failed",
		"submission_id", submissionID,
		"stage", stage,
		"error", err)
}

func (s *LogEventSink) RunCancelled(ctx context.Context, submissionID uuid.UUID) {
	s.logger.InfoContext(ctx, "pipeline run cancelled",
		"submission_id", submissionID)
}
