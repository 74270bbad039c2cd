package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

// LogSink emits structured logs for debugging progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Throttled
// progress ticks go to debug so long runs stay readable.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("country", evt.Country),
			zap.String("section", evt.SectionKey),
			zap.Int("processed", evt.Processed),
			zap.Int("remaining", evt.Remaining),
			zap.Int("completed_sections", evt.CompletedSections),
			zap.Int("total_sections", evt.TotalSections),
			zap.Int("downloaded", evt.Downloaded),
			zap.Bool("paused", evt.Paused),
		}
		if evt.PauseReason != "" {
			fields = append(fields, zap.String("pause_reason", evt.PauseReason))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageProgress {
			s.logger.Debug("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
