package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

// LogSink writes every event as a structured log line at debug level, and
// session milestones at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchStart, progress.StageFetchDone:
			fields = append(fields,
				zap.String("host", evt.Host),
				zap.String("url", evt.URL),
				zap.String("outcome", evt.Outcome),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("progress event", fields...)
		default:
			fields = append(fields,
				zap.Duration("dur", evt.Dur),
				zap.Int64("fetched", evt.Counters.Fetched),
				zap.Int64("redirected", evt.Counters.Redirected),
				zap.Int64("retried", evt.Counters.Retried),
				zap.Int64("abandoned", evt.Counters.Abandoned),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close flushes buffered log output. Sync errors on terminals are ignored.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}
