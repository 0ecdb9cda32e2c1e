package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/competition-discovery/internal/progress"
)

// LogSink writes one log line per event. Probe events log at debug so a long
// run does not flood info output.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageProbeDone:
			fields = append(fields,
				zap.String("key", evt.Key),
				zap.String("status", string(evt.Status)),
				zap.Int("http_status", evt.HTTPStatus),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("probe done", fields...)
		case progress.StageRunError:
			fields = append(fields, zap.String("state", string(evt.State)), zap.String("error", evt.Note))
			s.logger.Warn("run ended with error", fields...)
		case progress.StageRunDone:
			fields = append(fields, zap.String("state", string(evt.State)), zap.Duration("dur", evt.Dur))
			s.logger.Info("run done", fields...)
		default:
			s.logger.Info("run started", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
