package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// Fanout publishes every event to each sink in turn. A failing sink does not
// stop delivery to the others.
type Fanout []schemas.EventSink

func (f Fanout) Publish(ctx context.Context, ev schemas.Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging under the "events" name.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Publish(_ context.Context, ev schemas.Event) error {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("scenario_id", ev.ScenarioID),
		zap.Uint64("seq", ev.Seq),
	}

	switch {
	case ev.Progress != nil:
		s.logger.Debug("Step progress.", append(fields,
			zap.Int("current", ev.Progress.Current),
			zap.Int("total", ev.Progress.Total),
			zap.String("type", string(ev.Progress.Type)))...)
	case ev.Healing != nil:
		s.logger.Info("Step healed.", append(fields,
			zap.String("method", ev.Healing.Method),
			zap.Float64("score", ev.Healing.Score),
			zap.String("info", ev.Healing.Info))...)
	case ev.Status != nil:
		s.logger.Info("Run status changed.", append(fields,
			zap.String("status", string(ev.Status.Status)),
			zap.String("error", ev.Status.Error))...)
	default:
		s.logger.Debug("Event without payload.", append(fields, zap.String("kind", string(ev.Kind)))...)
	}
	return nil
}
