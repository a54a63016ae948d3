package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// emitter publishes the events of a single run with a gapless sequence. Sink
// failures are logged and otherwise ignored; observers never change an outcome.
// Events are published on ctx, which must not carry the run's cancellation,
// each bounded by timeout.
type emitter struct {
	ctx        context.Context
	timeout    time.Duration
	sink       schemas.EventSink
	runID      string
	scenarioID string
	seq        uint64
	logger     *zap.Logger
}

func (e *emitter) emit(ev schemas.Event) {
	if e.sink == nil {
		return
	}
	e.seq++
	ev.ID = uuid.NewString()
	ev.RunID = e.runID
	ev.ScenarioID = e.scenarioID
	ev.Seq = e.seq
	ev.Timestamp = time.Now().UTC()

	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.Warn("Failed to publish run event.",
			zap.String("kind", string(ev.Kind)), zap.Uint64("seq", ev.Seq), zap.Error(err))
	}
}

func (e *emitter) progress(current, total int, kind schemas.StepKind) {
	e.emit(schemas.Event{
		Kind:     schemas.EventProgress,
		Progress: &schemas.ProgressEvent{Current: current, Total: total, Type: kind},
	})
}

func (e *emitter) healing(log schemas.StepLog) {
	e.emit(schemas.Event{
		Kind: schemas.EventHealing,
		Healing: &schemas.HealingEvent{
			Method: schemas.HealingMethodFingerprint,
			Score:  log.Score,
			Info:   log.Info,
			Status: log.Status,
		},
	})
}

func (e *emitter) status(state schemas.RunState, cause string) {
	e.emit(schemas.Event{
		Kind:   schemas.EventStatus,
		Status: &schemas.StatusEvent{Status: state, Error: cause},
	})
}
