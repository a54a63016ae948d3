package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/events"
	"github.com/xkilldash9x/mender/internal/mocks"
)

func TestFanout_DeliversToEverySinkAndJoinsErrors(t *testing.T) {
	ev := statusEvent("run-1", 1, schemas.RunRunning)
	boom := errors.New("sink down")

	failing := new(mocks.MockEventSink)
	failing.On("Publish", mock.Anything, ev).Return(boom)
	healthy := new(mocks.MockEventSink)
	healthy.On("Publish", mock.Anything, ev).Return(nil)

	err := events.Fanout{failing, nil, healthy}.Publish(context.Background(), ev)
	assert.ErrorIs(t, err, boom)
	failing.AssertExpectations(t)
	healthy.AssertExpectations(t)
}

func TestFanout_Empty(t *testing.T) {
	assert.NoError(t, events.Fanout{}.Publish(context.Background(), schemas.Event{}))
}

func TestLogSink_LevelsByKind(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := events.NewLogSink(zap.New(core))
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, schemas.Event{
		RunID: "r", Seq: 1, Kind: schemas.EventProgress,
		Progress: &schemas.ProgressEvent{Current: 1, Total: 2, Type: schemas.StepClick},
	}))
	require.NoError(t, sink.Publish(ctx, schemas.Event{
		RunID: "r", Seq: 2, Kind: schemas.EventHealing,
		Healing: &schemas.HealingEvent{Method: schemas.HealingMethodFingerprint, Score: 0.8},
	}))
	require.NoError(t, sink.Publish(ctx, statusEvent("r", 3, schemas.RunSuccess)))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, 0.8, entries[1].ContextMap()["score"])
	assert.Equal(t, "SUCCESS", entries[2].ContextMap()["status"])
	assert.Equal(t, "events", entries[2].LoggerName)
}
