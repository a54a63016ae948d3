package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/events"
)

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{channel: channel, payload: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func TestRedisSink_PublishesOnRunChannel(t *testing.T) {
	pub := &fakePublisher{}
	sink := events.NewRedisSink(pub, "", zaptest.NewLogger(t))
	ev := statusEvent("run-42", 7, schemas.RunFailed)
	ev.Status.Error = "element not found"

	require.NoError(t, sink.Publish(context.Background(), ev))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "mender:runs:run-42", pub.sent[0].channel)
	decoded, err := events.Decode(pub.sent[0].payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), decoded.Seq)
	assert.Equal(t, "element not found", decoded.Status.Error)
}

func TestRedisSink_CustomPrefix(t *testing.T) {
	sink := events.NewRedisSink(&fakePublisher{}, "ci:", zaptest.NewLogger(t))
	assert.Equal(t, "ci:abc", sink.Channel("abc"))
}

func TestRedisSink_WrapsPublishError(t *testing.T) {
	boom := errors.New("connection refused")
	sink := events.NewRedisSink(&fakePublisher{err: boom}, "", zaptest.NewLogger(t))

	err := sink.Publish(context.Background(), statusEvent("run-1", 1, schemas.RunRunning))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "mender:runs:run-1")
}
