package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// DefaultChannelPrefix namespaces run channels: <prefix><run id>.
const DefaultChannelPrefix = "mender:runs:"

// Publisher is the slice of the Redis client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes each event on a per-run Redis pub/sub channel.
type RedisSink struct {
	client Publisher
	prefix string
	logger *zap.Logger
}

var _ schemas.EventSink = (*RedisSink)(nil)

// NewRedisSink wraps a Redis publisher.
func NewRedisSink(client Publisher, prefix string, logger *zap.Logger) *RedisSink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisSink{client: client, prefix: prefix, logger: logger.Named("redis_sink")}
}

// Channel returns the channel events of runID are published on.
func (s *RedisSink) Channel(runID string) string { return s.prefix + runID }

func (s *RedisSink) Publish(ctx context.Context, ev schemas.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	receivers, err := s.client.Publish(ctx, s.Channel(ev.RunID), payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", s.Channel(ev.RunID), err)
	}
	s.logger.Debug("Event published.", zap.String("channel", s.Channel(ev.RunID)),
		zap.Uint64("seq", ev.Seq), zap.Int64("receivers", receivers))
	return nil
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return client, nil
}
