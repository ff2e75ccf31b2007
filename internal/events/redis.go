package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the Redis stream key for lifecycle events
const DefaultStream = "stream-watcher.events"

// streamAdder is the subset of the Redis client used by RedisSink
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends events to a Redis stream
type RedisSink struct {
	client streamAdder
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisSink creates a sink writing to stream. maxLen > 0 trims the stream approximately.
func NewRedisSink(client redis.Cmdable, stream string, maxLen int64, logger *zap.Logger) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish adds the event as a JSON "data" field
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"type":   string(event.Type),
			"worker": event.Worker,
			"data":   string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	s.logger.Debug("event published",
		zap.String("stream", s.stream),
		zap.String("message_id", id),
		zap.String("event", string(event.Type)),
	)
	return nil
}
