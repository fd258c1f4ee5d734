package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

// DefaultStream is the Redis stream key events are appended to
const DefaultStream = "guardian:events"

var _ protocol.EventPublisher = (*StreamPublisher)(nil)

// StreamPublisher appends events to a capped Redis stream for external
// consumers. Append failures are logged; the protocol never waits on them.
type StreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewStreamPublisher(client redis.UniversalClient, stream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.Named("event_stream"),
	}
}

func (p *StreamPublisher) Publish(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("failed to encode event", zap.String("event_id", e.ID.String()), zap.Error(err))
		return
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]interface{}{
			"id":      e.ID.String(),
			"type":    string(e.Type),
			"subject": e.Subject,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		p.logger.Error("failed to append event to stream",
			zap.String("stream", p.stream),
			zap.String("event_id", e.ID.String()),
			zap.String("event_type", string(e.Type)),
			zap.Error(err))
	}
}
