package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cardquest/progression/internal/domain/shared"
	"github.com/cardquest/progression/pkg/logger"
)

// DefaultEventsChannel is the pub/sub channel progression events are mirrored to.
const DefaultEventsChannel = "progression:events"

// RedisPublisher is the part of the redis client the forwarder needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventEnvelope is the wire form of a forwarded event.
type EventEnvelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventID     string                 `json:"event_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// RedisForwarder mirrors every event published on a local bus to a Redis
// channel so other services (notification fan-out, analytics) can react.
type RedisForwarder struct {
	client     RedisPublisher
	channel    string
	instanceID string
	log        *logger.Logger
}

// NewRedisForwarder creates a forwarder. An empty channel means DefaultEventsChannel.
func NewRedisForwarder(client RedisPublisher, channel string, log *logger.Logger) *RedisForwarder {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	if log == nil {
		log = logger.Default()
	}
	return &RedisForwarder{
		client:     client,
		channel:    channel,
		instanceID: generateInstanceID(),
		log:        log.Named("redis_forwarder"),
	}
}

// Attach subscribes the forwarder to all events on the bus.
func (f *RedisForwarder) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(f.Handle)
}

// Handle is a shared.EventHandler that publishes the event envelope.
func (f *RedisForwarder) Handle(ctx context.Context, event shared.Event) error {
	data, err := json.Marshal(EventEnvelope{
		InstanceID:  f.instanceID,
		EventID:     uuid.NewString(),
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := f.client.Publish(ctx, f.channel, string(data)).Err(); err != nil {
		f.log.Warn("failed to forward event",
			logger.String("event_type", string(event.EventType())),
			logger.UserID(event.AggregateID()),
			logger.Err(err))
		return fmt.Errorf("publish to %s: %w", f.channel, err)
	}
	return nil
}

// InstanceID identifies this process in forwarded envelopes.
func (f *RedisForwarder) InstanceID() string { return f.instanceID }

func generateInstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
