package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/infrastructure/metrics"
)

// Bus is the Redis-streams implementation of the topic bus. Delivery is
// at-least-once: a message stays pending until the consumer acks it, failed
// messages are reclaimed with growing idle time, and messages that exhaust
// MaxDeliver are moved to the topic's dead-letter stream.
type Bus struct {
	rdb        *redis.Client
	log        *logging.Logger
	MaxDeliver int
	RetryDelay time.Duration
	BlockTime  time.Duration
}

// NewBus creates a bus over an existing Redis client.
func NewBus(rdb *redis.Client, log *logging.Logger) *Bus {
	if log == nil {
		log = logging.NewFromEnv("eventbus")
	}
	return &Bus{
		rdb:        rdb,
		log:        log,
		MaxDeliver: 5,
		RetryDelay: 2 * time.Second,
		BlockTime:  5 * time.Second,
	}
}

// Publish appends an event to a topic stream.
func (b *Bus) Publish(ctx context.Context, topic string, event Event) error {
	values := map[string]interface{}{
		"event_id":    event.EventID,
		"tenant_id":   event.TenantID,
		"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
		"payload":     string(event.Payload),
	}
	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{Stream: topic, Values: values}).Err(); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(topic, "error").Inc()
		return apperr.Dependency(apperr.CodeDependency, "publish event", err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(topic, "ok").Inc()
	b.log.LogEvent(ctx, topic, event.EventID, "publish", nil)
	return nil
}

// Handler processes one event. A non-nil error nacks the delivery: the
// message stays pending and is retried by the reclaim loop.
type Handler func(ctx context.Context, event Event) error

// Subscribe consumes a topic within a consumer group until ctx is cancelled.
// group identifies the logical consumer (report, journal, stock); consumer
// names the worker instance inside the group.
func (b *Bus) Subscribe(ctx context.Context, topic, group, consumer string, handler Handler) error {
	if err := b.ensureGroup(ctx, topic, group); err != nil {
		return err
	}

	go b.reclaimLoop(ctx, topic, group, consumer, handler)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{topic, ">"},
			Count:    10,
			Block:    b.BlockTime,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.log.WithError(err).WithFields(map[string]interface{}{"topic": topic, "group": group}).Warn("read group failed")
			select {
			case <-time.After(b.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				b.deliver(ctx, topic, group, message, handler)
			}
		}
	}
}

func (b *Bus) ensureGroup(ctx context.Context, topic, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return apperr.Dependency(apperr.CodeDependency, "create consumer group", err)
	}
	return nil
}

// deliver runs the handler for one message and acks on success. Failures
// leave the message pending for the reclaim loop.
func (b *Bus) deliver(ctx context.Context, topic, group string, message redis.XMessage, handler Handler) {
	event, err := decodeMessage(message)
	if err != nil {
		// Malformed message: dead-letter immediately, nothing can handle it.
		b.log.WithError(err).WithFields(map[string]interface{}{"topic": topic, "message_id": message.ID}).Error("malformed event")
		b.deadLetter(ctx, topic, group, message)
		return
	}

	if err := handler(ctx, event); err != nil {
		metrics.EventsConsumedTotal.WithLabelValues(topic, group, "failed").Inc()
		b.log.LogEvent(ctx, topic, event.EventID, "handle", err)
		return
	}

	metrics.EventsConsumedTotal.WithLabelValues(topic, group, "handled").Inc()
	if err := b.rdb.XAck(ctx, topic, group, message.ID).Err(); err != nil {
		b.log.WithError(err).WithFields(map[string]interface{}{"topic": topic, "message_id": message.ID}).Warn("ack failed")
	}
}

// reclaimLoop retries pending deliveries with exponential backoff and routes
// exhausted messages to the dead-letter stream.
func (b *Bus) reclaimLoop(ctx context.Context, topic, group, consumer string, handler Handler) {
	ticker := time.NewTicker(b.RetryDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: topic,
			Group:  group,
			Start:  "-",
			End:    "+",
			Count:  50,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}

		for _, entry := range pending {
			if int(entry.RetryCount) >= b.MaxDeliver {
				claimed, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
					Stream:   topic,
					Group:    group,
					Consumer: consumer,
					MinIdle:  0,
					Messages: []string{entry.ID},
				}).Result()
				if err != nil || len(claimed) == 0 {
					continue
				}
				b.deadLetter(ctx, topic, group, claimed[0])
				continue
			}

			// Exponential backoff: a delivery becomes eligible again only
			// after RetryDelay * 2^(deliveries-1) of idleness.
			minIdle := b.RetryDelay << uint(entry.RetryCount-1)
			if entry.Idle < minIdle {
				continue
			}

			claimed, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
				Stream:   topic,
				Group:    group,
				Consumer: consumer,
				MinIdle:  minIdle,
				Messages: []string{entry.ID},
			}).Result()
			if err != nil {
				continue
			}
			for _, message := range claimed {
				b.deliver(ctx, topic, group, message, handler)
			}
		}
	}
}

func (b *Bus) deadLetter(ctx context.Context, topic, group string, message redis.XMessage) {
	values := make(map[string]interface{}, len(message.Values)+1)
	for k, v := range message.Values {
		values[k] = v
	}
	values["failed_group"] = group

	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{Stream: DeadLetterTopic(topic), Values: values}).Err(); err != nil {
		b.log.WithError(err).WithFields(map[string]interface{}{"topic": topic, "message_id": message.ID}).Error("dead-letter failed")
		return
	}
	metrics.EventsConsumedTotal.WithLabelValues(topic, group, "dead_lettered").Inc()
	if err := b.rdb.XAck(ctx, topic, group, message.ID).Err(); err != nil {
		b.log.WithError(err).WithFields(map[string]interface{}{"topic": topic, "message_id": message.ID}).Warn("ack after dead-letter failed")
	}
}

func decodeMessage(message redis.XMessage) (Event, error) {
	event := Event{}

	eventID, _ := message.Values["event_id"].(string)
	tenantID, _ := message.Values["tenant_id"].(string)
	payload, _ := message.Values["payload"].(string)
	occurredAt, _ := message.Values["occurred_at"].(string)

	if eventID == "" || payload == "" {
		return event, apperr.Validation(apperr.CodeValidation, "event missing event_id or payload")
	}
	if !json.Valid([]byte(payload)) {
		return event, apperr.Validation(apperr.CodeValidation, "event payload is not valid JSON")
	}

	event.EventID = eventID
	event.TenantID = tenantID
	event.Payload = json.RawMessage(payload)
	if occurredAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, occurredAt); err == nil {
			event.OccurredAt = parsed
		}
	}
	return event, nil
}
