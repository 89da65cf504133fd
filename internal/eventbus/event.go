// Package eventbus provides the pub/sub substrate binding the POS services:
// topic-based at-least-once delivery on Redis streams, a small state store
// for idempotency keys and distributed leases, and the transactional outbox
// used by publishers.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topic names and their ingress routes.
const (
	TopicTranlog      = "topic-tranlog"
	TopicCashlog      = "topic-cashlog"
	TopicOpenCloseLog = "topic-opencloselog"
)

// DeadLetterTopic returns the dead-letter stream for a topic.
func DeadLetterTopic(topic string) string {
	return topic + "-dead"
}

// Event is the wire unit carried on every topic. EventID is stable across
// redeliveries; consumers deduplicate on it.
type Event struct {
	EventID    string          `json:"eventId"`
	TenantID   string          `json:"tenantId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent builds an event with a fresh id, encoding payload as JSON.
func NewEvent(tenantID string, payload interface{}) (Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:    uuid.NewString(),
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    encoded,
	}, nil
}
