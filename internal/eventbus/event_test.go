package eventbus

import (
	"encoding/json"
	"testing"

	"github.com/go-redis/redis/v8"
)

func TestNewEventAssignsStableIdentity(t *testing.T) {
	event, err := NewEvent("A1234", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if event.EventID == "" {
		t.Fatal("event id must be assigned")
	}
	if event.TenantID != "A1234" {
		t.Fatalf("tenant not carried: %s", event.TenantID)
	}
	var payload map[string]string
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("payload must round-trip: %v", err)
	}
	if payload["hello"] != "world" {
		t.Fatalf("payload lost: %+v", payload)
	}

	second, _ := NewEvent("A1234", nil)
	if second.EventID == event.EventID {
		t.Fatal("event ids must be unique")
	}
}

func TestDeadLetterTopicNaming(t *testing.T) {
	if got := DeadLetterTopic(TopicTranlog); got != "topic-tranlog-dead" {
		t.Fatalf("unexpected dead-letter topic: %s", got)
	}
}

func TestDecodeMessage(t *testing.T) {
	msg := redis.XMessage{
		ID: "1-1",
		Values: map[string]interface{}{
			"event_id":    "evt-1",
			"tenant_id":   "A1234",
			"occurred_at": "2025-06-01T09:30:00.000000000Z",
			"payload":     `{"total": 660}`,
		},
	}
	event, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.EventID != "evt-1" || event.TenantID != "A1234" {
		t.Fatalf("identity lost: %+v", event)
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("occurred_at must parse")
	}

	// Missing event id dead-letters.
	bad := redis.XMessage{ID: "1-2", Values: map[string]interface{}{"payload": `{}`}}
	if _, err := decodeMessage(bad); err == nil {
		t.Fatal("missing event_id must be rejected")
	}

	// Invalid JSON payloads are rejected before the handler sees them.
	invalid := redis.XMessage{ID: "1-3", Values: map[string]interface{}{"event_id": "evt-2", "payload": "not-json"}}
	if _, err := decodeMessage(invalid); err == nil {
		t.Fatal("invalid payload must be rejected")
	}
}
