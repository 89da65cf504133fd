// Package idempotent wraps event handlers with the idempotency protocol used
// by every downstream consumer: each (consumer, eventId) pair executes its
// handler at most once no matter how often the bus redelivers the event.
package idempotent

import (
	"context"
	"time"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/infrastructure/metrics"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// Record statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Record is the idempotency record stored per (consumer, eventId).
type Record struct {
	Consumer string `json:"consumer"`
	EventID  string `json:"eventId"`
	Status   string `json:"status"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RecordStore is the subset of the state store the adapter needs.
type RecordStore interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetJSONNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Adapter guards handlers with idempotency records in the state store.
type Adapter struct {
	store RecordStore
	log   *logging.Logger

	// CompletedTTL bounds how long a completed record suppresses replays.
	CompletedTTL time.Duration
	// ProcessingTTL guards against a crashed handler holding the claim forever.
	ProcessingTTL time.Duration
}

// New creates an adapter.
func New(store RecordStore, log *logging.Logger) *Adapter {
	if log == nil {
		log = logging.NewFromEnv("idempotent")
	}
	return &Adapter{
		store:         store,
		log:           log,
		CompletedTTL:  time.Hour,
		ProcessingTTL: time.Minute,
	}
}

func recordKey(consumer, eventID string) string {
	return "idem:" + consumer + ":" + eventID
}

// Wrap returns a bus handler that runs inner exactly once per eventId.
//
// Protocol: a Completed record short-circuits with an ack; a live Processing
// record from another worker nacks so the bus backs off; otherwise this
// worker claims the record, runs the handler, and writes the outcome.
func (a *Adapter) Wrap(consumer string, inner eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, event eventbus.Event) error {
		key := recordKey(consumer, event.EventID)

		var existing Record
		err := a.store.GetJSON(ctx, key, &existing)
		switch {
		case err == nil && existing.Status == StatusCompleted:
			metrics.EventsConsumedTotal.WithLabelValues("", consumer, "duplicate").Inc()
			a.log.WithFields(map[string]interface{}{
				"consumer": consumer,
				"event_id": event.EventID,
			}).Debug("duplicate event skipped")
			return nil
		case err == nil && existing.Status == StatusProcessing:
			return apperr.Conflict(apperr.CodeConflict, "event is being processed by another worker")
		case err != nil && err != eventbus.ErrNotFound:
			return err
		}

		claim := Record{Consumer: consumer, EventID: event.EventID, Status: StatusProcessing}
		if existing.Status == StatusFailed {
			// A failed attempt left its record behind; take over the claim.
			if err := a.store.SetJSON(ctx, key, claim, a.ProcessingTTL); err != nil {
				return err
			}
		} else {
			won, err := a.store.SetJSONNX(ctx, key, claim, a.ProcessingTTL)
			if err != nil {
				return err
			}
			if !won {
				return apperr.Conflict(apperr.CodeConflict, "event claimed by another worker")
			}
		}

		if err := inner(ctx, event); err != nil {
			failed := Record{Consumer: consumer, EventID: event.EventID, Status: StatusFailed, Error: err.Error()}
			if writeErr := a.store.SetJSON(ctx, key, failed, a.ProcessingTTL); writeErr != nil {
				a.log.WithError(writeErr).Warn("write failed idempotency record")
			}
			return err
		}

		completed := Record{Consumer: consumer, EventID: event.EventID, Status: StatusCompleted, Result: "ok"}
		if err := a.store.SetJSON(ctx, key, completed, a.CompletedTTL); err != nil {
			// The handler succeeded; losing the record only risks a duplicate
			// run, which the handler's own guards must tolerate.
			a.log.WithError(err).Warn("write completed idempotency record")
		}
		return nil
	}
}
