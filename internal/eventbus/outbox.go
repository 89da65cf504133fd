package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
)

// Outbox implements transactional publication: the event row is committed in
// the same database transaction as the state change, and a dispatcher loop
// publishes committed rows to the bus, marking them delivered on ack. A crash
// between commit and publish is repaired by the next dispatcher pass, so the
// bus sees every event at least once.
type Outbox struct {
	bus *Bus
	log *logging.Logger

	PollInterval time.Duration
	BatchSize    int
}

// NewOutbox creates an outbox dispatcher bound to a bus.
func NewOutbox(bus *Bus, log *logging.Logger) *Outbox {
	if log == nil {
		log = logging.NewFromEnv("outbox")
	}
	return &Outbox{
		bus:          bus,
		log:          log,
		PollInterval: time.Second,
		BatchSize:    100,
	}
}

// InsertTx stages an event inside the caller's transaction.
func (o *Outbox) InsertTx(ctx context.Context, tx *sqlx.Tx, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperr.Internal(apperr.CodeInternal, "encode outbox event", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (topic, event_id, payload)
		VALUES ($1, $2, $3)
	`, topic, event.EventID, string(payload))
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "insert outbox row", err)
	}
	return nil
}

type outboxRow struct {
	ID      int64  `db:"id"`
	Topic   string `db:"topic"`
	EventID string `db:"event_id"`
	Payload []byte `db:"payload"`
}

// DispatchOnce publishes up to BatchSize undelivered rows from one tenant
// database. Returns the number of rows delivered.
func (o *Outbox) DispatchOnce(ctx context.Context, db *sqlx.DB) (int, error) {
	var rows []outboxRow
	err := db.SelectContext(ctx, &rows, `
		SELECT id, topic, event_id, payload
		FROM outbox
		WHERE NOT delivered
		ORDER BY id
		LIMIT $1
	`, o.BatchSize)
	if err != nil {
		return 0, apperr.Dependency(apperr.CodeDependency, "load outbox rows", err)
	}

	delivered := 0
	for _, row := range rows {
		var event Event
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			o.log.WithError(err).WithFields(map[string]interface{}{"outbox_id": row.ID}).Error("malformed outbox payload")
			// Mark delivered so a poison row cannot wedge the dispatcher.
			o.markDelivered(ctx, db, row.ID)
			continue
		}

		if err := o.bus.Publish(ctx, row.Topic, event); err != nil {
			o.bumpAttempts(ctx, db, row.ID)
			return delivered, err
		}
		o.markDelivered(ctx, db, row.ID)
		delivered++
	}
	return delivered, nil
}

func (o *Outbox) markDelivered(ctx context.Context, db *sqlx.DB, id int64) {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET delivered = TRUE, delivered_at = now() WHERE id = $1
	`, id)
	if err != nil {
		o.log.WithError(err).WithFields(map[string]interface{}{"outbox_id": id}).Warn("mark outbox delivered")
	}
}

func (o *Outbox) bumpAttempts(ctx context.Context, db *sqlx.DB, id int64) {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1 WHERE id = $1
	`, id)
	if err != nil {
		o.log.WithError(err).WithFields(map[string]interface{}{"outbox_id": id}).Warn("bump outbox attempts")
	}
}

// TenantLister enumerates the tenants whose outboxes a dispatcher covers.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// HandleFunc resolves a tenant database handle.
type HandleFunc func(tenantID string) (*sqlx.DB, error)

// Run polls every tenant's outbox until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context, tenants TenantLister, handle HandleFunc) {
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ids, err := tenants.ListTenantIDs(ctx)
		if err != nil {
			o.log.WithError(err).Warn("list tenants for outbox dispatch")
			continue
		}
		for _, tenantID := range ids {
			db, err := handle(tenantID)
			if err != nil {
				o.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": tenantID}).Warn("open tenant outbox")
				continue
			}
			if _, err := o.DispatchOnce(ctx, db); err != nil {
				o.log.WithError(err).WithFields(map[string]interface{}{"tenant_id": tenantID}).Warn("dispatch outbox")
			}
		}
	}
}
