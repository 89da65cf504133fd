package stock

import (
	"context"
	"time"
)

// Store is the persistence contract for the stock engine.
type Store interface {
	// Get loads one stock row; NotFound when the row does not exist yet.
	Get(ctx context.Context, tenantID, storeCode, itemCode string) (Stock, error)

	// CasUpsertWithAudit persists the row and its audit entry in one
	// transaction. A row with an empty ETag is created; otherwise the save
	// compares the ETag and fails with Conflict on mismatch.
	CasUpsertWithAudit(ctx context.Context, tenantID string, s Stock, audit Update) (Stock, error)

	// CasSave persists threshold changes without an audit row.
	CasSave(ctx context.Context, tenantID string, s Stock) (Stock, error)

	List(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Stock, int, error)
	History(ctx context.Context, tenantID, storeCode, itemCode string, limit, offset int) ([]Update, int, error)

	// LowStock returns rows below their minimum quantity.
	LowStock(ctx context.Context, tenantID, storeCode string) ([]Stock, error)
	// ReorderAlerts returns rows at or below their reorder point.
	ReorderAlerts(ctx context.Context, tenantID, storeCode string) ([]Stock, error)

	InsertSnapshot(ctx context.Context, tenantID string, snap Snapshot) (Snapshot, error)
	GetSnapshot(ctx context.Context, tenantID, snapshotID string) (Snapshot, error)
	ListSnapshots(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Snapshot, int, error)
	DeleteSnapshotsBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)

	GetSchedule(ctx context.Context, tenantID string) (Schedule, error)
	UpsertSchedule(ctx context.Context, tenantID string, sched Schedule) (Schedule, error)
	DeleteSchedule(ctx context.Context, tenantID string) error
	MarkScheduleExecuted(ctx context.Context, tenantID string, at time.Time) error

	// ListStoreCodes returns every store code for snapshot expansion.
	ListStoreCodes(ctx context.Context, tenantID string) ([]string, error)
}
