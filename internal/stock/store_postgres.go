package stock

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/metrics"
	"github.com/openretail/pos-service-layer/internal/document"
)

// PostgresStore implements Store on the tenant-scoped document layer.
type PostgresStore struct {
	mgr *document.Manager
}

// NewPostgresStore creates a stock store.
func NewPostgresStore(mgr *document.Manager) *PostgresStore {
	return &PostgresStore{mgr: mgr}
}

const stockColumns = `store_code, item_code, current_quantity, minimum_quantity,
	reorder_point, reorder_quantity, last_transaction_id, etag, created_at, updated_at`

// Get loads one stock row.
func (s *PostgresStore) Get(ctx context.Context, tenantID, storeCode, itemCode string) (Stock, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Stock{}, err
	}

	var row Stock
	err = db.GetContext(ctx, &row, `
		SELECT `+stockColumns+` FROM stocks WHERE store_code = $1 AND item_code = $2
	`, storeCode, itemCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Stock{}, apperr.NotFound(CodeNotFound, "stock not found").
			WithDetails("itemCode", itemCode)
	}
	if err != nil {
		return Stock{}, apperr.Dependency(apperr.CodeDependency, "load stock", err)
	}
	return row, nil
}

// CasUpsertWithAudit writes the stock row and the audit entry atomically.
func (s *PostgresStore) CasUpsertWithAudit(ctx context.Context, tenantID string, row Stock, audit Update) (Stock, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Stock{}, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Stock{}, apperr.Dependency(apperr.CodeDependency, "begin stock update", err)
	}
	defer tx.Rollback()

	saved, err := s.casUpsertTx(ctx, tx, row)
	if err != nil {
		return Stock{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_updates (store_code, item_code, update_type, quantity_change,
			before_quantity, after_quantity, reference_id, operator_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, audit.StoreCode, audit.ItemCode, audit.UpdateType, audit.QuantityChange,
		audit.BeforeQuantity, audit.AfterQuantity, audit.ReferenceID, audit.OperatorID, audit.Note); err != nil {
		return Stock{}, apperr.Dependency(apperr.CodeDependency, "insert stock audit", err)
	}

	if err := tx.Commit(); err != nil {
		return Stock{}, apperr.Dependency(apperr.CodeDependency, "commit stock update", err)
	}
	return saved, nil
}

// CasSave persists the row without audit.
func (s *PostgresStore) CasSave(ctx context.Context, tenantID string, row Stock) (Stock, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Stock{}, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Stock{}, apperr.Dependency(apperr.CodeDependency, "begin stock save", err)
	}
	defer tx.Rollback()

	saved, err := s.casUpsertTx(ctx, tx, row)
	if err != nil {
		return Stock{}, err
	}
	if err := tx.Commit(); err != nil {
		return Stock{}, apperr.Dependency(apperr.CodeDependency, "commit stock save", err)
	}
	return saved, nil
}

func (s *PostgresStore) casUpsertTx(ctx context.Context, tx *sqlx.Tx, row Stock) (Stock, error) {
	now := time.Now().UTC()
	newETag := document.NewETag()

	if row.ETag == "" {
		// Lazy creation on first update.
		row.ETag = newETag
		row.CreatedAt = now
		row.UpdatedAt = now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stocks (store_code, item_code, current_quantity, minimum_quantity,
				reorder_point, reorder_quantity, last_transaction_id, etag, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, row.StoreCode, row.ItemCode, row.CurrentQuantity, row.MinimumQuantity,
			row.ReorderPoint, row.ReorderQuantity, row.LastTransactionID, row.ETag, row.CreatedAt, row.UpdatedAt)
		if err != nil {
			// A concurrent first update won the insert race.
			metrics.CasConflictsTotal.WithLabelValues("stock").Inc()
			return Stock{}, apperr.Conflict(CodeConflict, "stock row was created concurrently")
		}
		return row, nil
	}

	prevETag := row.ETag
	row.ETag = newETag
	row.UpdatedAt = now
	result, err := tx.ExecContext(ctx, `
		UPDATE stocks SET current_quantity = $4, minimum_quantity = $5, reorder_point = $6,
			reorder_quantity = $7, last_transaction_id = $8, etag = $9, updated_at = $10
		WHERE store_code = $1 AND item_code = $2 AND etag = $3
	`, row.StoreCode, row.ItemCode, prevETag,
		row.CurrentQuantity, row.MinimumQuantity, row.ReorderPoint,
		row.ReorderQuantity, row.LastTransactionID, row.ETag, row.UpdatedAt)
	if err != nil {
		return Stock{}, apperr.Dependency(apperr.CodeDependency, "save stock", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Stock{}, apperr.Dependency(apperr.CodeDependency, "save stock", err)
	}
	if affected == 0 {
		metrics.CasConflictsTotal.WithLabelValues("stock").Inc()
		return Stock{}, apperr.Conflict(CodeConflict, "stock row was modified concurrently")
	}
	return row, nil
}

// List returns stock rows for a store.
func (s *PostgresStore) List(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Stock, int, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 10000 {
		limit = 100
	}

	var total int
	if err := db.GetContext(ctx, &total, `SELECT count(*) FROM stocks WHERE store_code = $1`, storeCode); err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "count stocks", err)
	}

	var rows []Stock
	err = db.SelectContext(ctx, &rows, `
		SELECT `+stockColumns+` FROM stocks
		WHERE store_code = $1 ORDER BY item_code LIMIT $2 OFFSET $3
	`, storeCode, limit, offset)
	if err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "list stocks", err)
	}
	return rows, total, nil
}

// History returns the audit trail for one item, newest first.
func (s *PostgresStore) History(ctx context.Context, tenantID, storeCode, itemCode string, limit, offset int) ([]Update, int, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var total int
	if err := db.GetContext(ctx, &total, `
		SELECT count(*) FROM stock_updates WHERE store_code = $1 AND item_code = $2
	`, storeCode, itemCode); err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "count stock history", err)
	}

	var rows []Update
	err = db.SelectContext(ctx, &rows, `
		SELECT id, store_code, item_code, update_type, quantity_change, before_quantity,
		       after_quantity, reference_id, operator_id, note, created_at
		FROM stock_updates
		WHERE store_code = $1 AND item_code = $2
		ORDER BY id DESC LIMIT $3 OFFSET $4
	`, storeCode, itemCode, limit, offset)
	if err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "list stock history", err)
	}
	return rows, total, nil
}

// LowStock returns rows below their minimum quantity.
func (s *PostgresStore) LowStock(ctx context.Context, tenantID, storeCode string) ([]Stock, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, err
	}
	var rows []Stock
	err = db.SelectContext(ctx, &rows, `
		SELECT `+stockColumns+` FROM stocks
		WHERE store_code = $1 AND minimum_quantity > 0 AND current_quantity < minimum_quantity
		ORDER BY item_code
	`, storeCode)
	if err != nil {
		return nil, apperr.Dependency(apperr.CodeDependency, "list low stock", err)
	}
	return rows, nil
}

// ReorderAlerts returns rows at or below their reorder point.
func (s *PostgresStore) ReorderAlerts(ctx context.Context, tenantID, storeCode string) ([]Stock, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, err
	}
	var rows []Stock
	err = db.SelectContext(ctx, &rows, `
		SELECT `+stockColumns+` FROM stocks
		WHERE store_code = $1 AND reorder_point > 0 AND current_quantity <= reorder_point
		ORDER BY item_code
	`, storeCode)
	if err != nil {
		return nil, apperr.Dependency(apperr.CodeDependency, "list reorder alerts", err)
	}
	return rows, nil
}

type snapshotRow struct {
	SnapshotID       string          `db:"snapshot_id"`
	StoreCode        string          `db:"store_code"`
	TotalItems       int             `db:"total_items"`
	TotalQuantity    decimal.Decimal `db:"total_quantity"`
	Stocks           []byte          `db:"stocks"`
	CreatedBy        string          `db:"created_by"`
	GenerateDateTime time.Time       `db:"generate_date_time"`
	CreatedAt        time.Time       `db:"created_at"`
}

func (r snapshotRow) decode() (Snapshot, error) {
	var items []SnapshotItem
	if err := json.Unmarshal(r.Stocks, &items); err != nil {
		return Snapshot{}, apperr.Internal(apperr.CodeInternal, "decode snapshot items", err)
	}
	return Snapshot{
		SnapshotID:       r.SnapshotID,
		StoreCode:        r.StoreCode,
		TotalItems:       r.TotalItems,
		TotalQuantity:    r.TotalQuantity,
		Stocks:           items,
		CreatedBy:        r.CreatedBy,
		GenerateDateTime: r.GenerateDateTime,
		CreatedAt:        r.CreatedAt,
	}, nil
}

// InsertSnapshot persists a snapshot document.
func (s *PostgresStore) InsertSnapshot(ctx context.Context, tenantID string, snap Snapshot) (Snapshot, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Snapshot{}, err
	}

	items, err := json.Marshal(snap.Stocks)
	if err != nil {
		return Snapshot{}, apperr.Internal(apperr.CodeInternal, "encode snapshot items", err)
	}
	snap.CreatedAt = time.Now().UTC()

	_, err = db.ExecContext(ctx, `
		INSERT INTO stock_snapshots (snapshot_id, store_code, total_items, total_quantity,
			stocks, created_by, generate_date_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, snap.SnapshotID, snap.StoreCode, snap.TotalItems, snap.TotalQuantity,
		string(items), snap.CreatedBy, snap.GenerateDateTime, snap.CreatedAt)
	if err != nil {
		return Snapshot{}, apperr.Dependency(apperr.CodeDependency, "insert snapshot", err)
	}
	return snap, nil
}

// GetSnapshot loads a snapshot by id.
func (s *PostgresStore) GetSnapshot(ctx context.Context, tenantID, snapshotID string) (Snapshot, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Snapshot{}, err
	}

	var row snapshotRow
	err = db.GetContext(ctx, &row, `
		SELECT snapshot_id, store_code, total_items, total_quantity, stocks, created_by,
		       generate_date_time, created_at
		FROM stock_snapshots WHERE snapshot_id = $1
	`, snapshotID)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, apperr.NotFound(CodeSnapshotNotFound, "snapshot not found")
	}
	if err != nil {
		return Snapshot{}, apperr.Dependency(apperr.CodeDependency, "load snapshot", err)
	}
	return row.decode()
}

// ListSnapshots returns snapshots, newest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Snapshot, int, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	where := ""
	args := []interface{}{}
	if storeCode != "" {
		where = " WHERE store_code = $1"
		args = append(args, storeCode)
	}

	var total int
	if err := db.GetContext(ctx, &total, `SELECT count(*) FROM stock_snapshots`+where, args...); err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "count snapshots", err)
	}

	query := `
		SELECT snapshot_id, store_code, total_items, total_quantity, stocks, created_by,
		       generate_date_time, created_at
		FROM stock_snapshots` + where + `
		ORDER BY created_at DESC`
	if storeCode != "" {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}
	args = append(args, limit, offset)

	var rows []snapshotRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "list snapshots", err)
	}

	snaps := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.decode()
		if err != nil {
			return nil, 0, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, total, nil
}

// DeleteSnapshotsBefore removes snapshots older than cutoff.
func (s *PostgresStore) DeleteSnapshotsBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, `DELETE FROM stock_snapshots WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Dependency(apperr.CodeDependency, "sweep snapshots", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

type scheduleRow struct {
	Interval       string        `db:"sched_interval"`
	Hour           int           `db:"hour"`
	Minute         int           `db:"minute"`
	DayOfWeek      sql.NullInt64 `db:"day_of_week"`
	DayOfMonth     sql.NullInt64 `db:"day_of_month"`
	RetentionDays  int           `db:"retention_days"`
	TargetStores   []byte        `db:"target_stores"`
	Enabled        bool          `db:"enabled"`
	LastExecutedAt sql.NullTime  `db:"last_executed_at"`
	ETag           string        `db:"etag"`
}

// GetSchedule loads the tenant's schedule.
func (s *PostgresStore) GetSchedule(ctx context.Context, tenantID string) (Schedule, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Schedule{}, err
	}

	var row scheduleRow
	err = db.GetContext(ctx, &row, `
		SELECT sched_interval, hour, minute, day_of_week, day_of_month, retention_days,
		       target_stores, enabled, last_executed_at, etag
		FROM snapshot_schedules WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, apperr.NotFound(CodeScheduleNotFound, "snapshot schedule not configured")
	}
	if err != nil {
		return Schedule{}, apperr.Dependency(apperr.CodeDependency, "load schedule", err)
	}

	sched := Schedule{
		Interval:      row.Interval,
		Hour:          row.Hour,
		Minute:        row.Minute,
		RetentionDays: row.RetentionDays,
		Enabled:       row.Enabled,
		ETag:          row.ETag,
	}
	if row.DayOfWeek.Valid {
		v := int(row.DayOfWeek.Int64)
		sched.DayOfWeek = &v
	}
	if row.DayOfMonth.Valid {
		v := int(row.DayOfMonth.Int64)
		sched.DayOfMonth = &v
	}
	if row.LastExecutedAt.Valid {
		t := row.LastExecutedAt.Time
		sched.LastExecutedAt = &t
	}
	if err := json.Unmarshal(row.TargetStores, &sched.TargetStores); err != nil {
		return Schedule{}, apperr.Internal(apperr.CodeInternal, "decode target stores", err)
	}
	return sched, nil
}

// UpsertSchedule creates or replaces the tenant's single schedule.
func (s *PostgresStore) UpsertSchedule(ctx context.Context, tenantID string, sched Schedule) (Schedule, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Schedule{}, err
	}

	targets, err := json.Marshal(sched.TargetStores)
	if err != nil {
		return Schedule{}, apperr.Internal(apperr.CodeInternal, "encode target stores", err)
	}
	sched.ETag = document.NewETag()

	_, err = db.ExecContext(ctx, `
		INSERT INTO snapshot_schedules (id, sched_interval, hour, minute, day_of_week, day_of_month,
			retention_days, target_stores, enabled, etag)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			sched_interval = EXCLUDED.sched_interval,
			hour = EXCLUDED.hour,
			minute = EXCLUDED.minute,
			day_of_week = EXCLUDED.day_of_week,
			day_of_month = EXCLUDED.day_of_month,
			retention_days = EXCLUDED.retention_days,
			target_stores = EXCLUDED.target_stores,
			enabled = EXCLUDED.enabled,
			etag = EXCLUDED.etag,
			updated_at = now()
	`, sched.Interval, sched.Hour, sched.Minute, sched.DayOfWeek, sched.DayOfMonth,
		sched.RetentionDays, string(targets), sched.Enabled, sched.ETag)
	if err != nil {
		return Schedule{}, apperr.Dependency(apperr.CodeDependency, "save schedule", err)
	}
	return sched, nil
}

// DeleteSchedule removes the tenant's schedule.
func (s *PostgresStore) DeleteSchedule(ctx context.Context, tenantID string) error {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM snapshot_schedules WHERE id = 1`); err != nil {
		return apperr.Dependency(apperr.CodeDependency, "delete schedule", err)
	}
	return nil
}

// MarkScheduleExecuted stamps the last run time.
func (s *PostgresStore) MarkScheduleExecuted(ctx context.Context, tenantID string, at time.Time) error {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		UPDATE snapshot_schedules SET last_executed_at = $1, updated_at = now() WHERE id = 1
	`, at); err != nil {
		return apperr.Dependency(apperr.CodeDependency, "mark schedule executed", err)
	}
	return nil
}

// ListStoreCodes returns every store code for the tenant.
func (s *PostgresStore) ListStoreCodes(ctx context.Context, tenantID string) ([]string, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, err
	}
	var codes []string
	if err := db.SelectContext(ctx, &codes, `SELECT store_code FROM stores ORDER BY store_code`); err != nil {
		return nil, apperr.Dependency(apperr.CodeDependency, "list stores", err)
	}
	return codes, nil
}
