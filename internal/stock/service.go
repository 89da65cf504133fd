package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/infrastructure/metrics"
	"github.com/openretail/pos-service-layer/internal/cart"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// snapshotBatchSize caps the rows read per page while building a snapshot.
const snapshotBatchSize = 10000

// Broadcaster fans an alert out to the store's open sockets.
type Broadcaster interface {
	BroadcastStockAlert(ctx context.Context, alert Alert)
}

// CooldownStore is the subset of the state store the alert cooldown needs.
type CooldownStore interface {
	SetJSONNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Service wraps the stock business logic.
type Service struct {
	store Store
	state CooldownStore
	hub   Broadcaster
	log   *logging.Logger
	now   func() time.Time

	// CooldownSeconds is the minimum inter-alert interval per
	// (tenant, store, item, alertType); 0 disables the cooldown.
	CooldownSeconds int
}

// NewService creates a stock service. hub and state may be nil in tests.
func NewService(store Store, state CooldownStore, hub Broadcaster, cooldownSeconds int, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewFromEnv("stock")
	}
	return &Service{
		store:           store,
		state:           state,
		hub:             hub,
		log:             log,
		now:             func() time.Time { return time.Now().UTC() },
		CooldownSeconds: cooldownSeconds,
	}
}

// Get loads one stock row.
func (s *Service) Get(ctx context.Context, tenantID, storeCode, itemCode string) (Stock, error) {
	return s.store.Get(ctx, tenantID, storeCode, itemCode)
}

// List returns a store's stock rows.
func (s *Service) List(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Stock, int, error) {
	return s.store.List(ctx, tenantID, storeCode, limit, offset)
}

// History returns an item's audit trail.
func (s *Service) History(ctx context.Context, tenantID, storeCode, itemCode string, limit, offset int) ([]Update, int, error) {
	return s.store.History(ctx, tenantID, storeCode, itemCode, limit, offset)
}

// LowStock returns rows below minimum.
func (s *Service) LowStock(ctx context.Context, tenantID, storeCode string) ([]Stock, error) {
	return s.store.LowStock(ctx, tenantID, storeCode)
}

// ReorderAlerts returns rows at or below the reorder point.
func (s *Service) ReorderAlerts(ctx context.Context, tenantID, storeCode string) ([]Stock, error) {
	return s.store.ReorderAlerts(ctx, tenantID, storeCode)
}

// Update applies one signed quantity change atomically, appends the audit
// row, evaluates thresholds, and broadcasts any non-cooled-down alerts.
// The row is created lazily (before = 0) on first update. INITIAL sets the
// quantity instead of adding.
func (s *Service) Update(ctx context.Context, tenantID, storeCode, itemCode string, req UpdateRequest) (Stock, Update, error) {
	if !IsValidUpdateType(req.UpdateType) {
		return Stock{}, Update{}, apperr.Validation(CodeInvalidUpdateType, "unknown update type").
			WithDetails("updateType", req.UpdateType)
	}

	var (
		saved Stock
		audit Update
	)
	err := document.WithCASRetry(ctx, func(ctx context.Context) error {
		row, err := s.store.Get(ctx, tenantID, storeCode, itemCode)
		if apperr.IsKind(err, apperr.KindNotFound) {
			row = Stock{StoreCode: storeCode, ItemCode: itemCode}
		} else if err != nil {
			return err
		}

		before := row.CurrentQuantity
		var after decimal.Decimal
		if req.UpdateType == UpdateTypeInitial {
			after = req.QuantityChange
		} else {
			after = before.Add(req.QuantityChange)
		}

		row.CurrentQuantity = after
		if req.ReferenceID != "" {
			ref := req.ReferenceID
			row.LastTransactionID = &ref
		}

		audit = Update{
			StoreCode:      storeCode,
			ItemCode:       itemCode,
			UpdateType:     req.UpdateType,
			QuantityChange: after.Sub(before),
			BeforeQuantity: before,
			AfterQuantity:  after,
		}
		if req.ReferenceID != "" {
			audit.ReferenceID = &req.ReferenceID
		}
		if req.OperatorID != "" {
			audit.OperatorID = &req.OperatorID
		}
		if req.Note != "" {
			audit.Note = &req.Note
		}

		saved, err = s.store.CasUpsertWithAudit(ctx, tenantID, row, audit)
		return err
	})
	if err != nil {
		return Stock{}, Update{}, err
	}

	s.evaluateThresholds(ctx, tenantID, saved)
	return saved, audit, nil
}

// SetMinimum updates the minimum-stock threshold.
func (s *Service) SetMinimum(ctx context.Context, tenantID, storeCode, itemCode string, minimum decimal.Decimal) (Stock, error) {
	return s.updateThresholds(ctx, tenantID, storeCode, itemCode, func(row *Stock) {
		row.MinimumQuantity = minimum
	})
}

// SetReorder updates the reorder point and quantity.
func (s *Service) SetReorder(ctx context.Context, tenantID, storeCode, itemCode string, point, quantity decimal.Decimal) (Stock, error) {
	return s.updateThresholds(ctx, tenantID, storeCode, itemCode, func(row *Stock) {
		row.ReorderPoint = point
		row.ReorderQuantity = quantity
	})
}

func (s *Service) updateThresholds(ctx context.Context, tenantID, storeCode, itemCode string, fn func(*Stock)) (Stock, error) {
	var saved Stock
	err := document.WithCASRetry(ctx, func(ctx context.Context) error {
		row, err := s.store.Get(ctx, tenantID, storeCode, itemCode)
		if apperr.IsKind(err, apperr.KindNotFound) {
			row = Stock{StoreCode: storeCode, ItemCode: itemCode}
		} else if err != nil {
			return err
		}
		fn(&row)
		saved, err = s.store.CasSave(ctx, tenantID, row)
		return err
	})
	return saved, err
}

// evaluateThresholds emits minimum_stock and reorder_point alerts for the
// row, each suppressed by its own cooldown window.
func (s *Service) evaluateThresholds(ctx context.Context, tenantID string, row Stock) {
	if row.MinimumQuantity.IsPositive() && row.CurrentQuantity.LessThan(row.MinimumQuantity) {
		s.emitAlert(ctx, tenantID, row, AlertMinimumStock, row.MinimumQuantity)
	}
	if row.ReorderPoint.IsPositive() && row.CurrentQuantity.LessThanOrEqual(row.ReorderPoint) {
		s.emitAlert(ctx, tenantID, row, AlertReorderPoint, row.ReorderPoint)
	}
}

func cooldownKey(tenantID, storeCode, itemCode, alertType string) string {
	return fmt.Sprintf("alert:%s:%s:%s:%s", tenantID, storeCode, itemCode, alertType)
}

// emitAlert broadcasts unless the cooldown key for this alert is still live.
func (s *Service) emitAlert(ctx context.Context, tenantID string, row Stock, alertType string, threshold decimal.Decimal) {
	if s.hub == nil {
		return
	}

	if s.CooldownSeconds > 0 && s.state != nil {
		ttl := time.Duration(s.CooldownSeconds) * time.Second
		won, err := s.state.SetJSONNX(ctx, cooldownKey(tenantID, row.StoreCode, row.ItemCode, alertType),
			map[string]string{"lastAlertTime": s.now().Format(time.RFC3339)}, ttl)
		if err != nil {
			s.log.WithError(err).Warn("cooldown check failed; emitting alert anyway")
		} else if !won {
			return
		}
	}

	metrics.StockAlertsTotal.WithLabelValues(alertType).Inc()
	s.hub.BroadcastStockAlert(ctx, Alert{
		AlertType:       alertType,
		TenantID:        tenantID,
		StoreCode:       row.StoreCode,
		ItemCode:        row.ItemCode,
		CurrentQuantity: row.CurrentQuantity,
		Threshold:       threshold,
		Timestamp:       s.now(),
	})
}

// CatchUpAlerts returns the alerts a freshly connected socket should see:
// currently violated thresholds for the store, subject to cooldown.
func (s *Service) CatchUpAlerts(ctx context.Context, tenantID, storeCode string) []Alert {
	alerts := []Alert{}
	now := s.now()

	appendIfDue := func(row Stock, alertType string, threshold decimal.Decimal) {
		if s.CooldownSeconds > 0 && s.state != nil {
			ttl := time.Duration(s.CooldownSeconds) * time.Second
			won, err := s.state.SetJSONNX(ctx, cooldownKey(tenantID, row.StoreCode, row.ItemCode, alertType),
				map[string]string{"lastAlertTime": now.Format(time.RFC3339)}, ttl)
			if err == nil && !won {
				return
			}
		}
		alerts = append(alerts, Alert{
			AlertType:       alertType,
			TenantID:        tenantID,
			StoreCode:       row.StoreCode,
			ItemCode:        row.ItemCode,
			CurrentQuantity: row.CurrentQuantity,
			Threshold:       threshold,
			Timestamp:       now,
		})
	}

	low, err := s.store.LowStock(ctx, tenantID, storeCode)
	if err != nil {
		s.log.WithError(err).Warn("catch-up low stock query failed")
	}
	for _, row := range low {
		appendIfDue(row, AlertMinimumStock, row.MinimumQuantity)
	}

	reorder, err := s.store.ReorderAlerts(ctx, tenantID, storeCode)
	if err != nil {
		s.log.WithError(err).Warn("catch-up reorder query failed")
	}
	for _, row := range reorder {
		appendIfDue(row, AlertReorderPoint, row.ReorderPoint)
	}
	return alerts
}

// HandleTranlog is the bus handler applying a completed transaction to
// inventory: one signed update per non-cancelled line. Any line failure
// aborts the batch with an error so the bus redelivers; the idempotency
// adapter skips batches that already completed.
func (s *Service) HandleTranlog(ctx context.Context, event eventbus.Event) error {
	var tranlog cart.Tranlog
	if err := json.Unmarshal(event.Payload, &tranlog); err != nil {
		return apperr.Validation(apperr.CodeValidation, "malformed tranlog payload").WithCause(err)
	}

	for _, line := range tranlog.LineItems {
		if line.Cancelled {
			continue
		}

		updateType, change := lineStockEffect(tranlog.TransactionType, line.Quantity)
		_, _, err := s.Update(ctx, event.TenantID, tranlog.StoreCode, line.ItemCode, UpdateRequest{
			UpdateType:     updateType,
			QuantityChange: change,
			ReferenceID:    fmt.Sprintf("%s-%d", tranlog.TerminalID, tranlog.TransactionNo),
			OperatorID:     tranlog.StaffID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// lineStockEffect maps a transaction type onto the stock update type and the
// signed change for a sold quantity. Returns and voids put stock back; every
// other transaction type subtracts as a sale.
func lineStockEffect(transactionType string, quantity decimal.Decimal) (string, decimal.Decimal) {
	switch transactionType {
	case cart.TransactionTypeReturn:
		return UpdateTypeReturn, quantity
	case cart.TransactionTypeVoid:
		return UpdateTypeVoid, quantity
	default:
		return UpdateTypeSale, quantity.Neg()
	}
}

// CreateSnapshot builds a snapshot of one store's rows in bounded pages.
func (s *Service) CreateSnapshot(ctx context.Context, tenantID, storeCode, createdBy string) (Snapshot, error) {
	snap := Snapshot{
		SnapshotID:       uuid.NewString(),
		StoreCode:        storeCode,
		CreatedBy:        createdBy,
		GenerateDateTime: s.now(),
		Stocks:           []SnapshotItem{},
	}

	total := decimal.Zero
	offset := 0
	for {
		rows, _, err := s.store.List(ctx, tenantID, storeCode, snapshotBatchSize, offset)
		if err != nil {
			return Snapshot{}, err
		}
		for _, row := range rows {
			snap.Stocks = append(snap.Stocks, SnapshotItem{
				ItemCode:        row.ItemCode,
				CurrentQuantity: row.CurrentQuantity,
				MinimumQuantity: row.MinimumQuantity,
				ReorderPoint:    row.ReorderPoint,
			})
			total = total.Add(row.CurrentQuantity)
		}
		if len(rows) < snapshotBatchSize {
			break
		}
		offset += snapshotBatchSize
	}

	snap.TotalItems = len(snap.Stocks)
	snap.TotalQuantity = total
	return s.store.InsertSnapshot(ctx, tenantID, snap)
}

// GetSnapshot loads one snapshot.
func (s *Service) GetSnapshot(ctx context.Context, tenantID, snapshotID string) (Snapshot, error) {
	return s.store.GetSnapshot(ctx, tenantID, snapshotID)
}

// ListSnapshots lists snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Snapshot, int, error) {
	return s.store.ListSnapshots(ctx, tenantID, storeCode, limit, offset)
}

// GetSchedule returns the tenant's snapshot schedule.
func (s *Service) GetSchedule(ctx context.Context, tenantID string) (Schedule, error) {
	return s.store.GetSchedule(ctx, tenantID)
}

// SetSchedule validates and stores the tenant's single snapshot schedule.
func (s *Service) SetSchedule(ctx context.Context, tenantID string, sched Schedule) (Schedule, error) {
	if err := validateSchedule(sched); err != nil {
		return Schedule{}, err
	}
	if len(sched.TargetStores) == 0 {
		sched.TargetStores = []string{"all"}
	}
	if sched.RetentionDays <= 0 {
		sched.RetentionDays = 30
	}
	return s.store.UpsertSchedule(ctx, tenantID, sched)
}

// DeleteSchedule removes the tenant's schedule.
func (s *Service) DeleteSchedule(ctx context.Context, tenantID string) error {
	return s.store.DeleteSchedule(ctx, tenantID)
}

// MarkScheduleExecuted stamps the schedule's last run time.
func (s *Service) MarkScheduleExecuted(ctx context.Context, tenantID string, at time.Time) error {
	return s.store.MarkScheduleExecuted(ctx, tenantID, at)
}

// SweepSnapshots deletes snapshots created before cutoff.
func (s *Service) SweepSnapshots(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	return s.store.DeleteSnapshotsBefore(ctx, tenantID, cutoff)
}

// ListStoreCodes returns every store code for the tenant.
func (s *Service) ListStoreCodes(ctx context.Context, tenantID string) ([]string, error) {
	return s.store.ListStoreCodes(ctx, tenantID)
}

func validateSchedule(sched Schedule) error {
	if sched.Hour < 0 || sched.Hour > 23 || sched.Minute < 0 || sched.Minute > 59 {
		return apperr.Validation(CodeInvalidSchedule, "hour/minute out of range")
	}
	switch sched.Interval {
	case IntervalDaily:
	case IntervalWeekly:
		if sched.DayOfWeek == nil || *sched.DayOfWeek < 0 || *sched.DayOfWeek > 6 {
			return apperr.Validation(CodeInvalidSchedule, "weekly schedules need dayOfWeek 0-6 (0=Monday)")
		}
	case IntervalMonthly:
		if sched.DayOfMonth == nil || *sched.DayOfMonth < 1 || *sched.DayOfMonth > 31 {
			return apperr.Validation(CodeInvalidSchedule, "monthly schedules need dayOfMonth 1-31")
		}
	default:
		return apperr.Validation(CodeInvalidSchedule, "interval must be daily, weekly or monthly")
	}
	return nil
}
