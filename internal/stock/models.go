// Package stock implements the inventory engine: atomic stock updates with
// an append-only audit trail, threshold alerting with cooldown, WebSocket
// fan-out, snapshots, and the idempotent tranlog consumer that applies sales
// to inventory.
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// Error codes (stock range 60xxx).
const (
	CodeNotFound          = 60001
	CodeInvalidUpdateType = 60002
	CodeConflict          = 60003
	CodeSnapshotNotFound  = 60004
	CodeScheduleNotFound  = 60005
	CodeInvalidSchedule   = 60006
)

// Update types. Sign conventions are advisory; the engine applies the signed
// quantityChange verbatim, except INITIAL which sets the quantity.
const (
	UpdateTypeSale        = "SALE"
	UpdateTypeReturn      = "RETURN"
	UpdateTypeVoid        = "VOID"
	UpdateTypeVoidReturn  = "VOID_RETURN"
	UpdateTypePurchase    = "PURCHASE"
	UpdateTypeAdjustment  = "ADJUSTMENT"
	UpdateTypeInitial     = "INITIAL"
	UpdateTypeDamage      = "DAMAGE"
	UpdateTypeTransferIn  = "TRANSFER_IN"
	UpdateTypeTransferOut = "TRANSFER_OUT"
)

var updateTypes = map[string]bool{
	UpdateTypeSale:        true,
	UpdateTypeReturn:      true,
	UpdateTypeVoid:        true,
	UpdateTypeVoidReturn:  true,
	UpdateTypePurchase:    true,
	UpdateTypeAdjustment:  true,
	UpdateTypeInitial:     true,
	UpdateTypeDamage:      true,
	UpdateTypeTransferIn:  true,
	UpdateTypeTransferOut: true,
}

// IsValidUpdateType reports whether t is a known update type.
func IsValidUpdateType(t string) bool {
	return updateTypes[t]
}

// Alert types.
const (
	AlertMinimumStock = "minimum_stock"
	AlertReorderPoint = "reorder_point"
)

// Stock is one inventory row, keyed (storeCode, itemCode) within a tenant.
// Quantity may go negative for backorder support.
type Stock struct {
	StoreCode         string          `json:"storeCode" db:"store_code"`
	ItemCode          string          `json:"itemCode" db:"item_code"`
	CurrentQuantity   decimal.Decimal `json:"currentQuantity" db:"current_quantity"`
	MinimumQuantity   decimal.Decimal `json:"minimumQuantity" db:"minimum_quantity"`
	ReorderPoint      decimal.Decimal `json:"reorderPoint" db:"reorder_point"`
	ReorderQuantity   decimal.Decimal `json:"reorderQuantity" db:"reorder_quantity"`
	LastTransactionID *string         `json:"lastTransactionId" db:"last_transaction_id"`
	ETag              string          `json:"etag" db:"etag"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// Update is an immutable audit row.
type Update struct {
	ID             int64           `json:"id" db:"id"`
	StoreCode      string          `json:"storeCode" db:"store_code"`
	ItemCode       string          `json:"itemCode" db:"item_code"`
	UpdateType     string          `json:"updateType" db:"update_type"`
	QuantityChange decimal.Decimal `json:"quantityChange" db:"quantity_change"`
	BeforeQuantity decimal.Decimal `json:"beforeQuantity" db:"before_quantity"`
	AfterQuantity  decimal.Decimal `json:"afterQuantity" db:"after_quantity"`
	ReferenceID    *string         `json:"referenceId" db:"reference_id"`
	OperatorID     *string         `json:"operatorId" db:"operator_id"`
	Note           *string         `json:"note" db:"note"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// UpdateRequest is the contract of the update operation.
type UpdateRequest struct {
	UpdateType     string          `json:"updateType"`
	QuantityChange decimal.Decimal `json:"quantityChange"`
	ReferenceID    string          `json:"referenceId,omitempty"`
	OperatorID     string          `json:"operatorId,omitempty"`
	Note           string          `json:"note,omitempty"`
}

// SnapshotItem is the per-item detail inside a snapshot.
type SnapshotItem struct {
	ItemCode        string          `json:"itemCode"`
	CurrentQuantity decimal.Decimal `json:"currentQuantity"`
	MinimumQuantity decimal.Decimal `json:"minimumQuantity"`
	ReorderPoint    decimal.Decimal `json:"reorderPoint"`
}

// Snapshot is a point-in-time dump of one store's stock rows.
type Snapshot struct {
	SnapshotID       string          `json:"snapshotId" db:"snapshot_id"`
	StoreCode        string          `json:"storeCode" db:"store_code"`
	TotalItems       int             `json:"totalItems" db:"total_items"`
	TotalQuantity    decimal.Decimal `json:"totalQuantity" db:"total_quantity"`
	Stocks           []SnapshotItem  `json:"stocks" db:"-"`
	CreatedBy        string          `json:"createdBy" db:"created_by"`
	GenerateDateTime time.Time       `json:"generateDateTime" db:"generate_date_time"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
}

// Schedule intervals.
const (
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
)

// Schedule is the tenant's snapshot schedule; at most one exists per tenant.
// DayOfWeek uses 0=Monday for weekly schedules.
type Schedule struct {
	Interval       string     `json:"interval"`
	Hour           int        `json:"hour"`
	Minute         int        `json:"minute"`
	DayOfWeek      *int       `json:"dayOfWeek,omitempty"`
	DayOfMonth     *int       `json:"dayOfMonth,omitempty"`
	RetentionDays  int        `json:"retentionDays"`
	TargetStores   []string   `json:"targetStores"`
	Enabled        bool       `json:"enabled"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`
	ETag           string     `json:"etag"`
}

// Alert is a threshold violation sent to the hub.
type Alert struct {
	AlertType       string          `json:"alertType"`
	TenantID        string          `json:"tenantId"`
	StoreCode       string          `json:"storeCode"`
	ItemCode        string          `json:"itemCode"`
	CurrentQuantity decimal.Decimal `json:"currentQuantity"`
	Threshold       decimal.Decimal `json:"threshold"`
	Timestamp       time.Time       `json:"timestamp"`
}
