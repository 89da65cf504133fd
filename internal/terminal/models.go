// Package terminal implements the terminal lifecycle engine: CRUD, staff
// sign-in, open/close with drawer reconciliation, cash in/out, and the
// cashlog / opencloselog events those operations emit.
package terminal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Error codes (terminal range 20xxx).
const (
	CodeNotFound            = 20001
	CodeAlreadyExists       = 20002
	CodeInvalidState        = 20003
	CodeStaffNotSignedIn    = 20004
	CodeInvalidFunctionMode = 20005
	CodeInvalidAmount       = 20006
	CodeActiveCartExists    = 20007
	CodeConflict            = 20008
	CodeStoreNotFound       = 20009
)

// Terminal statuses. Closed persists as an observable state after close;
// the next open is permitted from both Idle and Closed.
const (
	StatusIdle   = "idle"
	StatusOpened = "opened"
	StatusClosed = "closed"
)

// Function modes advertised to the client.
var FunctionModes = []string{
	"MainMenu",
	"Sales",
	"Returns",
	"Void",
	"Reports",
	"OpenTerminal",
	"CloseTerminal",
	"Journal",
	"Maintenance",
	"CashInOut",
}

// IsValidFunctionMode reports whether mode is a known member.
func IsValidFunctionMode(mode string) bool {
	for _, m := range FunctionModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Terminal is a POS terminal row.
type Terminal struct {
	TerminalID      string              `json:"terminalId" db:"terminal_id"`
	StoreCode       string              `json:"storeCode" db:"store_code"`
	TerminalNo      int                 `json:"terminalNo" db:"terminal_no"`
	Description     string              `json:"description" db:"description"`
	Status          string              `json:"status" db:"status"`
	FunctionMode    string              `json:"functionMode" db:"function_mode"`
	OpenCounter     int64               `json:"openCounter" db:"open_counter"`
	BusinessCounter int64               `json:"businessCounter" db:"business_counter"`
	BusinessDate    *string             `json:"businessDate" db:"business_date"`
	InitialAmount   decimal.NullDecimal `json:"initialAmount" db:"initial_amount"`
	PhysicalAmount  decimal.NullDecimal `json:"physicalAmount" db:"physical_amount"`
	CashAmount      decimal.Decimal     `json:"cashAmount" db:"cash_amount"`
	StaffID         *string             `json:"staffId" db:"staff_id"`
	StaffName       *string             `json:"staffName" db:"staff_name"`
	APIKeyHash      string              `json:"-" db:"api_key_hash"`
	ETag            string              `json:"etag" db:"etag"`
	CreatedAt       time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time           `json:"updatedAt" db:"updated_at"`
}

// SignedIn reports whether a staff member is signed in.
func (t *Terminal) SignedIn() bool {
	return t.StaffID != nil && *t.StaffID != ""
}

// Cash directions.
const (
	CashDirectionIn  = "in"
	CashDirectionOut = "out"
)

// OpenCloseLog kinds.
const (
	OpenCloseKindOpen  = "OPEN"
	OpenCloseKindClose = "CLOSE"
)

// Cashlog is the payload published on topic-cashlog for every drawer movement.
type Cashlog struct {
	TenantID     string          `json:"tenantId"`
	StoreCode    string          `json:"storeCode"`
	TerminalID   string          `json:"terminalId"`
	BusinessDate string          `json:"businessDate"`
	Amount       decimal.Decimal `json:"amount"`
	Direction    string          `json:"direction"`
	Reason       string          `json:"reason"`
	Note         string          `json:"note"`
	ReceiptText  string          `json:"receiptText"`
	JournalText  string          `json:"journalText"`
	OperatorID   string          `json:"operatorId"`
	Timestamp    time.Time       `json:"timestamp"`
}

// OpenCloseLog is the payload published on topic-opencloselog at terminal
// open and close.
type OpenCloseLog struct {
	TenantID         string              `json:"tenantId"`
	StoreCode        string              `json:"storeCode"`
	TerminalID       string              `json:"terminalId"`
	Kind             string              `json:"kind"`
	BusinessDate     string              `json:"businessDate"`
	OpenCounter      int64               `json:"openCounter"`
	InitialAmount    decimal.NullDecimal `json:"initialAmount"`
	PhysicalAmount   decimal.NullDecimal `json:"physicalAmount"`
	ExpectedAmount   decimal.NullDecimal `json:"expectedAmount"`
	DifferenceAmount decimal.NullDecimal `json:"differenceAmount"`
	StaffID          string              `json:"staffId"`
	ReceiptText      string              `json:"receiptText"`
	JournalText      string              `json:"journalText"`
	Timestamp        time.Time           `json:"timestamp"`
}
