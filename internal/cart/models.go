// Package cart implements the transaction engine: the per-cart state
// machine, line item and payment accumulation, tax computation, the
// write-through cart cache with sticky terminal ownership, and the tranlog
// emitted atomically with completion.
package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/internal/master"
)

// Error codes (cart range 40xxx).
const (
	CodeNotFound                = 40001
	CodeInvalidStateTransition  = 40002
	CodeItemNotFound            = 40003
	CodeItemPriceMissing        = 40004
	CodePaymentMethodNotAllowed = 40005
	CodeAmountLimitExceeded     = 40006
	CodeOwnershipViolation      = 40007
	CodeConflict                = 40008
	CodeTerminalNotOpened       = 40009
	CodeBalanceRemaining        = 40010
	CodeLineItemNotFound        = 40011
	CodeInvalidQuantity         = 40012
	CodeInvalidDiscount         = 40013
)

// Cart statuses.
const (
	StatusInitial      = "initial"
	StatusIdle         = "idle"
	StatusEnteringItem = "entering_item"
	StatusPreTax       = "pre_tax"
	StatusPayingItem   = "paying_item"
	StatusCompleted    = "completed"
	StatusCancelled    = "cancelled"
	StatusPaused       = "paused"
)

// Terminal statuses the engine cares about (owned by the terminal service,
// read through the shared tenant database).
const terminalStatusOpened = "opened"

// Transaction types.
const (
	TransactionTypeSale   = "sale"
	TransactionTypeReturn = "return"
	TransactionTypeVoid   = "void"
)

// Discount is an amount- or percent-valued reduction. Amount holds the
// resolved monetary value regardless of type.
type Discount struct {
	Type   string          `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

// Discount types.
const (
	DiscountTypeAmount  = "amount"
	DiscountTypePercent = "percent"
)

// LineItem is one cart line. Lines are appended monotonically; cancellation
// sets the flag, the line is never removed.
type LineItem struct {
	LineNo       int             `json:"lineNo"`
	ItemCode     string          `json:"itemCode"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TaxCode      string          `json:"taxCode"`
	CategoryCode string          `json:"categoryCode,omitempty"`
	Discounts    []Discount      `json:"discounts,omitempty"`
	Cancelled    bool            `json:"cancelled"`
	Amount       decimal.Decimal `json:"amount"`
}

// DiscountTotal sums the line's resolved discounts.
func (l *LineItem) DiscountTotal() decimal.Decimal {
	total := decimal.Zero
	for _, d := range l.Discounts {
		total = total.Add(d.Amount)
	}
	return total
}

// Payment is one tender against the cart.
type Payment struct {
	PaymentNo   int             `json:"paymentNo"`
	PaymentCode string          `json:"paymentCode"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// TaxLine is the computed tax for one tax-code group.
type TaxLine struct {
	TaxCode      string          `json:"taxCode"`
	Rate         decimal.Decimal `json:"rate"`
	TaxType      string          `json:"taxType"`
	TargetAmount decimal.Decimal `json:"targetAmount"`
	TaxAmount    decimal.Decimal `json:"taxAmount"`
}

// Cart is the transaction in progress. The whole document is cached under
// its cartId and persisted as one row; mutations are serialized by ETag CAS
// plus sticky terminal ownership.
type Cart struct {
	CartID          string     `json:"cartId"`
	TenantID        string     `json:"tenantId"`
	StoreCode       string     `json:"storeCode"`
	TerminalID      string     `json:"terminalId"`
	Status          string     `json:"status"`
	TransactionType string     `json:"transactionType"`
	BusinessDate    string     `json:"businessDate"`
	StaffID         string     `json:"staffId"`
	LineItems       []LineItem `json:"lineItems"`
	Payments        []Payment  `json:"payments"`
	OrderDiscounts  []Discount `json:"orderDiscounts,omitempty"`
	Taxes           []TaxLine  `json:"taxes"`

	LineTotal          decimal.Decimal `json:"lineTotal"`
	TaxAmount          decimal.Decimal `json:"taxAmount"`
	IncludedTaxAmount  decimal.Decimal `json:"includedTaxAmount"`
	OrderDiscountTotal decimal.Decimal `json:"orderDiscountTotal"`
	Total              decimal.Decimal `json:"total"`
	DepositTotal       decimal.Decimal `json:"depositTotal"`
	Balance            decimal.Decimal `json:"balance"`
	ChangeAmount       decimal.Decimal `json:"changeAmount"`

	ReceiptNo     int64 `json:"receiptNo,omitempty"`
	TransactionNo int64 `json:"transactionNo,omitempty"`

	ETag      string    `json:"etag"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Terminal returns whether the cart is in a terminal state.
func (c *Cart) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusCancelled
}

// ActiveLines returns the non-cancelled line items.
func (c *Cart) ActiveLines() []LineItem {
	lines := make([]LineItem, 0, len(c.LineItems))
	for _, l := range c.LineItems {
		if !l.Cancelled {
			lines = append(lines, l)
		}
	}
	return lines
}

// Tranlog is the immutable snapshot of a completed cart published on
// topic-tranlog and consumed by the report, journal and stock services.
type Tranlog struct {
	TenantID        string     `json:"tenantId"`
	StoreCode       string     `json:"storeCode"`
	TerminalID      string     `json:"terminalId"`
	TransactionNo   int64      `json:"transactionNo"`
	ReceiptNo       int64      `json:"receiptNo"`
	TransactionType string     `json:"transactionType"`
	BusinessDate    string     `json:"businessDate"`
	BusinessCounter int64      `json:"businessCounter"`
	StaffID         string     `json:"staffId"`
	LineItems       []LineItem `json:"lineItems"`
	Payments        []Payment  `json:"payments"`
	Taxes           []TaxLine  `json:"taxes"`

	LineTotal          decimal.Decimal `json:"lineTotal"`
	TaxAmount          decimal.Decimal `json:"taxAmount"`
	OrderDiscountTotal decimal.Decimal `json:"orderDiscountTotal"`
	Total              decimal.Decimal `json:"total"`
	DepositTotal       decimal.Decimal `json:"depositTotal"`
	ChangeAmount       decimal.Decimal `json:"changeAmount"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// TerminalInfo is the read-only view of the owning terminal the engine needs
// when opening a cart.
type TerminalInfo struct {
	TerminalID      string
	StoreCode       string
	Status          string
	BusinessDate    string
	StaffID         string
	BusinessCounter int64
}

// allowedTransitions encodes §state machine reachability. Cancel is handled
// separately: it is legal from every non-terminal state.
var allowedTransitions = map[string][]string{
	StatusInitial:      {StatusIdle},
	StatusIdle:         {StatusEnteringItem},
	StatusEnteringItem: {StatusPreTax, StatusPaused},
	StatusPreTax:       {StatusEnteringItem, StatusPayingItem},
	StatusPayingItem:   {StatusCompleted, StatusPreTax},
	StatusPaused:       {StatusEnteringItem},
}

// canTransition reports whether from → to is a legal move.
func canTransition(from, to string) bool {
	if to == StatusCancelled {
		return from != StatusCompleted && from != StatusCancelled
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// taxTable is the tax calculator's input: the master entries for every tax
// code the cart references.
type taxTable map[string]master.Tax
