package cart

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/internal/eventbus"
	"github.com/openretail/pos-service-layer/internal/master"
)

// mockStore is an in-memory Store with real CAS semantics.
type mockStore struct {
	carts     map[string]Cart
	terminals map[string]TerminalInfo
	counter   int64
	receipt   int64
	business  int64
	etagSeq   int
	events    []eventbus.Event
	tranlogs  int
}

func newMockStore() *mockStore {
	return &mockStore{
		carts:     make(map[string]Cart),
		terminals: make(map[string]TerminalInfo),
	}
}

func (m *mockStore) nextETag() string {
	m.etagSeq++
	return fmt.Sprintf("etag-%d", m.etagSeq)
}

func (m *mockStore) Create(_ context.Context, _ string, c Cart) (Cart, error) {
	c.ETag = m.nextETag()
	m.carts[c.CartID] = c
	return c, nil
}

func (m *mockStore) Get(_ context.Context, _ string, cartID string) (Cart, error) {
	c, ok := m.carts[cartID]
	if !ok {
		return Cart{}, apperr.NotFound(CodeNotFound, "cart not found")
	}
	return c, nil
}

func (m *mockStore) CasSave(_ context.Context, _ string, c Cart) (Cart, error) {
	stored, ok := m.carts[c.CartID]
	if !ok {
		return Cart{}, apperr.NotFound(CodeNotFound, "cart not found")
	}
	if stored.ETag != c.ETag {
		return Cart{}, apperr.Conflict(CodeConflict, "cart was modified concurrently")
	}
	c.ETag = m.nextETag()
	m.carts[c.CartID] = c
	return c, nil
}

func (m *mockStore) Complete(ctx context.Context, tenantID string, c Cart,
	build func(nums CompletionNumbers) (Cart, eventbus.Event, error)) (Cart, error) {

	stored, ok := m.carts[c.CartID]
	if !ok {
		return Cart{}, apperr.NotFound(CodeNotFound, "cart not found")
	}
	if stored.ETag != c.ETag {
		return Cart{}, apperr.Conflict(CodeConflict, "cart was modified concurrently")
	}

	nums := CompletionNumbers{
		TransactionNo:   m.counter + 1,
		ReceiptNo:       m.receipt + 1,
		BusinessCounter: m.business + 1,
	}
	finalized, event, err := build(nums)
	if err != nil {
		return Cart{}, err
	}

	m.counter++
	m.receipt++
	m.business++
	finalized.ETag = m.nextETag()
	m.carts[finalized.CartID] = finalized
	m.events = append(m.events, event)
	m.tranlogs++
	return finalized, nil
}

func (m *mockStore) TerminalSnapshot(_ context.Context, _ string, terminalID string) (TerminalInfo, error) {
	info, ok := m.terminals[terminalID]
	if !ok {
		return TerminalInfo{}, apperr.NotFound(CodeNotFound, "terminal not found")
	}
	return info, nil
}

// mockCatalog serves fixed master data.
type mockCatalog struct {
	items    map[string]master.Item
	prices   map[string]decimal.Decimal // storeCode:itemCode override
	taxes    map[string]master.Tax
	payments map[string]master.PaymentMethod
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		items: map[string]master.Item{
			"ITEM001": {ItemCode: "ITEM001", Description: "Widget", UnitPrice: dec("300.00"), TaxCode: "TAX_10"},
		},
		prices: map[string]decimal.Decimal{},
		taxes: map[string]master.Tax{
			"TAX_10": taxExclusive10(),
		},
		payments: map[string]master.PaymentMethod{
			"CASH": {PaymentCode: "CASH", Description: "Cash", CanDepositOver: true, CanChange: true},
			"CARD": {PaymentCode: "CARD", Description: "Card", CanDepositOver: false, CanChange: false},
		},
	}
}

func (m *mockCatalog) ResolveItem(_ context.Context, _, storeCode, itemCode string) (master.Item, error) {
	item, ok := m.items[itemCode]
	if !ok {
		return master.Item{}, apperr.NotFound(master.CodeItemNotFound, "item not found")
	}
	if override, ok := m.prices[storeCode+":"+itemCode]; ok {
		item.UnitPrice = override
	}
	return item, nil
}

func (m *mockCatalog) Tax(_ context.Context, _, taxCode string) (master.Tax, error) {
	tax, ok := m.taxes[taxCode]
	if !ok {
		return master.Tax{}, apperr.NotFound(master.CodeTaxNotFound, "tax not found")
	}
	return tax, nil
}

func (m *mockCatalog) PaymentMethod(_ context.Context, _, code string) (master.PaymentMethod, error) {
	method, ok := m.payments[code]
	if !ok {
		return master.PaymentMethod{}, apperr.NotFound(master.CodePaymentMethodNotFound, "payment method not found")
	}
	return method, nil
}

const (
	testTenant   = "A1234"
	testTerminal = "A1234-store001-001"
)

func newTestService() (*Service, *mockStore, *mockCatalog) {
	store := newMockStore()
	store.terminals[testTerminal] = TerminalInfo{
		TerminalID:   testTerminal,
		StoreCode:    "store001",
		Status:       terminalStatusOpened,
		BusinessDate: "2025-06-01",
		StaffID:      "S001",
	}
	catalog := newMockCatalog()
	svc := NewService(store, nil, catalog, nil)
	return svc, store, catalog
}

func TestHappyPathSale(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	c, err := svc.Create(ctx, testTenant, testTerminal, "")
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if c.Status != StatusIdle {
		t.Fatalf("new cart must be idle, got %s", c.Status)
	}

	c, err = svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("2"), nil)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if c.Status != StatusEnteringItem {
		t.Fatalf("expected entering_item, got %s", c.Status)
	}

	c, err = svc.Subtotal(ctx, testTenant, c.CartID, testTerminal)
	if err != nil {
		t.Fatalf("subtotal: %v", err)
	}
	if !c.TaxAmount.Equal(dec("60")) {
		t.Fatalf("expected tax 60, got %s", c.TaxAmount)
	}
	if !c.Total.Equal(dec("660.00")) {
		t.Fatalf("expected total 660, got %s", c.Total)
	}

	c, err = svc.AddPayment(ctx, testTenant, c.CartID, testTerminal, "CASH", dec("1000"))
	if err != nil {
		t.Fatalf("add payment: %v", err)
	}
	if c.Status != StatusPayingItem {
		t.Fatalf("expected paying_item, got %s", c.Status)
	}

	c, err = svc.Complete(ctx, testTenant, c.CartID, testTerminal)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", c.Status)
	}
	if c.TransactionNo != 1 || c.ReceiptNo != 1 {
		t.Fatalf("expected first transaction/receipt numbers, got %d/%d", c.TransactionNo, c.ReceiptNo)
	}
	if !c.ChangeAmount.Equal(dec("340.00")) {
		t.Fatalf("expected change 340, got %s", c.ChangeAmount)
	}
	if store.tranlogs != 1 || len(store.events) != 1 {
		t.Fatalf("exactly one tranlog must be written, got %d rows %d events", store.tranlogs, len(store.events))
	}
}

func TestTransactionNumbersAreMonotonic(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		c, err := svc.Create(ctx, testTenant, testTerminal, "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("1"), nil); err != nil {
			t.Fatalf("add item: %v", err)
		}
		if _, err := svc.Subtotal(ctx, testTenant, c.CartID, testTerminal); err != nil {
			t.Fatalf("subtotal: %v", err)
		}
		if _, err := svc.AddPayment(ctx, testTenant, c.CartID, testTerminal, "CASH", dec("330")); err != nil {
			t.Fatalf("pay: %v", err)
		}
		done, err := svc.Complete(ctx, testTenant, c.CartID, testTerminal)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if done.TransactionNo != want {
			t.Fatalf("expected transactionNo %d, got %d", want, done.TransactionNo)
		}
	}
}

func TestCreateRequiresOpenedTerminal(t *testing.T) {
	svc, store, _ := newTestService()
	store.terminals[testTerminal] = TerminalInfo{TerminalID: testTerminal, StoreCode: "store001", Status: "idle"}

	if _, err := svc.Create(context.Background(), testTenant, testTerminal, ""); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestOwnershipViolation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c, err := svc.Create(ctx, testTenant, testTerminal, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.AddItem(ctx, testTenant, c.CartID, "A1234-store001-002", "ITEM001", dec("1"), nil)
	if !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected ownership violation, got %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c, err := svc.Create(ctx, testTenant, testTerminal, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Payment before subtotal.
	if _, err := svc.AddPayment(ctx, testTenant, c.CartID, testTerminal, "CASH", dec("100")); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid state for early payment, got %v", err)
	}
	// Completion before payment.
	if _, err := svc.Complete(ctx, testTenant, c.CartID, testTerminal); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid state for early completion, got %v", err)
	}
}

func TestOverpaymentRules(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.Create(ctx, testTenant, testTerminal, "")
	_, _ = svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("1"), nil)
	_, _ = svc.Subtotal(ctx, testTenant, c.CartID, testTerminal)

	// CARD does not allow overpayment; total is 330.
	if _, err := svc.AddPayment(ctx, testTenant, c.CartID, testTerminal, "CARD", dec("400")); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected overpayment rejection, got %v", err)
	}
	// Exact card payment is fine.
	if _, err := svc.AddPayment(ctx, testTenant, c.CartID, testTerminal, "CARD", dec("330.00")); err != nil {
		t.Fatalf("exact payment: %v", err)
	}
}

func TestCompleteRequiresFullPayment(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.Create(ctx, testTenant, testTerminal, "")
	_, _ = svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("2"), nil)
	_, _ = svc.Subtotal(ctx, testTenant, c.CartID, testTerminal)
	_, _ = svc.AddPayment(ctx, testTenant, c.CartID, testTerminal, "CASH", dec("100"))

	if _, err := svc.Complete(ctx, testTenant, c.CartID, testTerminal); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected balance remaining error, got %v", err)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.Create(ctx, testTenant, testTerminal, "")
	c, err := svc.Cancel(ctx, testTenant, c.CartID, testTerminal)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", c.Status)
	}

	if _, err := svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("1"), nil); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid state on cancelled cart, got %v", err)
	}
	if _, err := svc.Cancel(ctx, testTenant, c.CartID, testTerminal); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("double cancel must fail, got %v", err)
	}
	if store.tranlogs != 0 {
		t.Fatalf("cancelled cart must not produce a tranlog")
	}
}

func TestCancelledLineExcludedFromTotals(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.Create(ctx, testTenant, testTerminal, "")
	_, _ = svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("2"), nil)
	c, err := svc.CancelLineItem(ctx, testTenant, c.CartID, testTerminal, 1)
	if err != nil {
		t.Fatalf("cancel line: %v", err)
	}
	if !c.LineTotal.IsZero() || !c.Total.IsZero() {
		t.Fatalf("cancelled line must be excluded: lineTotal=%s total=%s", c.LineTotal, c.Total)
	}
	if len(c.LineItems) != 1 || !c.LineItems[0].Cancelled {
		t.Fatalf("line must stay in the document with the cancelled flag")
	}
}

func TestStorePriceOverride(t *testing.T) {
	svc, _, catalog := newTestService()
	catalog.prices["store001:ITEM001"] = dec("250.00")
	ctx := context.Background()

	c, _ := svc.Create(ctx, testTenant, testTerminal, "")
	c, err := svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("1"), nil)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if !c.LineItems[0].UnitPrice.Equal(dec("250.00")) {
		t.Fatalf("store price override not applied: %s", c.LineItems[0].UnitPrice)
	}
}

func TestPauseResume(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.Create(ctx, testTenant, testTerminal, "")
	_, _ = svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("1"), nil)

	c, err := svc.Pause(ctx, testTenant, c.CartID, testTerminal)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if c.Status != StatusPaused {
		t.Fatalf("expected paused, got %s", c.Status)
	}
	c, err = svc.Resume(ctx, testTenant, c.CartID, testTerminal)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if c.Status != StatusEnteringItem {
		t.Fatalf("expected entering_item after resume, got %s", c.Status)
	}
}

func TestStateMachineClosure(t *testing.T) {
	known := map[string]bool{
		StatusInitial: true, StatusIdle: true, StatusEnteringItem: true,
		StatusPreTax: true, StatusPayingItem: true, StatusCompleted: true,
		StatusCancelled: true, StatusPaused: true,
	}

	svc, store, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.Create(ctx, testTenant, testTerminal, "")
	ops := []func(){
		func() { _, _ = svc.AddItem(ctx, testTenant, c.CartID, testTerminal, "ITEM001", dec("1"), nil) },
		func() { _, _ = svc.Subtotal(ctx, testTenant, c.CartID, testTerminal) },
		func() { _, _ = svc.Back(ctx, testTenant, c.CartID, testTerminal) },
		func() { _, _ = svc.Pause(ctx, testTenant, c.CartID, testTerminal) },
		func() { _, _ = svc.Resume(ctx, testTenant, c.CartID, testTerminal) },
		func() { _, _ = svc.Subtotal(ctx, testTenant, c.CartID, testTerminal) },
		func() { _, _ = svc.AddPayment(ctx, testTenant, c.CartID, testTerminal, "CASH", dec("500")) },
		func() { _, _ = svc.Complete(ctx, testTenant, c.CartID, testTerminal) },
		func() { _, _ = svc.Cancel(ctx, testTenant, c.CartID, testTerminal) },
	}

	for i, op := range ops {
		op()
		current := store.carts[c.CartID]
		if !known[current.Status] {
			t.Fatalf("op %d left cart in unknown state %q", i, current.Status)
		}
	}
}
