package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

type publishedEvent struct {
	topic string
	event eventbus.Event
}

// mockStore is an in-memory Store with real CAS semantics.
type mockStore struct {
	terminals   map[string]Terminal
	stores      map[string]bool
	activeCarts map[string]bool
	events      []publishedEvent
	etagSeq     int
}

func newMockStore() *mockStore {
	return &mockStore{
		terminals:   make(map[string]Terminal),
		stores:      map[string]bool{"store001": true},
		activeCarts: make(map[string]bool),
	}
}

func (m *mockStore) nextETag() string {
	m.etagSeq++
	return fmt.Sprintf("etag-%d", m.etagSeq)
}

func (m *mockStore) Create(_ context.Context, _ string, t Terminal) (Terminal, error) {
	if _, ok := m.terminals[t.TerminalID]; ok {
		return Terminal{}, apperr.Conflict(CodeAlreadyExists, "terminal already exists")
	}
	t.Status = StatusIdle
	t.FunctionMode = "MainMenu"
	t.ETag = m.nextETag()
	m.terminals[t.TerminalID] = t
	return t, nil
}

func (m *mockStore) Get(_ context.Context, _ string, terminalID string) (Terminal, error) {
	t, ok := m.terminals[terminalID]
	if !ok {
		return Terminal{}, apperr.NotFound(CodeNotFound, "terminal not found")
	}
	return t, nil
}

func (m *mockStore) List(_ context.Context, _ string, _ string, _, _ int) ([]Terminal, int, error) {
	out := make([]Terminal, 0, len(m.terminals))
	for _, t := range m.terminals {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockStore) CasSave(_ context.Context, _ string, t Terminal) (Terminal, error) {
	stored, ok := m.terminals[t.TerminalID]
	if !ok {
		return Terminal{}, apperr.NotFound(CodeNotFound, "terminal not found")
	}
	if stored.ETag != t.ETag {
		return Terminal{}, apperr.Conflict(CodeConflict, "terminal was modified concurrently")
	}
	t.ETag = m.nextETag()
	m.terminals[t.TerminalID] = t
	return t, nil
}

func (m *mockStore) CasSaveWithEvent(ctx context.Context, tenantID string, t Terminal, topic string, event eventbus.Event) (Terminal, error) {
	saved, err := m.CasSave(ctx, tenantID, t)
	if err != nil {
		return Terminal{}, err
	}
	m.events = append(m.events, publishedEvent{topic: topic, event: event})
	return saved, nil
}

func (m *mockStore) Delete(_ context.Context, _ string, terminalID, etag string) error {
	stored, ok := m.terminals[terminalID]
	if !ok {
		return apperr.NotFound(CodeNotFound, "terminal not found")
	}
	if stored.ETag != etag {
		return apperr.Conflict(CodeConflict, "terminal was modified concurrently")
	}
	delete(m.terminals, terminalID)
	return nil
}

func (m *mockStore) HasActiveCart(_ context.Context, _ string, terminalID string) (bool, error) {
	return m.activeCarts[terminalID], nil
}

func (m *mockStore) StoreExists(_ context.Context, _ string, storeCode string) (bool, error) {
	return m.stores[storeCode], nil
}

const testTenant = "A1234"

func setupOpened(t *testing.T) (*Service, *mockStore, string) {
	t.Helper()
	store := newMockStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, testTenant, "store001", 1, "front desk")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Terminal.TerminalID

	if _, err := svc.SignIn(ctx, testTenant, id, "S001", "Alice"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := svc.Open(ctx, testTenant, id, "2025-06-01", dec("500.00")); err != nil {
		t.Fatalf("open: %v", err)
	}
	return svc, store, id
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCreateIssuesAPIKeyOnce(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)

	result, err := svc.Create(context.Background(), testTenant, "store001", 1, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.APIKey == "" {
		t.Fatal("clear api key must be returned at creation")
	}
	if result.Terminal.TerminalID != "A1234-store001-001" {
		t.Fatalf("unexpected terminal id: %s", result.Terminal.TerminalID)
	}
	if result.Terminal.APIKeyHash == result.APIKey {
		t.Fatal("stored key must be hashed")
	}
}

func TestCreateUnknownStore(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)

	if _, err := svc.Create(context.Background(), testTenant, "nope", 1, ""); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected store not found, got %v", err)
	}
}

func TestOpenRequiresSignIn(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	created, _ := svc.Create(ctx, testTenant, "store001", 1, "")
	_, err := svc.Open(ctx, testTenant, created.Terminal.TerminalID, "2025-06-01", dec("500"))
	if !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestOpenTransitionsAndEmitsEvent(t *testing.T) {
	svc, store, id := setupOpened(t)

	current := store.terminals[id]
	if current.Status != StatusOpened {
		t.Fatalf("expected opened, got %s", current.Status)
	}
	if current.OpenCounter != 1 {
		t.Fatalf("open counter must increment, got %d", current.OpenCounter)
	}
	if current.FunctionMode != "MainMenu" {
		t.Fatalf("open must reset function mode, got %s", current.FunctionMode)
	}

	if len(store.events) != 1 || store.events[0].topic != eventbus.TopicOpenCloseLog {
		t.Fatalf("expected one opencloselog event, got %+v", store.events)
	}
	var payload OpenCloseLog
	if err := json.Unmarshal(store.events[0].event.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Kind != OpenCloseKindOpen || !payload.InitialAmount.Decimal.Equal(dec("500.00")) {
		t.Fatalf("unexpected open payload: %+v", payload)
	}

	// Double open must fail.
	if _, err := svc.Open(context.Background(), testTenant, id, "2025-06-01", dec("500")); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("double open must fail, got %v", err)
	}
}

func TestCashOperations(t *testing.T) {
	svc, store, id := setupOpened(t)
	ctx := context.Background()

	if _, err := svc.CashIn(ctx, testTenant, id, dec("0"), "", ""); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("zero amount must be rejected, got %v", err)
	}

	result, err := svc.CashIn(ctx, testTenant, id, dec("200.00"), "float top-up", "")
	if err != nil {
		t.Fatalf("cash in: %v", err)
	}
	if !result.CashAmount.Equal(dec("700.00")) {
		t.Fatalf("drawer must track cash in: %s", result.CashAmount)
	}

	result, err = svc.CashOut(ctx, testTenant, id, dec("100.00"), "bank run", "")
	if err != nil {
		t.Fatalf("cash out: %v", err)
	}
	if !result.CashAmount.Equal(dec("600.00")) {
		t.Fatalf("drawer must track cash out: %s", result.CashAmount)
	}

	// open + 2 cash events
	cashEvents := 0
	for _, e := range store.events {
		if e.topic == eventbus.TopicCashlog {
			cashEvents++
			var payload Cashlog
			if err := json.Unmarshal(e.event.Payload, &payload); err != nil {
				t.Fatalf("decode cashlog: %v", err)
			}
			if payload.ReceiptText == "" || payload.JournalText == "" {
				t.Fatal("cashlog must carry rendered receipt and journal text")
			}
		}
	}
	if cashEvents != 2 {
		t.Fatalf("expected 2 cashlog events, got %d", cashEvents)
	}
}

func TestCashRequiresOpened(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	created, _ := svc.Create(ctx, testTenant, "store001", 1, "")
	if _, err := svc.CashIn(ctx, testTenant, created.Terminal.TerminalID, dec("10"), "", ""); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("cash in on idle terminal must fail, got %v", err)
	}
}

func TestCloseReconciliation(t *testing.T) {
	svc, store, id := setupOpened(t)
	ctx := context.Background()

	if _, err := svc.CashIn(ctx, testTenant, id, dec("100.00"), "", ""); err != nil {
		t.Fatalf("cash in: %v", err)
	}

	physical := dec("590.00")
	result, err := svc.Close(ctx, testTenant, id, &physical)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if result.Status != StatusClosed {
		t.Fatalf("expected closed, got %s", result.Status)
	}

	last := store.events[len(store.events)-1]
	if last.topic != eventbus.TopicOpenCloseLog {
		t.Fatalf("close must emit an opencloselog, got %s", last.topic)
	}
	var payload OpenCloseLog
	if err := json.Unmarshal(last.event.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Kind != OpenCloseKindClose {
		t.Fatalf("expected CLOSE, got %s", payload.Kind)
	}
	// Expected drawer: 500 initial + 100 cash in = 600; physical 590 → -10.
	if !payload.ExpectedAmount.Decimal.Equal(dec("600.00")) {
		t.Fatalf("expected amount 600, got %s", payload.ExpectedAmount.Decimal)
	}
	if !payload.DifferenceAmount.Decimal.Equal(dec("-10.00")) {
		t.Fatalf("difference -10, got %s", payload.DifferenceAmount.Decimal)
	}
}

func TestDeleteGuards(t *testing.T) {
	svc, store, id := setupOpened(t)
	ctx := context.Background()

	// Opened terminal cannot be deleted.
	if err := svc.Delete(ctx, testTenant, id); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("delete while opened must fail, got %v", err)
	}

	if _, err := svc.Close(ctx, testTenant, id, nil); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Active cart still blocks deletion.
	store.activeCarts[id] = true
	if err := svc.Delete(ctx, testTenant, id); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("delete with active cart must fail, got %v", err)
	}

	// Cart cancelled → deletion succeeds.
	store.activeCarts[id] = false
	if err := svc.Delete(ctx, testTenant, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.terminals[id]; ok {
		t.Fatal("terminal must be gone")
	}
}

func TestSignOutRequiresClosed(t *testing.T) {
	svc, _, id := setupOpened(t)
	ctx := context.Background()

	if _, err := svc.SignOut(ctx, testTenant, id); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("sign out while opened must fail, got %v", err)
	}
	if _, err := svc.Close(ctx, testTenant, id, nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	result, err := svc.SignOut(ctx, testTenant, id)
	if err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if result.SignedIn() {
		t.Fatal("staff must be cleared")
	}
}

func TestFunctionModeValidation(t *testing.T) {
	svc, _, id := setupOpened(t)
	ctx := context.Background()

	if _, err := svc.UpdateFunctionMode(ctx, testTenant, id, "Warp"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("unknown mode must be rejected, got %v", err)
	}
	result, err := svc.UpdateFunctionMode(ctx, testTenant, id, "Sales")
	if err != nil {
		t.Fatalf("update mode: %v", err)
	}
	if result.FunctionMode != "Sales" {
		t.Fatalf("mode not applied: %s", result.FunctionMode)
	}
}

func TestTerminalStateClosure(t *testing.T) {
	known := map[string]bool{StatusIdle: true, StatusOpened: true, StatusClosed: true}

	store := newMockStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	created, _ := svc.Create(ctx, testTenant, "store001", 1, "")
	id := created.Terminal.TerminalID

	ops := []func(){
		func() { _, _ = svc.SignIn(ctx, testTenant, id, "S001", "Alice") },
		func() { _, _ = svc.Open(ctx, testTenant, id, "2025-06-01", dec("500")) },
		func() { _, _ = svc.CashIn(ctx, testTenant, id, dec("10"), "", "") },
		func() { _, _ = svc.Close(ctx, testTenant, id, nil) },
		func() { _, _ = svc.SignIn(ctx, testTenant, id, "S002", "Bob") },
		func() { _, _ = svc.Open(ctx, testTenant, id, "2025-06-02", dec("500")) },
	}
	for i, op := range ops {
		op()
		if !known[store.terminals[id].Status] {
			t.Fatalf("op %d left terminal in unknown state %q", i, store.terminals[id].Status)
		}
	}
	if store.terminals[id].OpenCounter != 2 {
		t.Fatalf("open counter must be 2 after reopening, got %d", store.terminals[id].OpenCounter)
	}
}
