package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/internal/cart"
	"github.com/openretail/pos-service-layer/internal/eventbus"
	"github.com/openretail/pos-service-layer/internal/idempotent"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type stockKey struct{ store, item string }

// mockStore is an in-memory Store with real CAS semantics.
type mockStore struct {
	rows      map[stockKey]Stock
	audits    []Update
	snapshots map[string]Snapshot
	schedule  *Schedule
	stores    []string
	etagSeq   int
}

func newMockStore() *mockStore {
	return &mockStore{
		rows:      make(map[stockKey]Stock),
		snapshots: make(map[string]Snapshot),
		stores:    []string{"store001"},
	}
}

func (m *mockStore) nextETag() string {
	m.etagSeq++
	return fmt.Sprintf("etag-%d", m.etagSeq)
}

func (m *mockStore) Get(_ context.Context, _ string, storeCode, itemCode string) (Stock, error) {
	row, ok := m.rows[stockKey{storeCode, itemCode}]
	if !ok {
		return Stock{}, apperr.NotFound(CodeNotFound, "stock not found")
	}
	return row, nil
}

func (m *mockStore) CasUpsertWithAudit(ctx context.Context, tenantID string, row Stock, audit Update) (Stock, error) {
	saved, err := m.casUpsert(row)
	if err != nil {
		return Stock{}, err
	}
	m.audits = append(m.audits, audit)
	return saved, nil
}

func (m *mockStore) CasSave(_ context.Context, _ string, row Stock) (Stock, error) {
	return m.casUpsert(row)
}

func (m *mockStore) casUpsert(row Stock) (Stock, error) {
	key := stockKey{row.StoreCode, row.ItemCode}
	stored, exists := m.rows[key]
	if row.ETag == "" {
		if exists {
			return Stock{}, apperr.Conflict(CodeConflict, "stock row was created concurrently")
		}
	} else if stored.ETag != row.ETag {
		return Stock{}, apperr.Conflict(CodeConflict, "stock row was modified concurrently")
	}
	row.ETag = m.nextETag()
	m.rows[key] = row
	return row, nil
}

func (m *mockStore) List(_ context.Context, _ string, storeCode string, limit, offset int) ([]Stock, int, error) {
	all := []Stock{}
	for key, row := range m.rows {
		if key.store == storeCode {
			all = append(all, row)
		}
	}
	if offset >= len(all) {
		return []Stock{}, len(all), nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *mockStore) History(_ context.Context, _ string, storeCode, itemCode string, _, _ int) ([]Update, int, error) {
	out := []Update{}
	for _, u := range m.audits {
		if u.StoreCode == storeCode && u.ItemCode == itemCode {
			out = append(out, u)
		}
	}
	return out, len(out), nil
}

func (m *mockStore) LowStock(_ context.Context, _ string, storeCode string) ([]Stock, error) {
	out := []Stock{}
	for key, row := range m.rows {
		if key.store == storeCode && row.MinimumQuantity.IsPositive() && row.CurrentQuantity.LessThan(row.MinimumQuantity) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *mockStore) ReorderAlerts(_ context.Context, _ string, storeCode string) ([]Stock, error) {
	out := []Stock{}
	for key, row := range m.rows {
		if key.store == storeCode && row.ReorderPoint.IsPositive() && row.CurrentQuantity.LessThanOrEqual(row.ReorderPoint) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *mockStore) InsertSnapshot(_ context.Context, _ string, snap Snapshot) (Snapshot, error) {
	snap.CreatedAt = time.Now().UTC()
	m.snapshots[snap.SnapshotID] = snap
	return snap, nil
}

func (m *mockStore) GetSnapshot(_ context.Context, _ string, snapshotID string) (Snapshot, error) {
	snap, ok := m.snapshots[snapshotID]
	if !ok {
		return Snapshot{}, apperr.NotFound(CodeSnapshotNotFound, "snapshot not found")
	}
	return snap, nil
}

func (m *mockStore) ListSnapshots(_ context.Context, _ string, _ string, _, _ int) ([]Snapshot, int, error) {
	out := []Snapshot{}
	for _, snap := range m.snapshots {
		out = append(out, snap)
	}
	return out, len(out), nil
}

func (m *mockStore) DeleteSnapshotsBefore(_ context.Context, _ string, cutoff time.Time) (int64, error) {
	var deleted int64
	for id, snap := range m.snapshots {
		if snap.CreatedAt.Before(cutoff) {
			delete(m.snapshots, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockStore) GetSchedule(_ context.Context, _ string) (Schedule, error) {
	if m.schedule == nil {
		return Schedule{}, apperr.NotFound(CodeScheduleNotFound, "snapshot schedule not configured")
	}
	return *m.schedule, nil
}

func (m *mockStore) UpsertSchedule(_ context.Context, _ string, sched Schedule) (Schedule, error) {
	m.schedule = &sched
	return sched, nil
}

func (m *mockStore) DeleteSchedule(_ context.Context, _ string) error {
	m.schedule = nil
	return nil
}

func (m *mockStore) MarkScheduleExecuted(_ context.Context, _ string, at time.Time) error {
	if m.schedule != nil {
		m.schedule.LastExecutedAt = &at
	}
	return nil
}

func (m *mockStore) ListStoreCodes(_ context.Context, _ string) ([]string, error) {
	return m.stores, nil
}

// fakeState is an in-memory cooldown / idempotency store with TTLs.
type fakeState struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	now     time.Time
}

type fakeEntry struct {
	value   []byte
	expires time.Time
}

func newFakeState() *fakeState {
	return &fakeState{entries: make(map[string]fakeEntry), now: time.Now()}
}

func (f *fakeState) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeState) live(e fakeEntry) bool {
	return e.expires.IsZero() || f.now.Before(e.expires)
}

func (f *fakeState) GetJSON(_ context.Context, key string, dst interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || !f.live(e) {
		return eventbus.ErrNotFound
	}
	return json.Unmarshal(e.value, dst)
}

func (f *fakeState) SetJSON(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	e := fakeEntry{value: raw}
	if ttl > 0 {
		e.expires = f.now.Add(ttl)
	}
	f.entries[key] = e
	return nil
}

func (f *fakeState) SetJSONNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	if e, ok := f.entries[key]; ok && f.live(e) {
		f.mu.Unlock()
		return false, nil
	}
	f.mu.Unlock()
	return true, f.SetJSON(ctx, key, value, ttl)
}

// recorder collects broadcast alerts.
type recorder struct {
	alerts []Alert
}

func (r *recorder) BroadcastStockAlert(_ context.Context, alert Alert) {
	r.alerts = append(r.alerts, alert)
}

const testTenant = "A1234"

func TestUpdateCreatesLazily(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil, nil, 0, nil)
	ctx := context.Background()

	row, audit, err := svc.Update(ctx, testTenant, "store001", "ITEM001", UpdateRequest{
		UpdateType:     UpdateTypePurchase,
		QuantityChange: dec("10"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !row.CurrentQuantity.Equal(dec("10")) {
		t.Fatalf("expected 10, got %s", row.CurrentQuantity)
	}
	if !audit.BeforeQuantity.IsZero() || !audit.AfterQuantity.Equal(dec("10")) {
		t.Fatalf("audit before/after wrong: %s/%s", audit.BeforeQuantity, audit.AfterQuantity)
	}
}

func TestUpdateInitialSetsQuantity(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil, nil, 0, nil)
	ctx := context.Background()

	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM001", UpdateRequest{UpdateType: UpdateTypePurchase, QuantityChange: dec("7")})
	row, audit, err := svc.Update(ctx, testTenant, "store001", "ITEM001", UpdateRequest{UpdateType: UpdateTypeInitial, QuantityChange: dec("100")})
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	if !row.CurrentQuantity.Equal(dec("100")) {
		t.Fatalf("INITIAL must set the quantity, got %s", row.CurrentQuantity)
	}
	if !audit.QuantityChange.Equal(dec("93")) {
		t.Fatalf("audit change must close the gap, got %s", audit.QuantityChange)
	}
}

func TestUpdateAllowsNegative(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil, nil, 0, nil)

	row, _, err := svc.Update(context.Background(), testTenant, "store001", "ITEM001", UpdateRequest{
		UpdateType:     UpdateTypeSale,
		QuantityChange: dec("-3"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !row.CurrentQuantity.Equal(dec("-3")) {
		t.Fatalf("backorder must go negative, got %s", row.CurrentQuantity)
	}
}

func TestUpdateRejectsUnknownType(t *testing.T) {
	svc := NewService(newMockStore(), nil, nil, 0, nil)
	_, _, err := svc.Update(context.Background(), testTenant, "store001", "ITEM001", UpdateRequest{UpdateType: "GIFT"})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAuditClosure(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil, nil, 0, nil)
	ctx := context.Background()

	changes := []struct {
		updateType string
		change     string
	}{
		{UpdateTypePurchase, "50"},
		{UpdateTypeSale, "-3"},
		{UpdateTypeSale, "-2.5"},
		{UpdateTypeReturn, "1"},
		{UpdateTypeDamage, "-4"},
		{UpdateTypeTransferIn, "10"},
		{UpdateTypeTransferOut, "-6"},
	}
	for _, c := range changes {
		if _, _, err := svc.Update(ctx, testTenant, "store001", "ITEM001", UpdateRequest{
			UpdateType: c.updateType, QuantityChange: dec(c.change),
		}); err != nil {
			t.Fatalf("%s: %v", c.updateType, err)
		}
	}

	sum := decimal.Zero
	for _, audit := range store.audits {
		sum = sum.Add(audit.QuantityChange)
	}
	row, _ := store.Get(ctx, testTenant, "store001", "ITEM001")
	if !row.CurrentQuantity.Equal(sum) {
		t.Fatalf("audit closure broken: current %s, sum of changes %s", row.CurrentQuantity, sum)
	}
}

func TestThresholdAlertWithCooldown(t *testing.T) {
	store := newMockStore()
	state := newFakeState()
	sink := &recorder{}
	svc := NewService(store, state, sink, 60, nil)
	ctx := context.Background()

	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM002", UpdateRequest{UpdateType: UpdateTypeInitial, QuantityChange: dec("21")})
	if _, err := svc.SetMinimum(ctx, testTenant, "store001", "ITEM002", dec("20")); err != nil {
		t.Fatalf("set minimum: %v", err)
	}

	// 21 → 19: one alert.
	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM002", UpdateRequest{UpdateType: UpdateTypeSale, QuantityChange: dec("-2")})
	if len(sink.alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(sink.alerts))
	}
	if sink.alerts[0].AlertType != AlertMinimumStock || !sink.alerts[0].CurrentQuantity.Equal(dec("19")) {
		t.Fatalf("unexpected alert: %+v", sink.alerts[0])
	}

	// Within cooldown: no second alert.
	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM002", UpdateRequest{UpdateType: UpdateTypeSale, QuantityChange: dec("-1")})
	if len(sink.alerts) != 1 {
		t.Fatalf("cooldown must suppress the second alert, got %d", len(sink.alerts))
	}

	// Past cooldown: alert again.
	state.advance(61 * time.Second)
	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM002", UpdateRequest{UpdateType: UpdateTypeSale, QuantityChange: dec("-1")})
	if len(sink.alerts) != 2 {
		t.Fatalf("expected alert after cooldown, got %d", len(sink.alerts))
	}
	if !sink.alerts[1].CurrentQuantity.Equal(dec("17")) {
		t.Fatalf("unexpected quantity on second alert: %s", sink.alerts[1].CurrentQuantity)
	}
}

func TestCooldownDisabled(t *testing.T) {
	store := newMockStore()
	sink := &recorder{}
	svc := NewService(store, newFakeState(), sink, 0, nil)
	ctx := context.Background()

	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM002", UpdateRequest{UpdateType: UpdateTypeInitial, QuantityChange: dec("10")})
	_, _ = svc.SetMinimum(ctx, testTenant, "store001", "ITEM002", dec("20"))

	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM002", UpdateRequest{UpdateType: UpdateTypeSale, QuantityChange: dec("-1")})
	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM002", UpdateRequest{UpdateType: UpdateTypeSale, QuantityChange: dec("-1")})
	if len(sink.alerts) != 2 {
		t.Fatalf("cooldown 0 must not suppress alerts, got %d", len(sink.alerts))
	}
}

func tranlogEvent(t *testing.T, eventID string) eventbus.Event {
	t.Helper()
	tranlog := cart.Tranlog{
		TenantID:      testTenant,
		StoreCode:     "store001",
		TerminalID:    "A1234-store001-001",
		TransactionNo: 42,
		BusinessDate:  "2025-06-01",
		LineItems: []cart.LineItem{
			{LineNo: 1, ItemCode: "ITEM001", Quantity: dec("2")},
			{LineNo: 2, ItemCode: "ITEM003", Quantity: dec("1"), Cancelled: true},
		},
	}
	payload, err := json.Marshal(tranlog)
	if err != nil {
		t.Fatalf("encode tranlog: %v", err)
	}
	return eventbus.Event{EventID: eventID, TenantID: testTenant, OccurredAt: time.Now(), Payload: payload}
}

func TestHandleTranlogAppliesLines(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil, nil, 0, nil)
	ctx := context.Background()

	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM001", UpdateRequest{UpdateType: UpdateTypeInitial, QuantityChange: dec("10")})

	if err := svc.HandleTranlog(ctx, tranlogEvent(t, "evt-1")); err != nil {
		t.Fatalf("handle tranlog: %v", err)
	}

	row, _ := store.Get(ctx, testTenant, "store001", "ITEM001")
	if !row.CurrentQuantity.Equal(dec("8")) {
		t.Fatalf("sale of 2 must reduce 10 → 8, got %s", row.CurrentQuantity)
	}
	// The cancelled line must not touch stock.
	if _, err := store.Get(ctx, testTenant, "store001", "ITEM003"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatal("cancelled line must not create a stock row")
	}
}

func TestDuplicateTranlogDelivery(t *testing.T) {
	store := newMockStore()
	state := newFakeState()
	svc := NewService(store, nil, nil, 0, nil)
	adapter := idempotent.New(state, nil)
	handler := adapter.Wrap("stock", svc.HandleTranlog)
	ctx := context.Background()

	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM001", UpdateRequest{UpdateType: UpdateTypeInitial, QuantityChange: dec("10")})
	auditsBefore := len(store.audits)

	event := tranlogEvent(t, "evt-dup")
	for i := 0; i < 5; i++ {
		if err := handler(ctx, event); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	row, _ := store.Get(ctx, testTenant, "store001", "ITEM001")
	if !row.CurrentQuantity.Equal(dec("8")) {
		t.Fatalf("replays must not re-apply: expected 8, got %s", row.CurrentQuantity)
	}
	if got := len(store.audits) - auditsBefore; got != 1 {
		t.Fatalf("exactly one audit row must be appended, got %d", got)
	}
}

func TestCreateSnapshot(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil, nil, 0, nil)
	ctx := context.Background()

	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM001", UpdateRequest{UpdateType: UpdateTypeInitial, QuantityChange: dec("10")})
	_, _, _ = svc.Update(ctx, testTenant, "store001", "ITEM002", UpdateRequest{UpdateType: UpdateTypeInitial, QuantityChange: dec("5.5")})

	snap, err := svc.CreateSnapshot(ctx, testTenant, "store001", "tester")
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if snap.TotalItems != 2 {
		t.Fatalf("expected 2 items, got %d", snap.TotalItems)
	}
	if !snap.TotalQuantity.Equal(dec("15.5")) {
		t.Fatalf("expected total 15.5, got %s", snap.TotalQuantity)
	}
	if snap.CreatedBy != "tester" {
		t.Fatalf("createdBy not carried: %s", snap.CreatedBy)
	}
}

func TestScheduleValidation(t *testing.T) {
	svc := NewService(newMockStore(), nil, nil, 0, nil)
	ctx := context.Background()

	if _, err := svc.SetSchedule(ctx, testTenant, Schedule{Interval: "hourly", Hour: 2, Minute: 0}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("unknown interval must fail, got %v", err)
	}
	if _, err := svc.SetSchedule(ctx, testTenant, Schedule{Interval: IntervalWeekly, Hour: 2, Minute: 0}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("weekly without dayOfWeek must fail, got %v", err)
	}

	sched, err := svc.SetSchedule(ctx, testTenant, Schedule{Interval: IntervalDaily, Hour: 2, Minute: 0, Enabled: true})
	if err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	if sched.RetentionDays != 30 || len(sched.TargetStores) != 1 || sched.TargetStores[0] != "all" {
		t.Fatalf("defaults not applied: %+v", sched)
	}
}
