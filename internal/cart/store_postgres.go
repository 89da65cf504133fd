package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/metrics"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// PostgresStore implements Store on the tenant-scoped document layer. The
// cart document is stored as one JSONB body with a few indexed columns.
type PostgresStore struct {
	mgr    *document.Manager
	outbox *eventbus.Outbox
}

// NewPostgresStore creates a cart store.
func NewPostgresStore(mgr *document.Manager, outbox *eventbus.Outbox) *PostgresStore {
	return &PostgresStore{mgr: mgr, outbox: outbox}
}

type cartRow struct {
	CartID     string    `db:"cart_id"`
	TerminalID string    `db:"terminal_id"`
	StoreCode  string    `db:"store_code"`
	Status     string    `db:"status"`
	Body       []byte    `db:"body"`
	ETag       string    `db:"etag"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r cartRow) decode() (Cart, error) {
	var c Cart
	if err := json.Unmarshal(r.Body, &c); err != nil {
		return Cart{}, apperr.Internal(apperr.CodeInternal, "decode cart document", err)
	}
	c.ETag = r.ETag
	c.CreatedAt = r.CreatedAt
	c.UpdatedAt = r.UpdatedAt
	return c, nil
}

// Create inserts a new cart document.
func (s *PostgresStore) Create(ctx context.Context, tenantID string, c Cart) (Cart, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Cart{}, err
	}

	now := time.Now().UTC()
	c.ETag = document.NewETag()
	c.CreatedAt = now
	c.UpdatedAt = now

	body, err := json.Marshal(c)
	if err != nil {
		return Cart{}, apperr.Internal(apperr.CodeInternal, "encode cart document", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO carts (cart_id, terminal_id, store_code, status, body, etag, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.CartID, c.TerminalID, c.StoreCode, c.Status, string(body), c.ETag, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "insert cart", err)
	}
	return c, nil
}

// Get loads a cart document.
func (s *PostgresStore) Get(ctx context.Context, tenantID, cartID string) (Cart, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Cart{}, err
	}
	return getCart(ctx, db, cartID)
}

func getCart(ctx context.Context, q sqlx.QueryerContext, cartID string) (Cart, error) {
	var row cartRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT cart_id, terminal_id, store_code, status, body, etag, created_at, updated_at
		FROM carts WHERE cart_id = $1
	`, cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return Cart{}, apperr.NotFound(CodeNotFound, "cart not found").WithDetails("cartId", cartID)
	}
	if err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "load cart", err)
	}
	return row.decode()
}

// CasSave persists c when the ETag matches.
func (s *PostgresStore) CasSave(ctx context.Context, tenantID string, c Cart) (Cart, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Cart{}, err
	}

	newETag := document.NewETag()
	now := time.Now().UTC()
	prevETag := c.ETag
	c.ETag = newETag
	c.UpdatedAt = now

	body, err := json.Marshal(c)
	if err != nil {
		return Cart{}, apperr.Internal(apperr.CodeInternal, "encode cart document", err)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE carts SET status = $3, body = $4, etag = $5, updated_at = $6
		WHERE cart_id = $1 AND etag = $2
	`, c.CartID, prevETag, c.Status, string(body), newETag, now)
	if err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "save cart", err)
	}
	if err := checkCartCas(ctx, db, result, c.CartID); err != nil {
		return Cart{}, err
	}
	return c, nil
}

func checkCartCas(ctx context.Context, q sqlx.QueryerContext, result sql.Result, cartID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "save cart", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := getCart(ctx, q, cartID); err != nil {
		return err
	}
	metrics.CasConflictsTotal.WithLabelValues("cart").Inc()
	return apperr.Conflict(CodeConflict, "cart was modified concurrently")
}

// Complete runs the completion transaction: gapless number allocation from
// the terminal counter row (locked for the duration), the cart CAS update,
// the immutable tranlog row, the terminal's business counter bump, and the
// outbox row for the tranlog event.
func (s *PostgresStore) Complete(ctx context.Context, tenantID string, c Cart,
	build func(nums CompletionNumbers) (Cart, eventbus.Event, error)) (Cart, error) {

	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Cart{}, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "begin completion", err)
	}
	defer tx.Rollback()

	// Counter row is created on first completion and locked afterwards, so
	// transaction numbers are gapless per terminal: a failed completion rolls
	// the increment back with everything else.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO terminal_counters (terminal_id) VALUES ($1)
		ON CONFLICT (terminal_id) DO NOTHING
	`, c.TerminalID); err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "ensure counters", err)
	}

	var nums CompletionNumbers
	err = tx.QueryRowContext(ctx, `
		UPDATE terminal_counters
		SET transaction_no = transaction_no + 1, receipt_no = receipt_no + 1
		WHERE terminal_id = $1
		RETURNING transaction_no, receipt_no
	`, c.TerminalID).Scan(&nums.TransactionNo, &nums.ReceiptNo)
	if err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "allocate transaction number", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE terminals SET business_counter = business_counter + 1, updated_at = now()
		WHERE terminal_id = $1
		RETURNING business_counter
	`, c.TerminalID).Scan(&nums.BusinessCounter)
	if err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "bump business counter", err)
	}

	finalized, event, err := build(nums)
	if err != nil {
		return Cart{}, err
	}

	newETag := document.NewETag()
	now := time.Now().UTC()
	prevETag := finalized.ETag
	finalized.ETag = newETag
	finalized.UpdatedAt = now

	body, err := json.Marshal(finalized)
	if err != nil {
		return Cart{}, apperr.Internal(apperr.CodeInternal, "encode cart document", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE carts SET status = $3, body = $4, etag = $5, updated_at = $6
		WHERE cart_id = $1 AND etag = $2
	`, finalized.CartID, prevETag, finalized.Status, string(body), newETag, now)
	if err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "save completed cart", err)
	}
	if err := checkCartCas(ctx, tx, result, finalized.CartID); err != nil {
		return Cart{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tranlogs (terminal_id, transaction_no, event_id, store_code, business_date, business_counter, body)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7)
	`, finalized.TerminalID, nums.TransactionNo, event.EventID, finalized.StoreCode, finalized.BusinessDate, nums.BusinessCounter, string(event.Payload)); err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "insert tranlog", err)
	}

	if err := s.outbox.InsertTx(ctx, tx, eventbus.TopicTranlog, event); err != nil {
		return Cart{}, err
	}

	if err := tx.Commit(); err != nil {
		return Cart{}, apperr.Dependency(apperr.CodeDependency, "commit completion", err)
	}
	return finalized, nil
}

// TerminalSnapshot reads the owning terminal's state from the shared tenant
// database.
func (s *PostgresStore) TerminalSnapshot(ctx context.Context, tenantID, terminalID string) (TerminalInfo, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return TerminalInfo{}, err
	}

	var row struct {
		TerminalID      string         `db:"terminal_id"`
		StoreCode       string         `db:"store_code"`
		Status          string         `db:"status"`
		BusinessDate    sql.NullString `db:"business_date"`
		StaffID         sql.NullString `db:"staff_id"`
		BusinessCounter int64          `db:"business_counter"`
	}
	err = db.GetContext(ctx, &row, `
		SELECT terminal_id, store_code, status,
		       to_char(business_date, 'YYYY-MM-DD') AS business_date,
		       staff_id, business_counter
		FROM terminals WHERE terminal_id = $1
	`, terminalID)
	if errors.Is(err, sql.ErrNoRows) {
		return TerminalInfo{}, apperr.NotFound(CodeNotFound, "terminal not found").WithDetails("terminalId", terminalID)
	}
	if err != nil {
		return TerminalInfo{}, apperr.Dependency(apperr.CodeDependency, "load terminal", err)
	}

	return TerminalInfo{
		TerminalID:      row.TerminalID,
		StoreCode:       row.StoreCode,
		Status:          row.Status,
		BusinessDate:    row.BusinessDate.String,
		StaffID:         row.StaffID.String,
		BusinessCounter: row.BusinessCounter,
	}, nil
}
