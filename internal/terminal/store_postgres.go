package terminal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/metrics"
	"github.com/openretail/pos-service-layer/internal/auth"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// PostgresStore implements Store on the tenant-scoped document layer.
type PostgresStore struct {
	mgr    *document.Manager
	outbox *eventbus.Outbox
}

// NewPostgresStore creates a terminal store.
func NewPostgresStore(mgr *document.Manager, outbox *eventbus.Outbox) *PostgresStore {
	return &PostgresStore{mgr: mgr, outbox: outbox}
}

const terminalColumns = `terminal_id, store_code, terminal_no, description, status, function_mode,
	open_counter, business_counter, to_char(business_date, 'YYYY-MM-DD') AS business_date,
	initial_amount, physical_amount, cash_amount, staff_id, staff_name, api_key_hash,
	etag, created_at, updated_at`

// Create inserts a new terminal in Idle.
func (s *PostgresStore) Create(ctx context.Context, tenantID string, t Terminal) (Terminal, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Terminal{}, err
	}

	now := time.Now().UTC()
	t.Status = StatusIdle
	t.FunctionMode = "MainMenu"
	t.ETag = document.NewETag()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err = db.ExecContext(ctx, `
		INSERT INTO terminals (
			terminal_id, store_code, terminal_no, description, status, function_mode,
			cash_amount, api_key_hash, etag, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10)
	`, t.TerminalID, t.StoreCode, t.TerminalNo, t.Description, t.Status, t.FunctionMode,
		t.APIKeyHash, t.ETag, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Terminal{}, apperr.Conflict(CodeAlreadyExists, "terminal already exists").WithDetails("terminalId", t.TerminalID)
		}
		return Terminal{}, apperr.Dependency(apperr.CodeDependency, "insert terminal", err)
	}
	return t, nil
}

// Get loads a terminal.
func (s *PostgresStore) Get(ctx context.Context, tenantID, terminalID string) (Terminal, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Terminal{}, err
	}
	return getTerminal(ctx, db, terminalID)
}

func getTerminal(ctx context.Context, q sqlx.QueryerContext, terminalID string) (Terminal, error) {
	var t Terminal
	err := sqlx.GetContext(ctx, q, &t, `SELECT `+terminalColumns+` FROM terminals WHERE terminal_id = $1`, terminalID)
	if errors.Is(err, sql.ErrNoRows) {
		return Terminal{}, apperr.NotFound(CodeNotFound, "terminal not found").WithDetails("terminalId", terminalID)
	}
	if err != nil {
		return Terminal{}, apperr.Dependency(apperr.CodeDependency, "load terminal", err)
	}
	return t, nil
}

// List returns terminals for a tenant, optionally filtered by store.
func (s *PostgresStore) List(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Terminal, int, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var total int
	var terminals []Terminal
	if storeCode != "" {
		if err := db.GetContext(ctx, &total, `SELECT count(*) FROM terminals WHERE store_code = $1`, storeCode); err != nil {
			return nil, 0, apperr.Dependency(apperr.CodeDependency, "count terminals", err)
		}
		err = db.SelectContext(ctx, &terminals, `
			SELECT `+terminalColumns+` FROM terminals
			WHERE store_code = $1 ORDER BY terminal_id LIMIT $2 OFFSET $3
		`, storeCode, limit, offset)
	} else {
		if err := db.GetContext(ctx, &total, `SELECT count(*) FROM terminals`); err != nil {
			return nil, 0, apperr.Dependency(apperr.CodeDependency, "count terminals", err)
		}
		err = db.SelectContext(ctx, &terminals, `
			SELECT `+terminalColumns+` FROM terminals
			ORDER BY terminal_id LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "list terminals", err)
	}
	return terminals, total, nil
}

const casUpdateSQL = `
	UPDATE terminals SET
		description = $3,
		status = $4,
		function_mode = $5,
		open_counter = $6,
		business_counter = $7,
		business_date = $8::date,
		initial_amount = $9,
		physical_amount = $10,
		cash_amount = $11,
		staff_id = $12,
		staff_name = $13,
		etag = $14,
		updated_at = $15
	WHERE terminal_id = $1 AND etag = $2
`

func casArgs(t Terminal, newETag string, now time.Time) []interface{} {
	return []interface{}{
		t.TerminalID, t.ETag,
		t.Description, t.Status, t.FunctionMode,
		t.OpenCounter, t.BusinessCounter, t.BusinessDate,
		t.InitialAmount, t.PhysicalAmount, t.CashAmount,
		t.StaffID, t.StaffName,
		newETag, now,
	}
}

// CasSave persists t when the ETag matches; Conflict otherwise.
func (s *PostgresStore) CasSave(ctx context.Context, tenantID string, t Terminal) (Terminal, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Terminal{}, err
	}

	newETag := document.NewETag()
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, casUpdateSQL, casArgs(t, newETag, now)...)
	if err != nil {
		return Terminal{}, apperr.Dependency(apperr.CodeDependency, "save terminal", err)
	}
	if err := s.checkCasResult(ctx, db, result, t.TerminalID); err != nil {
		return Terminal{}, err
	}

	t.ETag = newETag
	t.UpdatedAt = now
	return t, nil
}

// CasSaveWithEvent persists t and stages an event row atomically.
func (s *PostgresStore) CasSaveWithEvent(ctx context.Context, tenantID string, t Terminal, topic string, event eventbus.Event) (Terminal, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return Terminal{}, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Terminal{}, apperr.Dependency(apperr.CodeDependency, "begin transaction", err)
	}
	defer tx.Rollback()

	newETag := document.NewETag()
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, casUpdateSQL, casArgs(t, newETag, now)...)
	if err != nil {
		return Terminal{}, apperr.Dependency(apperr.CodeDependency, "save terminal", err)
	}
	if err := s.checkCasResult(ctx, tx, result, t.TerminalID); err != nil {
		return Terminal{}, err
	}

	if err := s.outbox.InsertTx(ctx, tx, topic, event); err != nil {
		return Terminal{}, err
	}
	if err := tx.Commit(); err != nil {
		return Terminal{}, apperr.Dependency(apperr.CodeDependency, "commit transaction", err)
	}

	t.ETag = newETag
	t.UpdatedAt = now
	return t, nil
}

func (s *PostgresStore) checkCasResult(ctx context.Context, q sqlx.QueryerContext, result sql.Result, terminalID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "save terminal", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := getTerminal(ctx, q, terminalID); err != nil {
		return err
	}
	metrics.CasConflictsTotal.WithLabelValues("terminal").Inc()
	return apperr.Conflict(CodeConflict, "terminal was modified concurrently")
}

// Delete removes a terminal when the ETag matches.
func (s *PostgresStore) Delete(ctx context.Context, tenantID, terminalID, etag string) error {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM terminals WHERE terminal_id = $1 AND etag = $2`, terminalID, etag)
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "delete terminal", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "delete terminal", err)
	}
	if affected == 0 {
		if _, err := getTerminal(ctx, db, terminalID); err != nil {
			return err
		}
		metrics.CasConflictsTotal.WithLabelValues("terminal").Inc()
		return apperr.Conflict(CodeConflict, "terminal was modified concurrently")
	}
	return nil
}

// HasActiveCart reports whether the terminal owns a cart that has not reached
// a terminal state.
func (s *PostgresStore) HasActiveCart(ctx context.Context, tenantID, terminalID string) (bool, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return false, err
	}
	var count int
	err = db.GetContext(ctx, &count, `
		SELECT count(*) FROM carts
		WHERE terminal_id = $1 AND status NOT IN ('completed', 'cancelled')
	`, terminalID)
	if err != nil {
		return false, apperr.Dependency(apperr.CodeDependency, "count active carts", err)
	}
	return count > 0, nil
}

// StoreExists reports whether the store code exists.
func (s *PostgresStore) StoreExists(ctx context.Context, tenantID, storeCode string) (bool, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return false, err
	}
	var count int
	if err := db.GetContext(ctx, &count, `SELECT count(*) FROM stores WHERE store_code = $1`, storeCode); err != nil {
		return false, apperr.Dependency(apperr.CodeDependency, "check store", err)
	}
	return count > 0, nil
}

// VerifyTerminalKey implements auth.TerminalKeyVerifier against the stored
// hash in constant time.
func (s *PostgresStore) VerifyTerminalKey(ctx context.Context, id auth.TerminalID, presentedKey string) error {
	t, err := s.Get(ctx, id.TenantID, id.String())
	if err != nil {
		// Do not reveal whether the terminal exists to an unauthenticated caller.
		return apperr.Authentication(auth.CodeInvalidAPIKey, "invalid api key")
	}
	if !auth.VerifyAPIKey(presentedKey, t.APIKeyHash) {
		return apperr.Authentication(auth.CodeInvalidAPIKey, "invalid api key")
	}
	return nil
}
