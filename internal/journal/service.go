// Package journal is the idempotent sink that preserves the immutable
// journal trail: every tranlog, cashlog and opencloselog lands here as a
// searchable text record per tenant.
package journal

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/cart"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
	"github.com/openretail/pos-service-layer/internal/terminal"
)

// Journal types.
const (
	TypeTranlog   = "tranlog"
	TypeCashlog   = "cashlog"
	TypeOpenClose = "opencloselog"
)

// Error codes (journal shares the terminal 20xxx range in the 209xx block).
const (
	CodeQueryInvalid = 20901
)

// Entry is one journal record.
type Entry struct {
	ID            int64     `json:"id" db:"id"`
	EventID       string    `json:"eventId" db:"event_id"`
	JournalType   string    `json:"journalType" db:"journal_type"`
	TerminalID    string    `json:"terminalId" db:"terminal_id"`
	StoreCode     string    `json:"storeCode" db:"store_code"`
	BusinessDate  *string   `json:"businessDate" db:"business_date"`
	TransactionNo *int64    `json:"transactionNo" db:"transaction_no"`
	Content       string    `json:"content" db:"content"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// Service persists and queries journal entries.
type Service struct {
	mgr *document.Manager
	log *logging.Logger
}

// NewService creates a journal service.
func NewService(mgr *document.Manager, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewFromEnv("journal")
	}
	return &Service{mgr: mgr, log: log}
}

// insert writes one entry; the unique event_id makes replays harmless even
// when the idempotency record has expired.
func (s *Service) insert(ctx context.Context, tenantID string, e Entry) error {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO journals (event_id, journal_type, terminal_id, store_code, business_date, transaction_no, content)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.JournalType, e.TerminalID, e.StoreCode, e.BusinessDate, e.TransactionNo, e.Content)
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "insert journal entry", err)
	}
	return nil
}

// HandleTranlog records a completed transaction.
func (s *Service) HandleTranlog(ctx context.Context, event eventbus.Event) error {
	var tranlog cart.Tranlog
	if err := json.Unmarshal(event.Payload, &tranlog); err != nil {
		return apperr.Validation(apperr.CodeValidation, "malformed tranlog payload").WithCause(err)
	}

	content, err := json.Marshal(tranlog)
	if err != nil {
		return apperr.Internal(apperr.CodeInternal, "encode tranlog content", err)
	}
	businessDate := tranlog.BusinessDate
	transactionNo := tranlog.TransactionNo
	return s.insert(ctx, event.TenantID, Entry{
		EventID:       event.EventID,
		JournalType:   TypeTranlog,
		TerminalID:    tranlog.TerminalID,
		StoreCode:     tranlog.StoreCode,
		BusinessDate:  &businessDate,
		TransactionNo: &transactionNo,
		Content:       string(content),
	})
}

// HandleCashlog records a drawer movement using its rendered journal text.
func (s *Service) HandleCashlog(ctx context.Context, event eventbus.Event) error {
	var cashlog terminal.Cashlog
	if err := json.Unmarshal(event.Payload, &cashlog); err != nil {
		return apperr.Validation(apperr.CodeValidation, "malformed cashlog payload").WithCause(err)
	}

	entry := Entry{
		EventID:     event.EventID,
		JournalType: TypeCashlog,
		TerminalID:  cashlog.TerminalID,
		StoreCode:   cashlog.StoreCode,
		Content:     cashlog.JournalText,
	}
	if cashlog.BusinessDate != "" {
		entry.BusinessDate = &cashlog.BusinessDate
	}
	return s.insert(ctx, event.TenantID, entry)
}

// HandleOpenCloseLog records a terminal open or close.
func (s *Service) HandleOpenCloseLog(ctx context.Context, event eventbus.Event) error {
	var ocl terminal.OpenCloseLog
	if err := json.Unmarshal(event.Payload, &ocl); err != nil {
		return apperr.Validation(apperr.CodeValidation, "malformed opencloselog payload").WithCause(err)
	}

	entry := Entry{
		EventID:     event.EventID,
		JournalType: TypeOpenClose,
		TerminalID:  ocl.TerminalID,
		StoreCode:   ocl.StoreCode,
		Content:     ocl.JournalText,
	}
	if ocl.BusinessDate != "" {
		entry.BusinessDate = &ocl.BusinessDate
	}
	return s.insert(ctx, event.TenantID, entry)
}

// Query filters journal entries.
type Query struct {
	TerminalID  string
	JournalType string
	DateFrom    string
	DateTo      string
	Limit       int
	Offset      int
}

// Search returns matching entries, newest first.
func (s *Service) Search(ctx context.Context, tenantID string, q Query) ([]Entry, int, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return nil, 0, err
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}

	where := ` WHERE 1=1`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.TerminalID != "" {
		where += ` AND terminal_id = ` + arg(q.TerminalID)
	}
	if q.JournalType != "" {
		where += ` AND journal_type = ` + arg(q.JournalType)
	}
	if q.DateFrom != "" {
		where += ` AND business_date >= ` + arg(q.DateFrom) + `::date`
	}
	if q.DateTo != "" {
		where += ` AND business_date <= ` + arg(q.DateTo) + `::date`
	}

	var total int
	if err := db.GetContext(ctx, &total, `SELECT count(*) FROM journals`+where, args...); err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "count journals", err)
	}

	query := `
		SELECT id, event_id, journal_type, terminal_id, store_code,
		       to_char(business_date, 'YYYY-MM-DD') AS business_date, transaction_no, content, created_at
		FROM journals` + where + `
		ORDER BY id DESC LIMIT ` + arg(q.Limit) + ` OFFSET ` + arg(q.Offset)

	var rows []Entry
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, apperr.Dependency(apperr.CodeDependency, "query journals", err)
	}
	return rows, total, nil
}
