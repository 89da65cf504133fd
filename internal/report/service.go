// Package report is the idempotent sink aggregating sales and cash activity.
// It ingests tranlog, cashlog and opencloselog events into flat per-tenant
// tables and serves daily sales and cash reports from them.
package report

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/cart"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
	"github.com/openretail/pos-service-layer/internal/terminal"
)

// Error codes (report shares the terminal 20xxx range in the 208xx block).
const (
	CodeReportNotFound = 20801
)

// Service ingests events and serves reports.
type Service struct {
	mgr *document.Manager
	log *logging.Logger
}

// NewService creates a report service.
func NewService(mgr *document.Manager, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewFromEnv("report")
	}
	return &Service{mgr: mgr, log: log}
}

// HandleTranlog flattens a completed transaction into the report table.
func (s *Service) HandleTranlog(ctx context.Context, event eventbus.Event) error {
	var tranlog cart.Tranlog
	if err := json.Unmarshal(event.Payload, &tranlog); err != nil {
		return apperr.Validation(apperr.CodeValidation, "malformed tranlog payload").WithCause(err)
	}

	db, err := s.mgr.Handle(event.TenantID)
	if err != nil {
		return err
	}

	payments, err := json.Marshal(tranlog.Payments)
	if err != nil {
		return apperr.Internal(apperr.CodeInternal, "encode payments", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO report_transactions (event_id, terminal_id, store_code, business_date,
			transaction_no, line_total, tax_amount, total, payments)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, tranlog.TerminalID, tranlog.StoreCode, tranlog.BusinessDate,
		tranlog.TransactionNo, tranlog.LineTotal, tranlog.TaxAmount, tranlog.Total, string(payments))
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "insert report transaction", err)
	}
	return nil
}

// HandleCashlog records a drawer movement.
func (s *Service) HandleCashlog(ctx context.Context, event eventbus.Event) error {
	var cashlog terminal.Cashlog
	if err := json.Unmarshal(event.Payload, &cashlog); err != nil {
		return apperr.Validation(apperr.CodeValidation, "malformed cashlog payload").WithCause(err)
	}

	db, err := s.mgr.Handle(event.TenantID)
	if err != nil {
		return err
	}

	var businessDate interface{}
	if cashlog.BusinessDate != "" {
		businessDate = cashlog.BusinessDate
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO report_cash_movements (event_id, terminal_id, store_code, business_date, direction, amount, reason)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, cashlog.TerminalID, cashlog.StoreCode, businessDate,
		cashlog.Direction, cashlog.Amount, cashlog.Reason)
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "insert cash movement", err)
	}
	return nil
}

// HandleOpenCloseLog records a terminal open or close.
func (s *Service) HandleOpenCloseLog(ctx context.Context, event eventbus.Event) error {
	var ocl terminal.OpenCloseLog
	if err := json.Unmarshal(event.Payload, &ocl); err != nil {
		return apperr.Validation(apperr.CodeValidation, "malformed opencloselog payload").WithCause(err)
	}

	db, err := s.mgr.Handle(event.TenantID)
	if err != nil {
		return err
	}

	var businessDate interface{}
	if ocl.BusinessDate != "" {
		businessDate = ocl.BusinessDate
	}
	var initial, physical interface{}
	if ocl.InitialAmount.Valid {
		initial = ocl.InitialAmount.Decimal
	}
	if ocl.PhysicalAmount.Valid {
		physical = ocl.PhysicalAmount.Decimal
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO report_open_close (event_id, terminal_id, store_code, business_date, kind, initial_amount, physical_amount)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, ocl.TerminalID, ocl.StoreCode, businessDate, ocl.Kind, initial, physical)
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "insert open/close record", err)
	}
	return nil
}

// SalesReport is the per-store daily rollup.
type SalesReport struct {
	StoreCode        string            `json:"storeCode"`
	BusinessDate     string            `json:"businessDate"`
	TransactionCount int               `json:"transactionCount"`
	GrossTotal       decimal.Decimal   `json:"grossTotal"`
	TaxTotal         decimal.Decimal   `json:"taxTotal"`
	NetTotal         decimal.Decimal   `json:"netTotal"`
	PaymentTotals    map[string]string `json:"paymentTotals"`
}

// Sales aggregates the store's completed transactions for one business date.
func (s *Service) Sales(ctx context.Context, tenantID, storeCode, businessDate string) (SalesReport, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return SalesReport{}, err
	}

	var row struct {
		Count int             `db:"count"`
		Gross decimal.Decimal `db:"gross"`
		Tax   decimal.Decimal `db:"tax"`
		Net   decimal.Decimal `db:"net"`
	}
	err = db.GetContext(ctx, &row, `
		SELECT count(*) AS count,
		       COALESCE(sum(total), 0) AS gross,
		       COALESCE(sum(tax_amount), 0) AS tax,
		       COALESCE(sum(line_total), 0) AS net
		FROM report_transactions
		WHERE store_code = $1 AND business_date = $2::date
	`, storeCode, businessDate)
	if err != nil {
		return SalesReport{}, apperr.Dependency(apperr.CodeDependency, "aggregate sales", err)
	}

	report := SalesReport{
		StoreCode:        storeCode,
		BusinessDate:     businessDate,
		TransactionCount: row.Count,
		GrossTotal:       row.Gross,
		TaxTotal:         row.Tax,
		NetTotal:         row.Net,
		PaymentTotals:    map[string]string{},
	}

	// Payment breakdown from the stored payment arrays.
	rows, err := db.QueryContext(ctx, `
		SELECT payments FROM report_transactions
		WHERE store_code = $1 AND business_date = $2::date
	`, storeCode, businessDate)
	if err != nil {
		return SalesReport{}, apperr.Dependency(apperr.CodeDependency, "load payments", err)
	}
	defer rows.Close()

	totals := map[string]decimal.Decimal{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return SalesReport{}, apperr.Dependency(apperr.CodeDependency, "scan payments", err)
		}
		var payments []cart.Payment
		if err := json.Unmarshal(raw, &payments); err != nil {
			continue
		}
		for _, p := range payments {
			totals[p.PaymentCode] = totals[p.PaymentCode].Add(p.Amount)
		}
	}
	if err := rows.Err(); err != nil {
		return SalesReport{}, apperr.Dependency(apperr.CodeDependency, "iterate payments", err)
	}
	for code, amount := range totals {
		report.PaymentTotals[code] = amount.StringFixed(2)
	}
	return report, nil
}

// CashReport summarizes drawer movements for one business date.
type CashReport struct {
	StoreCode    string          `json:"storeCode"`
	BusinessDate string          `json:"businessDate"`
	CashInCount  int             `json:"cashInCount"`
	CashInTotal  decimal.Decimal `json:"cashInTotal"`
	CashOutCount int             `json:"cashOutCount"`
	CashOutTotal decimal.Decimal `json:"cashOutTotal"`
}

// Cash aggregates the store's cash movements for one business date.
func (s *Service) Cash(ctx context.Context, tenantID, storeCode, businessDate string) (CashReport, error) {
	db, err := s.mgr.Handle(tenantID)
	if err != nil {
		return CashReport{}, err
	}

	report := CashReport{StoreCode: storeCode, BusinessDate: businessDate}
	rows, err := db.QueryContext(ctx, `
		SELECT direction, count(*), COALESCE(sum(amount), 0)
		FROM report_cash_movements
		WHERE store_code = $1 AND business_date = $2::date
		GROUP BY direction
	`, storeCode, businessDate)
	if err != nil {
		return CashReport{}, apperr.Dependency(apperr.CodeDependency, "aggregate cash", err)
	}
	defer rows.Close()

	for rows.Next() {
		var direction string
		var count int
		var total decimal.Decimal
		if err := rows.Scan(&direction, &count, &total); err != nil {
			return CashReport{}, apperr.Dependency(apperr.CodeDependency, "scan cash", err)
		}
		switch direction {
		case terminal.CashDirectionIn:
			report.CashInCount = count
			report.CashInTotal = total
		case terminal.CashDirectionOut:
			report.CashOutCount = count
			report.CashOutTotal = total
		}
	}
	if err := rows.Err(); err != nil {
		return CashReport{}, apperr.Dependency(apperr.CodeDependency, "iterate cash", err)
	}
	return report, nil
}
