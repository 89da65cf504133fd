package terminal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/auth"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// Service wraps the terminal lifecycle business logic.
type Service struct {
	store  Store
	log    *logging.Logger
	format Formatter
	now    func() time.Time
}

// NewService creates a terminal service.
func NewService(store Store, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewFromEnv("terminal")
	}
	return &Service{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CreateResult carries the terminal and its one-time clear API key.
type CreateResult struct {
	Terminal Terminal `json:"terminal"`
	APIKey   string   `json:"apiKey"`
}

// Create registers a terminal in Idle and issues its API key. The clear key
// is returned exactly once.
func (s *Service) Create(ctx context.Context, tenantID, storeCode string, terminalNo int, description string) (CreateResult, error) {
	if terminalNo < 1 || terminalNo > 999 {
		return CreateResult{}, apperr.Validation(apperr.CodeValidation, "terminalNo must be between 1 and 999")
	}
	exists, err := s.store.StoreExists(ctx, tenantID, storeCode)
	if err != nil {
		return CreateResult{}, err
	}
	if !exists {
		return CreateResult{}, apperr.NotFound(CodeStoreNotFound, "store not found").WithDetails("storeCode", storeCode)
	}

	apiKey, err := auth.NewAPIKey()
	if err != nil {
		return CreateResult{}, err
	}

	id := auth.TerminalID{TenantID: tenantID, StoreCode: storeCode, TerminalNo: terminalNo}
	created, err := s.store.Create(ctx, tenantID, Terminal{
		TerminalID:  id.String(),
		StoreCode:   storeCode,
		TerminalNo:  terminalNo,
		Description: description,
		APIKeyHash:  auth.HashAPIKey(apiKey),
	})
	if err != nil {
		return CreateResult{}, err
	}

	s.log.LogAudit(ctx, "create", "terminal", created.TerminalID, "ok")
	return CreateResult{Terminal: created, APIKey: apiKey}, nil
}

// Get loads a terminal.
func (s *Service) Get(ctx context.Context, tenantID, terminalID string) (Terminal, error) {
	return s.store.Get(ctx, tenantID, terminalID)
}

// List returns terminals, optionally filtered by store.
func (s *Service) List(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Terminal, int, error) {
	return s.store.List(ctx, tenantID, storeCode, limit, offset)
}

// Delete removes a terminal. Only permitted in Idle or Closed with no active
// cart.
func (s *Service) Delete(ctx context.Context, tenantID, terminalID string) error {
	return document.WithCASRetry(ctx, func(ctx context.Context) error {
		t, err := s.store.Get(ctx, tenantID, terminalID)
		if err != nil {
			return err
		}
		if t.Status == StatusOpened {
			return apperr.InvalidState(CodeInvalidState, "terminal must be closed before deletion")
		}
		active, err := s.store.HasActiveCart(ctx, tenantID, terminalID)
		if err != nil {
			return err
		}
		if active {
			return apperr.InvalidState(CodeActiveCartExists, "terminal has an active cart")
		}
		if err := s.store.Delete(ctx, tenantID, terminalID, t.ETag); err != nil {
			return err
		}
		s.log.LogAudit(ctx, "delete", "terminal", terminalID, "ok")
		return nil
	})
}

// SignIn records the staff member operating the terminal.
func (s *Service) SignIn(ctx context.Context, tenantID, terminalID, staffID, staffName string) (Terminal, error) {
	if staffID == "" {
		return Terminal{}, apperr.Validation(apperr.CodeValidation, "staffId is required")
	}
	return s.mutate(ctx, tenantID, terminalID, func(t *Terminal) error {
		t.StaffID = &staffID
		t.StaffName = &staffName
		// Signing in on a closed terminal starts the next business day's
		// session; the terminal reads back as Idle again.
		if t.Status == StatusClosed {
			t.Status = StatusIdle
		}
		return nil
	})
}

// SignOut clears the staff member. Not permitted while Opened.
func (s *Service) SignOut(ctx context.Context, tenantID, terminalID string) (Terminal, error) {
	return s.mutate(ctx, tenantID, terminalID, func(t *Terminal) error {
		if t.Status == StatusOpened {
			return apperr.InvalidState(CodeInvalidState, "close the terminal before signing out")
		}
		t.StaffID = nil
		t.StaffName = nil
		return nil
	})
}

// Open transitions Idle/Closed → Opened, increments the open counter and
// emits an OPEN opencloselog.
func (s *Service) Open(ctx context.Context, tenantID, terminalID, businessDate string, initialAmount decimal.Decimal) (Terminal, error) {
	if _, err := time.Parse("2006-01-02", businessDate); err != nil {
		return Terminal{}, apperr.Validation(apperr.CodeValidation, "businessDate must be YYYY-MM-DD")
	}
	if initialAmount.IsNegative() {
		return Terminal{}, apperr.Validation(CodeInvalidAmount, "initialAmount must not be negative")
	}

	var result Terminal
	err := document.WithCASRetry(ctx, func(ctx context.Context) error {
		t, err := s.store.Get(ctx, tenantID, terminalID)
		if err != nil {
			return err
		}
		if t.Status == StatusOpened {
			return apperr.InvalidState(CodeInvalidState, "terminal is already opened")
		}
		if !t.SignedIn() {
			return apperr.InvalidState(CodeStaffNotSignedIn, "staff must sign in before opening")
		}

		now := s.now()
		t.Status = StatusOpened
		t.FunctionMode = "MainMenu"
		t.OpenCounter++
		t.BusinessDate = &businessDate
		t.InitialAmount = decimal.NewNullDecimal(initialAmount)
		t.PhysicalAmount = decimal.NullDecimal{}
		t.CashAmount = initialAmount

		receipt := s.format.OpenReceipt(t.TerminalID, businessDate, t.OpenCounter, initialAmount, *t.StaffID, now)
		event, err := eventbus.NewEvent(tenantID, OpenCloseLog{
			TenantID:      tenantID,
			StoreCode:     t.StoreCode,
			TerminalID:    t.TerminalID,
			Kind:          OpenCloseKindOpen,
			BusinessDate:  businessDate,
			OpenCounter:   t.OpenCounter,
			InitialAmount: t.InitialAmount,
			StaffID:       *t.StaffID,
			ReceiptText:   receipt,
			JournalText:   receipt,
			Timestamp:     now,
		})
		if err != nil {
			return apperr.Internal(apperr.CodeInternal, "build open event", err)
		}

		saved, err := s.store.CasSaveWithEvent(ctx, tenantID, t, eventbus.TopicOpenCloseLog, event)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return Terminal{}, err
	}
	s.log.LogAudit(ctx, "open", "terminal", terminalID, "ok")
	return result, nil
}

// Close transitions Opened → Closed, reconciles the drawer and emits a CLOSE
// opencloselog carrying the initial and physical amounts.
func (s *Service) Close(ctx context.Context, tenantID, terminalID string, physicalAmount *decimal.Decimal) (Terminal, error) {
	var result Terminal
	err := document.WithCASRetry(ctx, func(ctx context.Context) error {
		t, err := s.store.Get(ctx, tenantID, terminalID)
		if err != nil {
			return err
		}
		if t.Status != StatusOpened {
			return apperr.InvalidState(CodeInvalidState, "terminal is not opened")
		}

		now := s.now()
		expected := t.CashAmount
		t.Status = StatusClosed
		t.FunctionMode = "MainMenu"
		if physicalAmount != nil {
			t.PhysicalAmount = decimal.NewNullDecimal(*physicalAmount)
		}

		businessDate := ""
		if t.BusinessDate != nil {
			businessDate = *t.BusinessDate
		}
		staffID := ""
		if t.StaffID != nil {
			staffID = *t.StaffID
		}

		initial := decimal.Zero
		if t.InitialAmount.Valid {
			initial = t.InitialAmount.Decimal
		}
		var difference decimal.NullDecimal
		if t.PhysicalAmount.Valid {
			difference = decimal.NewNullDecimal(t.PhysicalAmount.Decimal.Sub(expected))
		}

		receipt := s.format.CloseReceipt(t.TerminalID, businessDate, initial, expected, t.PhysicalAmount, staffID, now)
		event, err := eventbus.NewEvent(tenantID, OpenCloseLog{
			TenantID:         tenantID,
			StoreCode:        t.StoreCode,
			TerminalID:       t.TerminalID,
			Kind:             OpenCloseKindClose,
			BusinessDate:     businessDate,
			OpenCounter:      t.OpenCounter,
			InitialAmount:    t.InitialAmount,
			PhysicalAmount:   t.PhysicalAmount,
			ExpectedAmount:   decimal.NewNullDecimal(expected),
			DifferenceAmount: difference,
			StaffID:          staffID,
			ReceiptText:      receipt,
			JournalText:      receipt,
			Timestamp:        now,
		})
		if err != nil {
			return apperr.Internal(apperr.CodeInternal, "build close event", err)
		}

		saved, err := s.store.CasSaveWithEvent(ctx, tenantID, t, eventbus.TopicOpenCloseLog, event)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return Terminal{}, err
	}
	s.log.LogAudit(ctx, "close", "terminal", terminalID, "ok")
	return result, nil
}

// CashIn records a cash deposit into the drawer.
func (s *Service) CashIn(ctx context.Context, tenantID, terminalID string, amount decimal.Decimal, reason, note string) (Terminal, error) {
	return s.cashMove(ctx, tenantID, terminalID, CashDirectionIn, amount, reason, note)
}

// CashOut records a cash removal from the drawer.
func (s *Service) CashOut(ctx context.Context, tenantID, terminalID string, amount decimal.Decimal, reason, note string) (Terminal, error) {
	return s.cashMove(ctx, tenantID, terminalID, CashDirectionOut, amount, reason, note)
}

func (s *Service) cashMove(ctx context.Context, tenantID, terminalID, direction string, amount decimal.Decimal, reason, note string) (Terminal, error) {
	if !amount.IsPositive() {
		return Terminal{}, apperr.Validation(CodeInvalidAmount, "amount must be positive")
	}

	var result Terminal
	err := document.WithCASRetry(ctx, func(ctx context.Context) error {
		t, err := s.store.Get(ctx, tenantID, terminalID)
		if err != nil {
			return err
		}
		if t.Status != StatusOpened {
			return apperr.InvalidState(CodeInvalidState, "cash operations require an opened terminal")
		}

		now := s.now()
		if direction == CashDirectionIn {
			t.CashAmount = t.CashAmount.Add(amount)
		} else {
			t.CashAmount = t.CashAmount.Sub(amount)
		}

		operatorID := ""
		if t.StaffID != nil {
			operatorID = *t.StaffID
		}
		businessDate := ""
		if t.BusinessDate != nil {
			businessDate = *t.BusinessDate
		}

		event, err := eventbus.NewEvent(tenantID, Cashlog{
			TenantID:     tenantID,
			StoreCode:    t.StoreCode,
			TerminalID:   t.TerminalID,
			BusinessDate: businessDate,
			Amount:       amount,
			Direction:    direction,
			Reason:       reason,
			Note:         note,
			ReceiptText:  s.format.CashReceipt(t.TerminalID, direction, amount, reason, now),
			JournalText:  s.format.CashJournal(t.TerminalID, direction, amount, reason, note, operatorID, now),
			OperatorID:   operatorID,
			Timestamp:    now,
		})
		if err != nil {
			return apperr.Internal(apperr.CodeInternal, "build cashlog event", err)
		}

		saved, err := s.store.CasSaveWithEvent(ctx, tenantID, t, eventbus.TopicCashlog, event)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return Terminal{}, err
	}
	s.log.LogAudit(ctx, fmt.Sprintf("cash-%s", direction), "terminal", terminalID, "ok")
	return result, nil
}

// UpdateFunctionMode validates and sets the advertised function mode.
func (s *Service) UpdateFunctionMode(ctx context.Context, tenantID, terminalID, mode string) (Terminal, error) {
	if !IsValidFunctionMode(mode) {
		return Terminal{}, apperr.Validation(CodeInvalidFunctionMode, "unknown function mode").WithDetails("functionMode", mode)
	}
	return s.mutate(ctx, tenantID, terminalID, func(t *Terminal) error {
		t.FunctionMode = mode
		return nil
	})
}

// UpdateDescription sets the terminal description.
func (s *Service) UpdateDescription(ctx context.Context, tenantID, terminalID, description string) (Terminal, error) {
	return s.mutate(ctx, tenantID, terminalID, func(t *Terminal) error {
		t.Description = description
		return nil
	})
}

// IncrementBusinessCounter bumps the completed-transaction counter. Called by
// the cart engine on completion.
func (s *Service) IncrementBusinessCounter(ctx context.Context, tenantID, terminalID string) (Terminal, error) {
	return s.mutate(ctx, tenantID, terminalID, func(t *Terminal) error {
		t.BusinessCounter++
		return nil
	})
}

// mutate is the shared read-modify-CAS loop for event-free updates.
func (s *Service) mutate(ctx context.Context, tenantID, terminalID string, fn func(*Terminal) error) (Terminal, error) {
	var result Terminal
	err := document.WithCASRetry(ctx, func(ctx context.Context) error {
		t, err := s.store.Get(ctx, tenantID, terminalID)
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		saved, err := s.store.CasSave(ctx, tenantID, t)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	return result, err
}
