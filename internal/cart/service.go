package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
	"github.com/openretail/pos-service-layer/internal/master"
)

// Catalog is the read-through master-data view the engine consumes.
type Catalog interface {
	ResolveItem(ctx context.Context, tenantID, storeCode, itemCode string) (master.Item, error)
	Tax(ctx context.Context, tenantID, taxCode string) (master.Tax, error)
	PaymentMethod(ctx context.Context, tenantID, paymentCode string) (master.PaymentMethod, error)
}

// Service wraps the cart business logic.
type Service struct {
	store   Store
	cache   *Cache
	catalog Catalog
	log     *logging.Logger
	now     func() time.Time
}

// NewService creates a cart service.
func NewService(store Store, cache *Cache, catalog Catalog, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewFromEnv("cart")
	}
	if cache == nil {
		cache = NewCache(nil, log)
	}
	return &Service{
		store:   store,
		cache:   cache,
		catalog: catalog,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a new cart on a terminal. The terminal must be opened with a
// staff member signed in; the cart starts in Idle and is owned by that
// terminal for its whole life.
func (s *Service) Create(ctx context.Context, tenantID, terminalID, transactionType string) (Cart, error) {
	if transactionType == "" {
		transactionType = TransactionTypeSale
	}
	switch transactionType {
	case TransactionTypeSale, TransactionTypeReturn, TransactionTypeVoid:
	default:
		return Cart{}, apperr.Validation(apperr.CodeValidation, "unknown transaction type")
	}

	info, err := s.store.TerminalSnapshot(ctx, tenantID, terminalID)
	if err != nil {
		return Cart{}, err
	}
	if info.Status != terminalStatusOpened {
		return Cart{}, apperr.InvalidState(CodeTerminalNotOpened, "terminal must be opened to start a cart")
	}

	c := Cart{
		CartID:          uuid.NewString(),
		TenantID:        tenantID,
		StoreCode:       info.StoreCode,
		TerminalID:      terminalID,
		Status:          StatusIdle,
		TransactionType: transactionType,
		BusinessDate:    info.BusinessDate,
		StaffID:         info.StaffID,
		LineItems:       []LineItem{},
		Payments:        []Payment{},
		Taxes:           []TaxLine{},
	}

	created, err := s.store.Create(ctx, tenantID, c)
	if err != nil {
		return Cart{}, err
	}
	s.cache.Put(ctx, tenantID, created)
	s.log.LogAudit(ctx, "create", "cart", created.CartID, "ok")
	return created, nil
}

// Get returns the cart, preferring the cache.
func (s *Service) Get(ctx context.Context, tenantID, cartID string) (Cart, error) {
	if cached, ok := s.cache.Get(ctx, tenantID, cartID); ok {
		return cached, nil
	}
	c, err := s.store.Get(ctx, tenantID, cartID)
	if err != nil {
		return Cart{}, err
	}
	s.cache.Put(ctx, tenantID, c)
	return c, nil
}

// AddItem appends a line item, resolving price and tax from the catalog.
func (s *Service) AddItem(ctx context.Context, tenantID, cartID, callerTerminal, itemCode string, quantity decimal.Decimal, unitPrice *decimal.Decimal) (Cart, error) {
	if quantity.IsZero() {
		return Cart{}, apperr.Validation(CodeInvalidQuantity, "quantity must not be zero")
	}

	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if c.Status != StatusIdle && c.Status != StatusEnteringItem {
			return apperr.InvalidState(CodeInvalidStateTransition, "items can only be added while entering items")
		}

		item, err := s.catalog.ResolveItem(ctx, tenantID, c.StoreCode, itemCode)
		if err != nil {
			return err
		}

		price := item.UnitPrice
		if unitPrice != nil {
			price = *unitPrice
		}

		c.LineItems = append(c.LineItems, LineItem{
			LineNo:       len(c.LineItems) + 1,
			ItemCode:     item.ItemCode,
			Description:  item.Description,
			Quantity:     quantity,
			UnitPrice:    price,
			TaxCode:      item.TaxCode,
			CategoryCode: item.CategoryCode,
		})
		c.Status = StatusEnteringItem
		return s.recalc(ctx, tenantID, c)
	})
}

// CancelLineItem flags a line as cancelled. The line stays in the document.
func (s *Service) CancelLineItem(ctx context.Context, tenantID, cartID, callerTerminal string, lineNo int) (Cart, error) {
	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if c.Status != StatusEnteringItem {
			return apperr.InvalidState(CodeInvalidStateTransition, "line items can only be cancelled while entering items")
		}
		idx := lineNo - 1
		if idx < 0 || idx >= len(c.LineItems) {
			return apperr.NotFound(CodeLineItemNotFound, "line item not found").WithDetails("lineNo", lineNo)
		}
		c.LineItems[idx].Cancelled = true
		return s.recalc(ctx, tenantID, c)
	})
}

// AddLineItemDiscount attaches a discount to a line.
func (s *Service) AddLineItemDiscount(ctx context.Context, tenantID, cartID, callerTerminal string, lineNo int, d Discount) (Cart, error) {
	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if c.Status != StatusEnteringItem {
			return apperr.InvalidState(CodeInvalidStateTransition, "discounts can only be added while entering items")
		}
		idx := lineNo - 1
		if idx < 0 || idx >= len(c.LineItems) {
			return apperr.NotFound(CodeLineItemNotFound, "line item not found").WithDetails("lineNo", lineNo)
		}
		line := &c.LineItems[idx]
		if line.Cancelled {
			return apperr.InvalidState(CodeInvalidStateTransition, "cannot discount a cancelled line")
		}
		resolved, err := resolveDiscount(d, line.Quantity.Mul(line.UnitPrice))
		if err != nil {
			return err
		}
		line.Discounts = append(line.Discounts, resolved)
		return s.recalc(ctx, tenantID, c)
	})
}

// Subtotal moves the cart to PreTax, freezing the item list for payment.
func (s *Service) Subtotal(ctx context.Context, tenantID, cartID, callerTerminal string) (Cart, error) {
	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if !canTransition(c.Status, StatusPreTax) {
			return apperr.InvalidState(CodeInvalidStateTransition, "subtotal requires entering items")
		}
		c.Status = StatusPreTax
		return s.recalc(ctx, tenantID, c)
	})
}

// Back returns from PreTax to EnteringItem.
func (s *Service) Back(ctx context.Context, tenantID, cartID, callerTerminal string) (Cart, error) {
	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if c.Status != StatusPreTax {
			return apperr.InvalidState(CodeInvalidStateTransition, "back requires the subtotal state")
		}
		c.Status = StatusEnteringItem
		return s.recalc(ctx, tenantID, c)
	})
}

// AddOrderDiscount applies a whole-order discount in PreTax.
func (s *Service) AddOrderDiscount(ctx context.Context, tenantID, cartID, callerTerminal string, d Discount) (Cart, error) {
	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if c.Status != StatusPreTax {
			return apperr.InvalidState(CodeInvalidStateTransition, "order discounts are applied at subtotal")
		}
		resolved, err := resolveDiscount(d, c.LineTotal)
		if err != nil {
			return err
		}
		c.OrderDiscounts = append(c.OrderDiscounts, resolved)
		return s.recalc(ctx, tenantID, c)
	})
}

// AddPayment tenders a payment against the cart.
func (s *Service) AddPayment(ctx context.Context, tenantID, cartID, callerTerminal, paymentCode string, amount decimal.Decimal) (Cart, error) {
	if !amount.IsPositive() {
		return Cart{}, apperr.Validation(apperr.CodeValidation, "payment amount must be positive")
	}

	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if c.Status != StatusPreTax && c.Status != StatusPayingItem {
			return apperr.InvalidState(CodeInvalidStateTransition, "payments require the subtotal or paying state")
		}

		method, err := s.catalog.PaymentMethod(ctx, tenantID, paymentCode)
		if err != nil {
			return err
		}
		if method.AmountLimit.Valid && amount.GreaterThan(method.AmountLimit.Decimal) {
			return apperr.Validation(CodeAmountLimitExceeded, "payment exceeds the method's amount limit").
				WithDetails("amountLimit", method.AmountLimit.Decimal.String())
		}
		if amount.GreaterThan(c.Balance) && !method.CanDepositOver {
			return apperr.Validation(CodePaymentMethodNotAllowed, "payment method does not allow overpayment").
				WithDetails("paymentCode", paymentCode)
		}

		c.Payments = append(c.Payments, Payment{
			PaymentNo:   len(c.Payments) + 1,
			PaymentCode: method.PaymentCode,
			Description: method.Description,
			Amount:      amount,
		})
		c.Status = StatusPayingItem
		return s.recalc(ctx, tenantID, c)
	})
}

// Complete finalizes the cart. The balance must be fully covered; any
// overpayment becomes change, which requires a tendered method with
// canChange. Completion persists the cart, the tranlog row and the outbox
// event in one transaction.
func (s *Service) Complete(ctx context.Context, tenantID, cartID, callerTerminal string) (Cart, error) {
	var result Cart
	err := document.WithCASRetry(ctx, func(ctx context.Context) error {
		c, err := s.store.Get(ctx, tenantID, cartID)
		if err != nil {
			return err
		}
		if err := s.checkOwnership(c, callerTerminal); err != nil {
			return err
		}
		if c.Status != StatusPayingItem {
			return apperr.InvalidState(CodeInvalidStateTransition, "completion requires the paying state")
		}
		if err := s.recalc(ctx, tenantID, &c); err != nil {
			return err
		}
		if c.Balance.IsPositive() {
			return apperr.InvalidState(CodeBalanceRemaining, "balance must be fully paid").
				WithDetails("balance", c.Balance.String())
		}

		change := c.Balance.Neg()
		if change.IsPositive() {
			canChange := false
			for _, p := range c.Payments {
				method, err := s.catalog.PaymentMethod(ctx, tenantID, p.PaymentCode)
				if err != nil {
					return err
				}
				if method.CanChange {
					canChange = true
					break
				}
			}
			if !canChange {
				return apperr.Validation(CodePaymentMethodNotAllowed, "no tendered payment method can return change")
			}
		}

		now := s.now()
		completed, err := s.store.Complete(ctx, tenantID, c, func(nums CompletionNumbers) (Cart, eventbus.Event, error) {
			c.Status = StatusCompleted
			c.TransactionNo = nums.TransactionNo
			c.ReceiptNo = nums.ReceiptNo
			c.ChangeAmount = change

			tranlog := Tranlog{
				TenantID:           tenantID,
				StoreCode:          c.StoreCode,
				TerminalID:         c.TerminalID,
				TransactionNo:      nums.TransactionNo,
				ReceiptNo:          nums.ReceiptNo,
				TransactionType:    c.TransactionType,
				BusinessDate:       c.BusinessDate,
				BusinessCounter:    nums.BusinessCounter,
				StaffID:            c.StaffID,
				LineItems:          c.LineItems,
				Payments:           c.Payments,
				Taxes:              c.Taxes,
				LineTotal:          c.LineTotal,
				TaxAmount:          c.TaxAmount,
				OrderDiscountTotal: c.OrderDiscountTotal,
				Total:              c.Total,
				DepositTotal:       c.DepositTotal,
				ChangeAmount:       change,
				GeneratedAt:        now,
			}
			event, err := eventbus.NewEvent(tenantID, tranlog)
			if err != nil {
				return Cart{}, eventbus.Event{}, apperr.Internal(apperr.CodeInternal, "build tranlog event", err)
			}
			return c, event, nil
		})
		if err != nil {
			return err
		}
		result = completed
		return nil
	})
	if err != nil {
		return Cart{}, err
	}

	s.cache.Put(ctx, tenantID, result)
	s.log.LogAudit(ctx, "complete", "cart", cartID, "ok")
	return result, nil
}

// Cancel aborts the cart from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, tenantID, cartID, callerTerminal string) (Cart, error) {
	c, err := s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if !canTransition(c.Status, StatusCancelled) {
			return apperr.InvalidState(CodeInvalidStateTransition, "cart is already finished")
		}
		c.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	s.log.LogAudit(ctx, "cancel", "cart", cartID, "ok")
	return c, nil
}

// Pause suspends an in-progress cart.
func (s *Service) Pause(ctx context.Context, tenantID, cartID, callerTerminal string) (Cart, error) {
	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if !canTransition(c.Status, StatusPaused) {
			return apperr.InvalidState(CodeInvalidStateTransition, "only an item-entry cart can pause")
		}
		c.Status = StatusPaused
		return nil
	})
}

// Resume reactivates a paused cart.
func (s *Service) Resume(ctx context.Context, tenantID, cartID, callerTerminal string) (Cart, error) {
	return s.mutate(ctx, tenantID, cartID, callerTerminal, func(ctx context.Context, c *Cart) error {
		if c.Status != StatusPaused {
			return apperr.InvalidState(CodeInvalidStateTransition, "only a paused cart can resume")
		}
		c.Status = StatusEnteringItem
		return nil
	})
}

func (s *Service) checkOwnership(c Cart, callerTerminal string) error {
	if callerTerminal != "" && callerTerminal != c.TerminalID {
		return apperr.Authorization(CodeOwnershipViolation, "cart belongs to another terminal").
			WithDetails("terminalId", c.TerminalID)
	}
	return nil
}

// recalc rebuilds the money fields, fetching the tax masters the cart uses.
func (s *Service) recalc(ctx context.Context, tenantID string, c *Cart) error {
	taxes := make(taxTable)
	for _, line := range c.LineItems {
		if _, ok := taxes[line.TaxCode]; ok {
			continue
		}
		tax, err := s.catalog.Tax(ctx, tenantID, line.TaxCode)
		if err != nil {
			return err
		}
		taxes[line.TaxCode] = tax
	}
	return c.recalculate(taxes)
}

// mutate is the shared read-modify-CAS loop. The authoritative store is read
// on every attempt; the cache is refreshed after a successful save.
func (s *Service) mutate(ctx context.Context, tenantID, cartID, callerTerminal string, fn func(ctx context.Context, c *Cart) error) (Cart, error) {
	var result Cart
	err := document.WithCASRetry(ctx, func(ctx context.Context) error {
		c, err := s.store.Get(ctx, tenantID, cartID)
		if err != nil {
			return err
		}
		if err := s.checkOwnership(c, callerTerminal); err != nil {
			return err
		}
		if err := fn(ctx, &c); err != nil {
			return err
		}
		saved, err := s.store.CasSave(ctx, tenantID, c)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	s.cache.Put(ctx, tenantID, result)
	return result, nil
}
