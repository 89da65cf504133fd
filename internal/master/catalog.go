// Package master exposes read-through views of the master-data catalog: item
// prices, tax rules and payment methods. The catalog itself is owned by the
// master-data service; the cart engine only reads it, through a Redis cache
// that falls back to the tenant database when the cache is unavailable.
package master

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
	"github.com/openretail/pos-service-layer/infrastructure/httputil"
	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/document"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// Error codes (master-data range 30xxx).
const (
	CodeItemNotFound          = 30001
	CodeItemPriceMissing      = 30002
	CodeTaxNotFound           = 30003
	CodePaymentMethodNotFound = 30004
)

// Tax rounding methods.
const (
	RoundMethodRound = "ROUND"
	RoundMethodFloor = "FLOOR"
	RoundMethodCeil  = "CEIL"
)

// Tax types.
const (
	TaxTypeExclusive = "exclusive"
	TaxTypeInclusive = "inclusive"
	TaxTypeExempt    = "exempt"
)

// Item is a catalog item with its price resolved for a store: the
// store-specific override when present, the common unit price otherwise.
type Item struct {
	ItemCode     string          `json:"itemCode" db:"item_code"`
	Description  string          `json:"description" db:"description"`
	UnitPrice    decimal.Decimal `json:"unitPrice" db:"unit_price"`
	TaxCode      string          `json:"taxCode" db:"tax_code"`
	CategoryCode string          `json:"categoryCode" db:"category_code"`
}

// Tax is a tax master entry.
type Tax struct {
	TaxCode     string          `json:"taxCode" db:"tax_code"`
	Rate        decimal.Decimal `json:"rate" db:"rate"`
	RoundDigit  int             `json:"roundDigit" db:"round_digit"`
	RoundMethod string          `json:"roundMethod" db:"round_method"`
	TaxType     string          `json:"taxType" db:"tax_type"`
}

// PaymentMethod is a payment method master entry.
type PaymentMethod struct {
	PaymentCode    string              `json:"paymentCode" db:"payment_code"`
	Description    string              `json:"description" db:"description"`
	CanDepositOver bool                `json:"canDepositOver" db:"can_deposit_over"`
	CanChange      bool                `json:"canChange" db:"can_change"`
	AmountLimit    decimal.NullDecimal `json:"amountLimit" db:"amount_limit"`
}

// Catalog is the read-through view.
type Catalog struct {
	mgr    *document.Manager
	cache  *eventbus.StateStore
	log    *logging.Logger
	ttl    time.Duration
	remote *httputil.Client
	// remoteBase is the master-data service base URL; when set, catalog
	// misses in the tenant database fall through to its public API.
	remoteBase string
}

// NewCatalog creates a catalog. cache may be nil; reads then always hit the
// tenant database.
func NewCatalog(mgr *document.Manager, cache *eventbus.StateStore, log *logging.Logger) *Catalog {
	if log == nil {
		log = logging.NewFromEnv("master")
	}
	return &Catalog{mgr: mgr, cache: cache, log: log, ttl: 5 * time.Minute}
}

// WithRemote enables the read-through fallback against the master-data
// service's public API.
func (c *Catalog) WithRemote(baseURL string, timeout time.Duration) *Catalog {
	c.remoteBase = strings.TrimRight(baseURL, "/")
	c.remote = httputil.NewClient(timeout, c.log)
	return c
}

// fetchRemoteItem asks the master-data service for an item with its price
// already resolved for the store.
func (c *Catalog) fetchRemoteItem(ctx context.Context, tenantID, storeCode, itemCode string) (Item, error) {
	if c.remote == nil {
		return Item{}, apperr.NotFound(CodeItemNotFound, "item not found").WithDetails("itemCode", itemCode)
	}

	url := fmt.Sprintf("%s/api/v1/tenants/%s/stores/%s/items/%s", c.remoteBase, tenantID, storeCode, itemCode)
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := c.remote.GetJSON(ctx, url, nil, &env); err != nil {
		return Item{}, err
	}
	var item Item
	if err := json.Unmarshal(env.Data, &item); err != nil {
		return Item{}, apperr.Internal(apperr.CodeInternal, "decode remote item", err)
	}
	return item, nil
}

// ResolveItem returns the item with its effective price for a store.
func (c *Catalog) ResolveItem(ctx context.Context, tenantID, storeCode, itemCode string) (Item, error) {
	cacheKey := fmt.Sprintf("master:%s:item:%s:%s", tenantID, storeCode, itemCode)
	var cached Item
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	db, err := c.mgr.Handle(tenantID)
	if err != nil {
		return Item{}, err
	}

	type itemRow struct {
		ItemCode     string              `db:"item_code"`
		Description  string              `db:"description"`
		UnitPrice    decimal.NullDecimal `db:"unit_price"`
		TaxCode      string              `db:"tax_code"`
		CategoryCode sql.NullString      `db:"category_code"`
		StorePrice   decimal.NullDecimal `db:"store_price"`
	}

	var row itemRow
	err = db.GetContext(ctx, &row, `
		SELECT i.item_code, i.description, i.unit_price, i.tax_code, i.category_code,
		       p.unit_price AS store_price
		FROM items i
		LEFT JOIN item_store_prices p
		       ON p.item_code = i.item_code AND p.store_code = $1
		WHERE i.item_code = $2
	`, storeCode, itemCode)
	if errors.Is(err, sql.ErrNoRows) {
		item, remoteErr := c.fetchRemoteItem(ctx, tenantID, storeCode, itemCode)
		if remoteErr != nil {
			return Item{}, apperr.NotFound(CodeItemNotFound, "item not found").WithDetails("itemCode", itemCode)
		}
		c.cacheSet(ctx, cacheKey, item)
		return item, nil
	}
	if err != nil {
		return Item{}, apperr.Dependency(apperr.CodeDependency, "load item", err)
	}

	item := Item{
		ItemCode:     row.ItemCode,
		Description:  row.Description,
		TaxCode:      row.TaxCode,
		CategoryCode: row.CategoryCode.String,
	}
	switch {
	case row.StorePrice.Valid:
		item.UnitPrice = row.StorePrice.Decimal
	case row.UnitPrice.Valid:
		item.UnitPrice = row.UnitPrice.Decimal
	default:
		return Item{}, apperr.Validation(CodeItemPriceMissing, "item has no price for this store").WithDetails("itemCode", itemCode)
	}

	c.cacheSet(ctx, cacheKey, item)
	return item, nil
}

// Tax returns a tax master entry.
func (c *Catalog) Tax(ctx context.Context, tenantID, taxCode string) (Tax, error) {
	cacheKey := fmt.Sprintf("master:%s:tax:%s", tenantID, taxCode)
	var cached Tax
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	db, err := c.mgr.Handle(tenantID)
	if err != nil {
		return Tax{}, err
	}

	var tax Tax
	err = db.GetContext(ctx, &tax, `
		SELECT tax_code, rate, round_digit, round_method, tax_type
		FROM taxes WHERE tax_code = $1
	`, taxCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Tax{}, apperr.NotFound(CodeTaxNotFound, "tax code not found").WithDetails("taxCode", taxCode)
	}
	if err != nil {
		return Tax{}, apperr.Dependency(apperr.CodeDependency, "load tax", err)
	}

	c.cacheSet(ctx, cacheKey, tax)
	return tax, nil
}

// PaymentMethod returns a payment method master entry.
func (c *Catalog) PaymentMethod(ctx context.Context, tenantID, paymentCode string) (PaymentMethod, error) {
	cacheKey := fmt.Sprintf("master:%s:payment:%s", tenantID, paymentCode)
	var cached PaymentMethod
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	db, err := c.mgr.Handle(tenantID)
	if err != nil {
		return PaymentMethod{}, err
	}

	var method PaymentMethod
	err = db.GetContext(ctx, &method, `
		SELECT payment_code, description, can_deposit_over, can_change, amount_limit
		FROM payment_methods WHERE payment_code = $1
	`, paymentCode)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentMethod{}, apperr.NotFound(CodePaymentMethodNotFound, "payment method not found").WithDetails("paymentCode", paymentCode)
	}
	if err != nil {
		return PaymentMethod{}, apperr.Dependency(apperr.CodeDependency, "load payment method", err)
	}

	c.cacheSet(ctx, cacheKey, method)
	return method, nil
}

func (c *Catalog) cacheGet(ctx context.Context, key string, dst interface{}) bool {
	if c.cache == nil {
		return false
	}
	err := c.cache.GetJSON(ctx, key, dst)
	if err == nil {
		return true
	}
	if err != eventbus.ErrNotFound {
		c.log.WithError(err).WithFields(map[string]interface{}{"key": key}).Warn("catalog cache read failed")
	}
	return false
}

func (c *Catalog) cacheSet(ctx context.Context, key string, value interface{}) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, key, value, c.ttl); err != nil {
		c.log.WithError(err).WithFields(map[string]interface{}{"key": key}).Warn("catalog cache write failed")
	}
}
