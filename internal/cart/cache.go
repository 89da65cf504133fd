package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// cacheTTL keeps an abandoned cart recoverable across a full trading day.
const cacheTTL = 10 * time.Hour

// Cache is the write-through layer in front of the authoritative cart store.
// Reads prefer the cache and fall back to the store; every successful write
// refreshes the cache. Cache failures are logged, never surfaced: the store
// remains authoritative.
type Cache struct {
	state *eventbus.StateStore
	log   *logging.Logger
}

// NewCache creates the cart cache. state may be nil, turning the cache off.
func NewCache(state *eventbus.StateStore, log *logging.Logger) *Cache {
	if log == nil {
		log = logging.NewFromEnv("cart-cache")
	}
	return &Cache{state: state, log: log}
}

func cacheKey(tenantID, cartID string) string {
	return fmt.Sprintf("cart:%s:%s", tenantID, cartID)
}

// Get returns the cached cart, or false on miss or cache failure.
func (c *Cache) Get(ctx context.Context, tenantID, cartID string) (Cart, bool) {
	if c.state == nil {
		return Cart{}, false
	}
	var cached Cart
	err := c.state.GetJSON(ctx, cacheKey(tenantID, cartID), &cached)
	if err == nil {
		return cached, true
	}
	if err != eventbus.ErrNotFound {
		c.log.WithError(err).WithFields(map[string]interface{}{"cart_id": cartID}).Warn("cart cache read failed")
	}
	return Cart{}, false
}

// Put writes the cart through to the cache.
func (c *Cache) Put(ctx context.Context, tenantID string, cart Cart) {
	if c.state == nil {
		return
	}
	if err := c.state.SetJSON(ctx, cacheKey(tenantID, cart.CartID), cart, cacheTTL); err != nil {
		c.log.WithError(err).WithFields(map[string]interface{}{"cart_id": cart.CartID}).Warn("cart cache write failed")
	}
}

// Drop evicts a cart from the cache.
func (c *Cache) Drop(ctx context.Context, tenantID, cartID string) {
	if c.state == nil {
		return
	}
	if err := c.state.Delete(ctx, cacheKey(tenantID, cartID)); err != nil {
		c.log.WithError(err).WithFields(map[string]interface{}{"cart_id": cartID}).Warn("cart cache drop failed")
	}
}
