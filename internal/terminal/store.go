package terminal

import (
	"context"

	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// Store is the persistence contract for terminals. Implementations enforce
// optimistic concurrency: saves compare the caller's ETag and fail with
// Conflict on mismatch.
type Store interface {
	Create(ctx context.Context, tenantID string, t Terminal) (Terminal, error)
	Get(ctx context.Context, tenantID, terminalID string) (Terminal, error)
	List(ctx context.Context, tenantID, storeCode string, limit, offset int) ([]Terminal, int, error)

	// CasSave persists t if its ETag matches the stored row, returning the
	// row with a fresh ETag.
	CasSave(ctx context.Context, tenantID string, t Terminal) (Terminal, error)

	// CasSaveWithEvent is CasSave plus an outbox row committed in the same
	// transaction, so the state change and the event publication are atomic.
	CasSaveWithEvent(ctx context.Context, tenantID string, t Terminal, topic string, event eventbus.Event) (Terminal, error)

	Delete(ctx context.Context, tenantID, terminalID, etag string) error

	// HasActiveCart reports whether any cart on the terminal is still open.
	HasActiveCart(ctx context.Context, tenantID, terminalID string) (bool, error)

	// StoreExists reports whether the store code exists for the tenant.
	StoreExists(ctx context.Context, tenantID, storeCode string) (bool, error)
}
