package cart

import (
	"context"

	"github.com/openretail/pos-service-layer/internal/eventbus"
)

// CompletionNumbers are the gapless identifiers allocated inside the
// completion transaction.
type CompletionNumbers struct {
	TransactionNo   int64
	ReceiptNo       int64
	BusinessCounter int64
}

// Store is the authoritative persistence contract for carts.
type Store interface {
	Create(ctx context.Context, tenantID string, c Cart) (Cart, error)
	Get(ctx context.Context, tenantID, cartID string) (Cart, error)

	// CasSave persists c when its ETag matches; Conflict otherwise.
	CasSave(ctx context.Context, tenantID string, c Cart) (Cart, error)

	// Complete atomically allocates the terminal's next transaction and
	// receipt numbers, bumps its business counter, persists the completed
	// cart, writes the immutable tranlog row and stages the tranlog event —
	// all in one transaction. build receives the allocated numbers and
	// returns the finalized cart plus the event to stage.
	Complete(ctx context.Context, tenantID string, c Cart,
		build func(nums CompletionNumbers) (Cart, eventbus.Event, error)) (Cart, error)

	// TerminalSnapshot reads the owning terminal's state.
	TerminalSnapshot(ctx context.Context, tenantID, terminalID string) (TerminalInfo, error)
}
