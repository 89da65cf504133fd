package stock

import (
	"context"
	"time"

	"github.com/openretail/pos-service-layer/internal/wshub"
)

// HubBroadcaster adapts the WebSocket hub to the Broadcaster contract.
type HubBroadcaster struct {
	Hub *wshub.Hub
}

// BroadcastStockAlert fans the alert out to the (tenant, store) group.
func (b HubBroadcaster) BroadcastStockAlert(ctx context.Context, alert Alert) {
	b.Hub.Broadcast(ctx, alert.TenantID, alert.StoreCode, AlertMessage(alert))
}

// AlertMessage converts an alert into the published WebSocket frame.
func AlertMessage(alert Alert) wshub.Message {
	qty, _ := alert.CurrentQuantity.Float64()
	threshold, _ := alert.Threshold.Float64()
	return wshub.Message{
		Type:            "stock_alert",
		AlertType:       alert.AlertType,
		TenantID:        alert.TenantID,
		StoreCode:       alert.StoreCode,
		ItemCode:        alert.ItemCode,
		CurrentQuantity: qty,
		Threshold:       threshold,
		Timestamp:       alert.Timestamp.UTC().Format(time.RFC3339),
	}
}
