// Package wshub implements the WebSocket hub that fans stock alerts out to
// POS clients. Connections are grouped by (tenant, store); registration and
// broadcast are serialized by a per-hub mutex, and broadcasts copy the
// subscriber list out so no lock is held during socket I/O.
package wshub

import (
	"context"
	"sync"
	"time"

	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/infrastructure/metrics"
)

// Message is the JSON frame sent to clients. Field names on the socket are
// snake_case per the published schema.
type Message struct {
	Type            string  `json:"type"`
	Status          string  `json:"status,omitempty"`
	AlertType       string  `json:"alert_type,omitempty"`
	TenantID        string  `json:"tenant_id"`
	StoreCode       string  `json:"store_code"`
	ItemCode        string  `json:"item_code,omitempty"`
	CurrentQuantity float64 `json:"current_quantity,omitempty"`
	Threshold       float64 `json:"threshold,omitempty"`
	Timestamp       string  `json:"timestamp"`
}

// NewConnectionAck builds the ack frame sent right after registration.
func NewConnectionAck(tenantID, storeCode string) Message {
	return Message{
		Type:      "connection",
		Status:    "connected",
		TenantID:  tenantID,
		StoreCode: storeCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

type groupKey struct {
	tenantID  string
	storeCode string
}

// Hub manages the connection groups.
type Hub struct {
	mu     sync.Mutex
	groups map[groupKey]map[*Client]struct{}
	log    *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewFromEnv("wshub")
	}
	return &Hub{
		groups: make(map[groupKey]map[*Client]struct{}),
		log:    log,
	}
}

func (h *Hub) register(c *Client) {
	key := groupKey{c.tenantID, c.storeCode}

	h.mu.Lock()
	group, ok := h.groups[key]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[key] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()

	metrics.WebSocketConnections.WithLabelValues(c.tenantID, c.storeCode).Inc()
}

func (h *Hub) unregister(c *Client) {
	key := groupKey{c.tenantID, c.storeCode}

	h.mu.Lock()
	if group, ok := h.groups[key]; ok {
		if _, present := group[c]; present {
			delete(group, c)
			metrics.WebSocketConnections.WithLabelValues(c.tenantID, c.storeCode).Dec()
		}
		if len(group) == 0 {
			delete(h.groups, key)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every connection in the (tenant, store) group. Slow
// consumers whose send queue is full are dropped.
func (h *Hub) Broadcast(ctx context.Context, tenantID, storeCode string, msg Message) {
	key := groupKey{tenantID, storeCode}

	h.mu.Lock()
	group := h.groups[key]
	clients := make([]*Client, 0, len(group))
	for c := range group {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.send(msg) {
			h.log.WithFields(map[string]interface{}{
				"tenant_id":  tenantID,
				"store_code": storeCode,
			}).Warn("dropping slow websocket consumer")
			c.close()
		}
	}
}

// GroupSize reports the number of open connections in a group.
func (h *Hub) GroupSize(tenantID, storeCode string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[groupKey{tenantID, storeCode}])
}
