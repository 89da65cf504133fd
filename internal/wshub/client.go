package wshub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/openretail/pos-service-layer/infrastructure/logging"
	"github.com/openretail/pos-service-layer/internal/auth"
)

const (
	// sendQueueSize bounds the per-connection outbound queue; a consumer
	// that falls this far behind is dropped.
	sendQueueSize = 32

	pingInterval = 30 * time.Second
	// pongWait allows three missed ping rounds before the socket closes.
	pongWait   = 3*pingInterval + 10*time.Second
	writeWait  = 10 * time.Second
	closeAuth  = websocket.ClosePolicyViolation // 1008
	maxMsgSize = 1024
)

// Client is one registered socket.
type Client struct {
	conn      *websocket.Conn
	tenantID  string
	storeCode string
	out       chan Message
	closeOnce sync.Once
	done      chan struct{}
}

// send enqueues a message, reporting false when the queue is full.
func (c *Client) send(msg Message) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// CatchUpFunc returns the alerts a fresh connection should receive
// immediately: thresholds currently violated for the store, subject to the
// usual cooldown.
type CatchUpFunc func(r *http.Request, tenantID, storeCode string) []Message

// Endpoint serves GET /ws/{tenantId}/{storeCode}?token={jwt}. The token is
// carried in the query string for protocol reasons and must never be logged.
type Endpoint struct {
	hub     *Hub
	broker  *auth.Broker
	catchUp CatchUpFunc
	log     *logging.Logger

	upgrader websocket.Upgrader
}

// NewEndpoint creates the WebSocket endpoint. catchUp may be nil.
func NewEndpoint(hub *Hub, broker *auth.Broker, catchUp CatchUpFunc, log *logging.Logger) *Endpoint {
	if log == nil {
		log = logging.NewFromEnv("wshub")
	}
	return &Endpoint{
		hub:     hub,
		broker:  broker,
		catchUp: catchUp,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection, authenticates it and runs the pumps.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID := vars["tenantId"]
	storeCode := vars["storeCode"]

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	token := r.URL.Query().Get("token")
	if _, authErr := e.authenticate(token, tenantID); authErr != "" {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeAuth, authErr), time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := &Client{
		conn:      conn,
		tenantID:  tenantID,
		storeCode: storeCode,
		out:       make(chan Message, sendQueueSize),
		done:      make(chan struct{}),
	}

	e.hub.register(client)
	client.send(NewConnectionAck(tenantID, storeCode))

	if e.catchUp != nil {
		for _, msg := range e.catchUp(r, tenantID, storeCode) {
			client.send(msg)
		}
	}

	go e.writePump(client)
	e.readPump(client)
}

func (e *Endpoint) authenticate(token, pathTenant string) (*auth.Claims, string) {
	if token == "" {
		return nil, "missing token"
	}
	claims, err := e.broker.Validate(token)
	if err != nil {
		return nil, "invalid token"
	}
	if claims.TenantID != pathTenant {
		return nil, "tenant mismatch"
	}
	return claims, ""
}

func (e *Endpoint) readPump(c *Client) {
	defer func() {
		e.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (e *Endpoint) writePump(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
