package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conduitcrm/messaging-engine/internal/tenancy"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origin enforcement happens in the CORS middleware upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket subscriber scoped to a tenant.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *Client) trySend(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// Handler upgrades inbox connections and streams the tenant's conversation
// events. The tenant id comes from the authenticated request context.
type Handler struct {
	hub    *Hub
	logger *logging.Logger
}

func NewHandler(hub *Hub, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{hub: hub, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok || tenantID == "" {
		http.Error(w, "tenant scope required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "tenant_id", tenantID, "error", err)
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.hub.attach(tenantID, client)
	h.logger.Info("realtime client connected", "tenant_id", tenantID)

	go h.writeLoop(tenantID, client)
	h.readLoop(tenantID, client)
}

// readLoop drains inbound frames so control messages are processed; clients
// do not send application data.
func (h *Handler) readLoop(tenantID string, client *Client) {
	defer func() {
		h.hub.detach(tenantID, client)
		client.close()
		client.conn.Close()
	}()
	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(tenantID string, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
