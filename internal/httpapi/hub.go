package httpapi

import (
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/planexec/executor/internal/eventbus"
)

// wsBufferSize is the per-client outgoing buffer; a slow client that falls
// behind gets dropped rather than allowed to stall the broadcast.
const wsBufferSize = 256

// Hub fans NATS events out to every connected WebSocket client. It holds
// no domain state of its own: it is purely a broadcast tree rooted at the
// event bus subscription set up in SubscribeBus.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool)}
}

// SubscribeBus wires the hub to every lifecycle event the driver and queue
// publish (the recovery subsystem publishes none), so one NATS subscription feeds every
// connected dashboard without the driver knowing how many there are.
func (h *Hub) SubscribeBus(bus *eventbus.Bus) error {
	_, err := bus.Subscribe("executor.>", h.Broadcast)
	return err
}

// Broadcast sends a pre-encoded message to every connected client,
// dropping clients whose send buffer is full rather than blocking.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

var allowedOrigins = initAllowedOrigins()

func initAllowedOrigins() []string {
	defaults := []string{
		"http://localhost:8080",
		"http://127.0.0.1:8080",
	}
	if env := os.Getenv("PLANEXEC_ALLOWED_ORIGINS"); env != "" {
		for _, o := range strings.Split(env, ",") {
			if o = strings.TrimSpace(o); o != "" {
				defaults = append(defaults, o)
			}
		}
	}
	return defaults
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := originURL.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}

// HandleWebSocket upgrades the connection and registers the client with
// the hub. Each client receives the JSON payload of every executor.>
// message exactly as published; the hub adds no envelope of its own.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsBufferSize)}
	h.register(c)

	go c.writePump(h)
	c.readPump(h)
}

func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *wsClient) writePump(h *Hub) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("[HTTPAPI] websocket write failed: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
