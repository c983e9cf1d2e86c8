package stream

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// DebugWebSocketHub mirrors every broadcast frame over a websocket
// connection at GET /debug/ws (spec §13's supplemented debug surface,
// additive and not part of the core egress contract in spec §6).
//
// Grounded on web/handlers/websocket.go's WebSocketHub: a map of live
// clients guarded by a mutex, a per-client buffered send channel with a
// drop-the-client-on-full policy instead of blocking the broadcaster, and
// paired writePump/readPump goroutines.
type DebugWebSocketHub struct {
	mu      sync.Mutex
	clients map[*debugClient]struct{}
}

type debugClient struct {
	conn *websocket.Conn
	send chan string
}

// NewDebugWebSocketHub constructs an empty hub.
func NewDebugWebSocketHub() *DebugWebSocketHub {
	return &DebugWebSocketHub{clients: make(map[*debugClient]struct{})}
}

// Broadcast mirrors frame to every connected debug client. A client whose
// send buffer is full is dropped rather than allowed to stall the mirror.
func (h *DebugWebSocketHub) Broadcast(frame string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// CloseAll disconnects every debug client, used during orchestrated
// shutdown (spec §4.6).
func (h *DebugWebSocketHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}

// ServeHTTP upgrades the request to a websocket and mirrors frames to it
// until the client disconnects.
func (h *DebugWebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // debug mirror; not part of the egress contract
	})
	if err != nil {
		log.Printf("debug websocket upgrade failed: %v", err)
		return
	}

	c := &debugClient{conn: conn, send: make(chan string, 256)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.readPump(h)
	c.writePump()
}

func (c *debugClient) writePump() {
	for frame := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, []byte(frame))
		cancel()
		if err != nil {
			c.conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// readPump only drains inbound frames to detect client disconnects; the
// debug mirror is outbound-only.
func (c *debugClient) readPump(h *DebugWebSocketHub) {
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}
