package bus

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/foxzi/pageforge/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub bridges the bus to browser sessions over websockets. Each open tab
// holds one connection; events raised from the same origin are pushed to
// it, and a tab may post an event that is relayed to its siblings.
type Hub struct {
	bus      *Bus
	upgrader websocket.Upgrader
	buffer   int
	logger   *slog.Logger
}

// NewHub creates a websocket hub. With no allowed origins the upgrader
// falls back to gorilla's same-host check.
func NewHub(b *Bus, allowedOrigins []string, buffer int, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:    b,
		buffer: buffer,
		logger: logger,
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]struct{}, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			if _, ok := allowed["*"]; ok {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return h
}

type wsClient struct {
	id     string
	origin string
	conn   *websocket.Conn
	sub    *Subscription
}

// inbound is what a tab may send after it wrote something
type inbound struct {
	Type     string `json:"type"`
	LayoutID string `json:"layout_id"`
	Kind     Kind   `json:"kind"`
}

// ServeWS upgrades the request and serves the connection until it closes
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &wsClient{
		id:     uuid.New().String(),
		origin: r.Header.Get("Origin"),
		conn:   conn,
	}
	c.sub = h.bus.Subscribe(SubscribeOptions{
		Origin: c.origin,
		Name:   c.id,
		Buffer: h.buffer,
	})

	metrics.IncEventClients()
	h.logger.Debug("event client connected", "client", c.id, "origin", c.origin)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		c.sub.Close()
		c.conn.Close()
		metrics.DecEventClients()
		h.logger.Debug("event client disconnected", "client", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("event client read error", "client", c.id, "error", err)
			}
			return
		}
		if msg.Type != EventLayoutsChanged {
			continue
		}
		h.bus.Publish(Event{
			Type:     EventLayoutsChanged,
			LayoutID: msg.LayoutID,
			Kind:     msg.Kind,
			Origin:   c.origin,
			sender:   c.id,
		})
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
