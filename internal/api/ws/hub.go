package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/domain/session"
	"github.com/pawnfiddle/backend/internal/infrastructure/monitoring"
	"github.com/pawnfiddle/backend/internal/shared/id"
)

const (
	// outboundBuffer is the per-connection send queue depth. A client that
	// cannot drain this many events is disconnected rather than allowed to
	// stall broadcasts for the whole session.
	outboundBuffer = 64

	writeTimeout = 10 * time.Second
)

// client is one registered websocket connection with its write pump.
type client struct {
	connID   id.ConnID
	fiddleID string
	conn     *websocket.Conn
	out      chan session.Event
	done     chan struct{}

	closeOnce sync.Once
}

// close stops the write pump. Closing the network connection is the
// caller's business; the read loop owns the conn's lifetime.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Hub routes session events to live connections. It implements
// session.Notifier; per-connection ordering follows from the single write
// pump per client.
type Hub struct {
	log     *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	clients  map[id.ConnID]*client
	byFiddle map[string]map[id.ConnID]*client
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:      log,
		metrics:  metrics,
		clients:  make(map[id.ConnID]*client),
		byFiddle: make(map[string]map[id.ConnID]*client),
	}
}

// register adds a connection and starts its write pump.
func (h *Hub) register(connID id.ConnID, fiddleID string, conn *websocket.Conn) *client {
	c := &client{
		connID:   connID,
		fiddleID: fiddleID,
		conn:     conn,
		out:      make(chan session.Event, outboundBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[connID] = c
	peers, ok := h.byFiddle[fiddleID]
	if !ok {
		peers = make(map[id.ConnID]*client)
		h.byFiddle[fiddleID] = peers
	}
	peers[connID] = c
	h.mu.Unlock()

	go h.writePump(c)
	return c
}

// unregister removes a connection and stops its write pump.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.connID)
	if peers, ok := h.byFiddle[c.fiddleID]; ok {
		delete(peers, c.connID)
		if len(peers) == 0 {
			delete(h.byFiddle, c.fiddleID)
		}
	}
	h.mu.Unlock()

	c.close()
}

// Send delivers an event to a single connection. Events to unknown
// connections are dropped; sessions do not track connection death races.
func (h *Hub) Send(connID id.ConnID, ev session.Event) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.enqueue(c, ev)
}

// Broadcast delivers an event to every connection attached to the fiddle.
func (h *Hub) Broadcast(fiddleID string, ev session.Event) {
	h.mu.RLock()
	peers := make([]*client, 0, len(h.byFiddle[fiddleID]))
	for _, c := range h.byFiddle[fiddleID] {
		peers = append(peers, c)
	}
	h.mu.RUnlock()

	for _, c := range peers {
		h.enqueue(c, ev)
	}
}

func (h *Hub) enqueue(c *client, ev session.Event) {
	select {
	case <-c.done:
	case c.out <- ev:
		h.metrics.RecordWSMessage("out", ev.Name)
	default:
		h.log.Warn("slow websocket client, dropping connection",
			zap.String("conn", c.connID.String()))
		_ = c.conn.Close()
		c.close()
	}
}

// writePump is the single writer for one connection. On write failure it
// closes the conn, which in turn unblocks the read loop.
func (h *Hub) writePump(c *client) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				h.log.Debug("websocket write failed",
					zap.String("conn", c.connID.String()),
					zap.Error(err))
				_ = c.conn.Close()
				c.close()
				return
			}
		}
	}
}
