package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Envelope is what websocket consumers receive. Type is the session event
// name, "snapshot" or "error".
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type client struct {
	id      uint64
	conn    *websocket.Conn
	message chan *Envelope
	writeMx sync.Mutex
}

// send writes env to this consumer only, outside the hub.
func (c *client) send(env *Envelope) error {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *client) writeLoop(logger *zap.Logger) {
	for env := range c.message {
		if err := c.send(env); err != nil {
			logger.Debug("ws write failed", zap.Uint64("client", c.id), zap.Error(err))
			_ = c.conn.Close()
			for range c.message {
			}
			return
		}
	}
}

// Hub owns the set of connected consumers. All membership changes and
// broadcasts go through Run.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan *Envelope
	clients    map[uint64]*client
	autoInc    atomic.Uint64
	logger     *zap.Logger
	done       chan struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *Envelope, 256),
		clients:    make(map[uint64]*client),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		for id, c := range h.clients {
			close(c.message)
			delete(h.clients, id)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c.id] = c
		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; ok {
				close(c.message)
				delete(h.clients, c.id)
			}
		case env := <-h.broadcast:
			for _, c := range h.clients {
				select {
				case c.message <- env:
				default:
					h.logger.Warn("ws consumer too slow, dropping event", zap.Uint64("client", c.id), zap.String("type", env.Type))
				}
			}
		}
	}
}

// Publish queues env for every consumer without blocking.
func (h *Hub) Publish(env *Envelope) {
	select {
	case h.broadcast <- env:
	default:
		h.logger.Warn("gateway backlog full, dropping event", zap.String("type", env.Type))
	}
}

func (h *Hub) newClient(conn *websocket.Conn) *client {
	return &client{
		id:      h.autoInc.Add(1),
		conn:    conn,
		message: make(chan *Envelope, 64),
	}
}

func (h *Hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
