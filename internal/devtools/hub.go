// Package devtools exposes a cache's live state over HTTP: a REST snapshot
// of queries/mutations and a WebSocket stream of cache/mutation events, for
// an external inspector UI (spec.md §12 supplemented feature, no equivalent
// module in spec.md itself). The client-registry and broadcast-select-loop
// idiom is adapted from the teacher's internal/websocket.Hub, generalized
// from chat-style pub/sub topics to this module's query/mutation event
// stream.
package devtools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peervault-labs/fluquery/internal/mutation"
	"github.com/peervault-labs/fluquery/internal/querycache"
)

// Message is the wire shape pushed to every connected inspector client.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Query     *QuerySnapshot    `json:"query,omitempty"`
	Mutation  *MutationSnapshot `json:"mutation,omitempty"`
}

// Hub maintains the set of connected inspector clients and fans cache and
// mutation events out to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	logger *slog.Logger
}

// Client is one inspector's live connection.
type Client struct {
	conn *websocket.Conn
	send chan Message
	hub  *Hub

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub. Call Run to start its event loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run drives the hub's registration/broadcast loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("devtools client too slow, dropping message", "type", msg.Type)
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			return
		}
	}
}

// AttachCache subscribes the hub to cache events, translating each into a
// broadcast Message.
func (h *Hub) AttachCache(cache *querycache.Cache) (unsubscribe func()) {
	return cache.Subscribe(func(ev querycache.Event) {
		snap := SnapshotQuery(ev.Query)
		h.publish(Message{Type: "query:" + string(ev.Kind), Timestamp: time.Now(), Query: &snap})
	})
}

// AttachMutations subscribes the hub to mutation events.
func (h *Hub) AttachMutations(cache *mutation.MutationCache) (unsubscribe func()) {
	return cache.Subscribe(func(ev mutation.Event) {
		snap := SnapshotMutation(ev.Mutation)
		h.publish(Message{Type: "mutation:" + string(ev.Kind), Timestamp: time.Now(), Mutation: &snap})
	})
}

func (h *Hub) publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("devtools hub broadcast channel full, dropping message", "type", msg.Type)
	}
}

// register/unregister/pump methods mirror the teacher's websocket.Client
// read/write pumps, trimmed to this package's one-way (server-to-client)
// stream: inspector clients only receive, never send domain commands.

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{conn: conn, send: make(chan Message, 256), hub: hub, ctx: ctx, cancel: cancel}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) Close() {
	c.cancel()
	c.conn.Close()
}
