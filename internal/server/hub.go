package server

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Hub manages the set of active stream clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]struct{}
	mu         sync.RWMutex
	register   chan *Client
	unregister chan *Client
	updates    chan update
	done       chan struct{}

	// last is the most recent state; only touched by Run.
	last []byte
}

// update carries a new state. Clients are only notified when notify is set,
// but the state is always kept for clients that join later.
type update struct {
	payload []byte
	notify  bool
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		updates:    make(chan update),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. It must be run in a separate goroutine.
func (h *Hub) Run(ctx context.Context) {
	log.Info("hub started")
	defer log.Info("hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllConnections()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			// Registration and updates are serialized here, so the new
			// client cannot miss a state published after this one.
			if h.last != nil {
				client.send <- h.last
			}
			log.WithFields(log.Fields{"remoteAddr": client.conn.RemoteAddr(), "clients": h.size()}).Debug("client registered")
		case client := <-h.unregister:
			h.remove(client)
			log.WithFields(log.Fields{"remoteAddr": client.conn.RemoteAddr(), "clients": h.size()}).Debug("client unregistered")
		case u := <-h.updates:
			h.last = u.payload
			if u.notify {
				h.broadcastMessage(u.payload)
			}
		}
	}
}

// Publish records the latest state and, when notify is set, queues it for
// every connected client.
func (h *Hub) Publish(payload []byte, notify bool) {
	select {
	case h.updates <- update{payload: payload, notify: notify}:
	case <-h.done:
	}
}

func (h *Hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// join registers a client. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// remove drops a client and closes its send queue. Must only be called from Run.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastMessage(message []byte) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		log.WithField("remoteAddr", client.conn.RemoteAddr()).Warn("client send queue full, dropping connection")
		h.remove(client)
	}
}

// closeAllConnections closes every client send queue during shutdown, which
// makes each write pump send a close frame and exit.
func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}
