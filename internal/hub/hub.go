package hub

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

// Client represents a subscriber connection
type Client struct {
	ID   string
	Send chan []byte
}

// NewClient creates a subscriber with a buffered send queue.
func NewClient(id string, queue int) *Client {
	return &Client{ID: id, Send: make(chan []byte, queue)}
}

// Hub maintains the set of open subscribers and fans envelopes out to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	done     chan struct{}
	stopOnce sync.Once

	logger  *slog.Logger
	metrics *Metrics

	mu sync.RWMutex
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithRegisterer registers hub metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) { h.metrics = newMetrics(reg) }
}

// NewHub creates a new Hub instance
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.metrics.setSubscribers(0)
			h.logger.Info("Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.setSubscribers(n)
			h.logger.Info("Subscriber registered", "id", client.ID, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.metrics.setSubscribers(n)
				h.logger.Info("Subscriber unregistered", "id", client.ID, "total", n)
			}

		case payload := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Send <- payload:
				default:
					// Subscriber queue full: this envelope is skipped for it only.
					h.metrics.dropped("subscriber_full")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a subscriber to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a subscriber from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues payload for every open subscriber.
// Non-blocking: if the hub queue is full the payload is dropped so the
// byte source is never stalled.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.metrics.dropped("hub_full")
		h.logger.Warn("Broadcast queue full, dropping envelope")
	}
}

// Emit lets the hub act as a relay output.
func (h *Hub) Emit(_ model.Envelope, payload []byte) {
	h.Broadcast(payload)
}

// ClientCount returns the number of open subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop gracefully stops the hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
