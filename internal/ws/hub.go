package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents a local control-plane connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	connID string
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, connID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		connID: connID,
		send:   make(chan []byte, 256),
	}
}

// Send queues an event frame for delivery to the client.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ConnID returns the connection ID assigned to this client.
func (c *Client) ConnID() string {
	return c.connID
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub is the set of currently connected local clients. There is exactly one
// hub per bridge process; every client shares the one upstream session.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	// onEmpty fires after a removal leaves the client set empty. It is the
	// bridge's session-teardown trigger.
	onEmpty func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// SetOnEmpty sets the callback invoked when the last client disconnects.
func (h *Hub) SetOnEmpty(callback func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEmpty = callback
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub and fires the on-empty callback
// if it was the last one.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, wasPresent := h.clients[client]
	delete(h.clients, client)
	empty := wasPresent && len(h.clients) == 0
	onEmpty := h.onEmpty
	h.mu.Unlock()

	client.Close()

	if empty && onEmpty != nil {
		onEmpty()
	}
}

// Broadcast sends an event frame to all connected clients. Fan-out is
// unordered; clients removed before the call never see the frame.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if there are connected clients.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// Close closes all client connections and empties the hub without firing
// the on-empty callback; shutdown tears the session down explicitly.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
