package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local control-plane boundary, no origin restriction
		return true
	},
}

// CommandHandler consumes parsed commands from local clients. Implemented
// by the bridge's session manager.
type CommandHandler interface {
	HandleCommand(client *Client, cmd *Command)
}

// Handler handles WebSocket connections from local control-plane clients.
type Handler struct {
	hub      *Hub
	commands CommandHandler
}

// NewHandler creates a new WebSocket handler dispatching to the given
// command handler.
func NewHandler(hub *Hub, commands CommandHandler) *Handler {
	return &Handler{
		hub:      hub,
		commands: commands,
	}
}

// Hub returns the handler's client hub.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// HandleConnection upgrades the HTTP connection to WebSocket and manages
// the bidirectional communication until the client goes away.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(h.hub, conn, uuid.New().String())
	h.hub.Register(client)

	log.Printf("Client %s connected (%d total)", client.ConnID(), h.hub.ClientCount())

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// readPump reads command frames from the client until the socket errors or
// closes, then removes the client from the hub. Socket errors and normal
// closes are treated identically.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn().Close()
		log.Printf("Client %s disconnected (%d total)", client.ConnID(), h.hub.ClientCount())
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Client %s read error: %v", client.ConnID(), err)
			}
			break
		}

		cmd, err := ParseCommand(data)
		if err != nil {
			// Protocol errors go back to the offending client only; the
			// connection stays open.
			h.sendError(client, err.Error())
			continue
		}

		h.commands.HandleCommand(client, cmd)
	}
}

// writePump drains the client's send queue to the socket and keeps the
// connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case data, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the client
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn().WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// Drain queued frames, one WebSocket frame each so the remote
			// can parse them independently.
			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendError(client *Client, errMsg string) {
	data, err := MarshalError(errMsg)
	if err != nil {
		log.Printf("Failed to marshal error event: %v", err)
		return
	}
	client.Send(data)
}
