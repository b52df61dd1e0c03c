// Package handlers provides HTTP request handlers for the bridge's local
// boundary.
package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zalo-relay/bridge/internal/bridge"
	"github.com/zalo-relay/bridge/internal/ws"
)

// BridgeHandler exposes the bridge's WebSocket endpoint and status over gin.
type BridgeHandler struct {
	manager   *bridge.Manager
	wsHandler *ws.Handler
}

// NewBridgeHandler creates a new BridgeHandler.
func NewBridgeHandler(manager *bridge.Manager, wsHandler *ws.Handler) *BridgeHandler {
	return &BridgeHandler{
		manager:   manager,
		wsHandler: wsHandler,
	}
}

// Connect handles GET /ws - upgrades a local control-plane client.
func (h *BridgeHandler) Connect(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
	}
}

// Status handles GET /status - reports session state and client count.
func (h *BridgeHandler) Status(c *gin.Context) {
	state := "none"
	if h.manager.SessionActive() {
		state = "active"
	}

	c.JSON(http.StatusOK, gin.H{
		"session": state,
		"clients": h.wsHandler.Hub().ClientCount(),
	})
}

// RegisterRoutes registers the bridge routes on a Gin router.
func (h *BridgeHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Connect)
	r.GET("/status", h.Status)
}
