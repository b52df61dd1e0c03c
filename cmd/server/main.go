package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/zalo-relay/bridge/api/handlers"
	"github.com/zalo-relay/bridge/internal/bridge"
	"github.com/zalo-relay/bridge/internal/mirror"
	"github.com/zalo-relay/bridge/internal/ws"
	"github.com/zalo-relay/bridge/internal/zalo"
)

func main() {
	// Get configuration from environment
	port := getEnv("PORT", "3002")
	redisURL := getEnv("REDIS_URL", "")
	workerCmd := getEnv("ZCA_WORKER", "node zca-worker.js")

	// Optional Redis mirror for inbound messages
	mirrorPub, err := mirror.NewPublisher(redisURL)
	if err != nil {
		log.Fatalf("Failed to connect Redis mirror: %v", err)
	}
	defer mirrorPub.Close()

	// Initialize the client hub and session manager
	hub := ws.NewHub()
	manager := bridge.NewManager(hub, func() zalo.Client {
		return zalo.NewZCAClient(workerCmd)
	}, mirrorPub)
	wsHandler := ws.NewHandler(hub, manager)

	// Initialize Gin router
	r := gin.Default()

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	bridgeHandler := handlers.NewBridgeHandler(manager, wsHandler)
	bridgeHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// Graceful shutdown: clients, then listener, then session.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down bridge...")
		hub.Close()
		srv.Close()
		manager.Teardown()
		mirrorPub.Close()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Zalo bridge listening on port %s", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
