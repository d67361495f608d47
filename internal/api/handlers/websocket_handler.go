package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/orchestrator"
	"github.com/hunter-swarm/backend/pkg/logger"
)

type WebSocketHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewWebSocketHandler(o *orchestrator.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator: o,
	}
}

// HandleProgress streams pipeline events and periodic progress snapshots to a
// connected client until it disconnects.
func (h *WebSocketHandler) HandleProgress(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	events, cancel := h.orchestrator.Subscribe()
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// Reads only detect disconnects; clients do not send commands here.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.sendProgress(c); err != nil {
		logger.Error("Failed to send initial progress", zap.Error(err))
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case event := <-events:
			msg := map[string]interface{}{
				"type":  "event",
				"event": event,
			}
			if err := c.WriteJSON(msg); err != nil {
				logger.Error("Failed to write event", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := h.sendProgress(c); err != nil {
				logger.Error("Failed to write progress", zap.Error(err))
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendProgress(c *websocket.Conn) error {
	msg := map[string]interface{}{
		"type":     "progress",
		"progress": h.orchestrator.Progress(context.Background()),
	}

	return c.WriteJSON(msg)
}
