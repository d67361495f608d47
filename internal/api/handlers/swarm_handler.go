package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/orchestrator"
	"github.com/hunter-swarm/backend/pkg/logger"
)

type SwarmHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewSwarmHandler(o *orchestrator.Orchestrator) *SwarmHandler {
	return &SwarmHandler{
		orchestrator: o,
	}
}

func (h *SwarmHandler) GetHealth(c *fiber.Ctx) error {
	snapshot := h.orchestrator.SystemHealth()

	status := fiber.StatusOK
	if snapshot.Status == models.StatusCritical {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(snapshot)
}

func (h *SwarmHandler) GetProgress(c *fiber.Ctx) error {
	return c.JSON(h.orchestrator.Progress(c.Context()))
}

func (h *SwarmHandler) ListHunters(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"hunters": h.orchestrator.Hunters(c.Context()),
	})
}

func (h *SwarmHandler) ScaleHunters(c *fiber.Ctx) error {
	var req struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse scale request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.orchestrator.ScaleHunters(c.Context(), req.Type, req.Count); err != nil {
		logger.Error("Failed to scale hunters", zap.String("type", req.Type), zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"type":  req.Type,
		"count": req.Count,
	})
}

func (h *SwarmHandler) PauseHunter(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.orchestrator.PauseHunter(c.Context(), id); err != nil {
		logger.Error("Failed to pause hunter", zap.String("hunter_id", id), zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"hunter_id": id,
		"status":    "paused",
	})
}

func (h *SwarmHandler) ResumeHunter(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.orchestrator.ResumeHunter(c.Context(), id); err != nil {
		logger.Error("Failed to resume hunter", zap.String("hunter_id", id), zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"hunter_id": id,
		"status":    "active",
	})
}

func (h *SwarmHandler) RestartHunter(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.orchestrator.RestartHunter(c.Context(), id); err != nil {
		logger.Error("Failed to restart hunter", zap.String("hunter_id", id), zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"hunter_id": id,
		"status":    "restarted",
	})
}

func (h *SwarmHandler) ExportBusinesses(c *fiber.Ctx) error {
	var req struct {
		Format string            `json:"format"`
		Filter map[string]string `json:"filter"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse export request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Format == "" {
		req.Format = "json"
	}

	data, err := h.orchestrator.ExportBusinesses(c.Context(), req.Format, req.Filter)
	if err != nil {
		logger.Error("Failed to export businesses", zap.String("format", req.Format), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if req.Format == "csv" {
		c.Set("Content-Type", "text/csv")
		c.Set("Content-Disposition", "attachment; filename=businesses.csv")
	} else {
		c.Set("Content-Type", "application/json")
	}

	return c.Send(data)
}
