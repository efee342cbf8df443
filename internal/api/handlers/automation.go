package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-message-automation/internal/domain"
)

type statsResponse struct {
	ID             uuid.UUID `json:"id"`
	Processed      int       `json:"processed"`
	AutoApproved   int       `json:"auto_approved"`
	RequiresReview int       `json:"requires_review"`
	Rejected       int       `json:"rejected"`
	Failed         int       `json:"failed"`
	DurationMs     int64     `json:"duration_ms"`
	RanAt          time.Time `json:"ran_at"`
}

func (h *HandlerSet) startAutomation(ctx *fiber.Ctx) error {
	// The loop must outlive the request.
	h.container.Coordinator().Start(context.Background())
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"running": true})
}

func (h *HandlerSet) stopAutomation(ctx *fiber.Ctx) error {
	h.container.Coordinator().Stop()
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"running": false})
}

func (h *HandlerSet) processQueue(ctx *fiber.Ctx) error {
	stats, err := h.pipeline.ProcessQueue(ctx.Context())
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toStatsResponse(stats))
}

func (h *HandlerSet) automationStatus(ctx *fiber.Ctx) error {
	status, err := h.container.Coordinator().Status(ctx.Context())
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(status)
}

func toStatsResponse(stats *domain.ProcessingStats) statsResponse {
	return statsResponse{
		ID:             stats.ID,
		Processed:      stats.Processed,
		AutoApproved:   stats.AutoApproved,
		RequiresReview: stats.RequiresReview,
		Rejected:       stats.Rejected,
		Failed:         stats.Failed,
		DurationMs:     stats.Duration.Milliseconds(),
		RanAt:          stats.RanAt,
	}
}
