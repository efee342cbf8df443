package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-message-automation/internal/domain"
)

type enqueueMessageRequest struct {
	LeadID       string     `json:"lead_id"`
	Body         string     `json:"body"`
	Urgency      string     `json:"urgency"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

type messageResponse struct {
	ID           uuid.UUID            `json:"id"`
	LeadID       uuid.UUID            `json:"lead_id"`
	Body         string               `json:"body"`
	Urgency      domain.UrgencyTier   `json:"urgency"`
	Priority     int                  `json:"priority"`
	Status       domain.MessageStatus `json:"status"`
	ScheduledFor *time.Time           `json:"scheduled_for,omitempty"`
	Approved     bool                 `json:"approved"`
	SentAt       *time.Time           `json:"sent_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

type analysisResponse struct {
	ID             uuid.UUID             `json:"id"`
	MessageID      uuid.UUID             `json:"message_id"`
	LeadID         uuid.UUID             `json:"lead_id"`
	TemplateHash   string                `json:"template_hash"`
	TemplateScore  float64               `json:"template_score"`
	LeadScore      float64               `json:"lead_score"`
	TimingScore    float64               `json:"timing_score"`
	ContentScore   float64               `json:"content_score"`
	RiskScore      float64               `json:"risk_score"`
	OverallScore   float64               `json:"overall_score"`
	Confidence     float64               `json:"confidence"`
	Recommendation domain.Recommendation `json:"recommendation"`
	Reasoning      []string              `json:"reasoning"`
	AnalyzedAt     time.Time             `json:"analyzed_at"`
}

type sendTimeResponse struct {
	SendAt       time.Time   `json:"send_at"`
	Confidence   float64     `json:"confidence"`
	Reasoning    []string    `json:"reasoning"`
	Alternatives []time.Time `json:"alternatives"`
}

type feedbackRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes"`
}

func (h *HandlerSet) enqueueMessage(ctx *fiber.Ctx) error {
	var req enqueueMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	leadID, err := parseUUID(req.LeadID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}
	if strings.TrimSpace(req.Body) == "" {
		return fiber.NewError(http.StatusBadRequest, "message body is required")
	}

	urgency := domain.UrgencyMedium
	switch domain.UrgencyTier(req.Urgency) {
	case domain.UrgencyLow, domain.UrgencyMedium, domain.UrgencyHigh:
		urgency = domain.UrgencyTier(req.Urgency)
	case "":
	default:
		return fiber.NewError(http.StatusBadRequest, "urgency must be low, medium or high")
	}

	now := time.Now().UTC()
	msg := &domain.QueuedMessage{
		ID:           uuid.New(),
		LeadID:       leadID,
		Body:         req.Body,
		Urgency:      urgency,
		Status:       domain.MessageStatusPending,
		ScheduledFor: req.ScheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.messages.Insert(ctx.Context(), msg); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toMessageResponse(msg))
}

func (h *HandlerSet) getMessage(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid message id")
	}

	msg, err := h.messages.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toMessageResponse(msg))
}

func (h *HandlerSet) analyzeMessage(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid message id")
	}

	msg, err := h.messages.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	analysis, err := h.scorer.Analyze(ctx.Context(), msg.ID, msg.Body, msg.LeadID, msg.Urgency)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toAnalysisResponse(analysis))
}

func (h *HandlerSet) getAnalysis(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid message id")
	}

	analysis, err := h.analyses.GetByMessage(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toAnalysisResponse(analysis))
}

func (h *HandlerSet) recommendSendTime(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid message id")
	}

	msg, err := h.messages.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	rec := h.optimizer.OptimalSendTime(ctx.Context(), msg)

	return ctx.Status(http.StatusOK).JSON(sendTimeResponse{
		SendAt:       rec.SendAt,
		Confidence:   rec.Confidence,
		Reasoning:    rec.Reasoning,
		Alternatives: rec.Alternatives,
	})
}

func (h *HandlerSet) recordFeedback(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid message id")
	}

	var req feedbackRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.learner.LearnFromFeedback(ctx.Context(), id, req.Approved, req.Notes); err != nil {
		return translateError(err)
	}

	return ctx.SendStatus(http.StatusNoContent)
}

func toMessageResponse(msg *domain.QueuedMessage) messageResponse {
	return messageResponse{
		ID:           msg.ID,
		LeadID:       msg.LeadID,
		Body:         msg.Body,
		Urgency:      msg.Urgency,
		Priority:     msg.Priority,
		Status:       msg.Status,
		ScheduledFor: msg.ScheduledFor,
		Approved:     msg.Approved,
		SentAt:       msg.SentAt,
		CreatedAt:    msg.CreatedAt,
		UpdatedAt:    msg.UpdatedAt,
	}
}

func toAnalysisResponse(analysis *domain.MessageAnalysis) analysisResponse {
	return analysisResponse{
		ID:             analysis.ID,
		MessageID:      analysis.MessageID,
		LeadID:         analysis.LeadID,
		TemplateHash:   analysis.TemplateHash,
		TemplateScore:  analysis.TemplateScore,
		LeadScore:      analysis.LeadScore,
		TimingScore:    analysis.TimingScore,
		ContentScore:   analysis.ContentScore,
		RiskScore:      analysis.RiskScore,
		OverallScore:   analysis.OverallScore,
		Confidence:     analysis.Confidence,
		Recommendation: analysis.Recommendation,
		Reasoning:      analysis.Reasoning,
		AnalyzedAt:     analysis.AnalyzedAt,
	}
}
