package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/outbound-message-automation/internal/domain"
)

type predictionRequest struct {
	LeadID  string `json:"lead_id"`
	Body    string `json:"body"`
	Urgency string `json:"urgency"`
}

type predictionResponse struct {
	ResponseRate          float64   `json:"response_rate"`
	ResponseTimeMs        int64     `json:"response_time_ms"`
	ConversionProbability float64   `json:"conversion_probability"`
	OptimalSendTime       time.Time `json:"optimal_send_time"`
	Confidence            float64   `json:"confidence"`
	Factors               []string  `json:"factors"`
	Recommendations       []string  `json:"recommendations"`
}

type adjustmentResponse struct {
	MessageID    uuid.UUID           `json:"message_id"`
	CurrentTime  time.Time           `json:"current_time"`
	ProposedTime time.Time           `json:"proposed_time"`
	Improvement  float64             `json:"improvement"`
	Risk         domain.ScheduleRisk `json:"risk"`
	Applied      bool                `json:"applied"`
}

type patternResponse struct {
	ID                 uuid.UUID          `json:"id"`
	Type               domain.PatternType `json:"type"`
	TriggerConditions  []string           `json:"trigger_conditions"`
	SuccessRate        float64            `json:"success_rate"`
	AvgTimeToOutcomeMs int64              `json:"avg_time_to_outcome_ms"`
	RecommendedActions []string           `json:"recommended_actions"`
	SampleCount        int                `json:"sample_count"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

type insightResponse struct {
	ID        uuid.UUID          `json:"id"`
	LeadID    uuid.UUID          `json:"lead_id"`
	MessageID *uuid.UUID         `json:"message_id,omitempty"`
	Type      domain.InsightType `json:"type"`
	Findings  []string           `json:"findings"`
	CreatedAt time.Time          `json:"created_at"`
}

type outcomeResponse struct {
	LeadID              uuid.UUID         `json:"lead_id"`
	Outcome             string            `json:"outcome"`
	Confidence          float64           `json:"confidence"`
	EstimatedTimeMs     int64             `json:"estimated_time_ms"`
	Trajectory          domain.Trajectory `json:"trajectory"`
	Momentum            domain.Momentum   `json:"momentum"`
	ContributingFactors []string          `json:"contributing_factors"`
	RecommendedActions  []string          `json:"recommended_actions"`
	RiskFactors         []string          `json:"risk_factors"`
}

type variantResponse struct {
	ID                   uuid.UUID `json:"id"`
	ParentHash           string    `json:"parent_hash"`
	Body                 string    `json:"body"`
	Mutation             string    `json:"mutation"`
	EstimatedImprovement float64   `json:"estimated_improvement"`
	Reason               string    `json:"reason"`
	CreatedAt            time.Time `json:"created_at"`
}

func (h *HandlerSet) predictPerformance(ctx *fiber.Ctx) error {
	var req predictionRequest
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
	if req.Urgency != "" {
		urgency = domain.UrgencyTier(req.Urgency)
	}

	prediction := h.predictor.Predict(ctx.Context(), req.Body, leadID, urgency)

	return ctx.Status(http.StatusOK).JSON(predictionResponse{
		ResponseRate:          prediction.ResponseRate,
		ResponseTimeMs:        prediction.ResponseTime.Milliseconds(),
		ConversionProbability: prediction.ConversionProbability,
		OptimalSendTime:       prediction.OptimalSendTime,
		Confidence:            prediction.Confidence,
		Factors:               prediction.Factors,
		Recommendations:       prediction.Recommendations,
	})
}

func (h *HandlerSet) optimizeSchedules(ctx *fiber.Ctx) error {
	adjustments, err := h.optimizer.OptimizeExistingSchedules(ctx.Context())
	if err != nil {
		return translateError(err)
	}

	resp := make([]adjustmentResponse, 0, len(adjustments))
	for _, adj := range adjustments {
		resp = append(resp, adjustmentResponse{
			MessageID:    adj.MessageID,
			CurrentTime:  adj.CurrentTime,
			ProposedTime: adj.ProposedTime,
			Improvement:  adj.Improvement,
			Risk:         adj.Risk,
			Applied:      adj.Applied,
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"adjustments": resp})
}

func (h *HandlerSet) listPatterns(ctx *fiber.Ctx) error {
	patterns, err := h.insights.ListPatterns(ctx.Context())
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"patterns": toPatternResponses(patterns)})
}

func (h *HandlerSet) recognizePatterns(ctx *fiber.Ctx) error {
	patterns, err := h.learner.RecognizePatterns(ctx.Context())
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"patterns": toPatternResponses(patterns)})
}

func (h *HandlerSet) listInsights(ctx *fiber.Ctx) error {
	leadID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))

	insights, err := h.insights.ListInsights(ctx.Context(), leadID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]insightResponse, 0, len(insights))
	for _, insight := range insights {
		resp = append(resp, insightResponse{
			ID:        insight.ID,
			LeadID:    insight.LeadID,
			MessageID: insight.MessageID,
			Type:      insight.Type,
			Findings:  insight.Findings,
			CreatedAt: insight.CreatedAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"insights": resp})
}

func (h *HandlerSet) predictOutcome(ctx *fiber.Ctx) error {
	leadID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}

	outcome, err := h.learner.PredictOutcome(ctx.Context(), leadID)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(outcomeResponse{
		LeadID:              outcome.LeadID,
		Outcome:             outcome.Outcome,
		Confidence:          outcome.Confidence,
		EstimatedTimeMs:     outcome.EstimatedTime.Milliseconds(),
		Trajectory:          outcome.Trajectory,
		Momentum:            outcome.Momentum,
		ContributingFactors: outcome.ContributingFactors,
		RecommendedActions:  outcome.RecommendedActions,
		RiskFactors:         outcome.RiskFactors,
	})
}

func (h *HandlerSet) evolveTemplates(ctx *fiber.Ctx) error {
	variants, err := h.learner.EvolveTemplates(ctx.Context())
	if err != nil {
		return translateError(err)
	}

	resp := make([]variantResponse, 0, len(variants))
	for _, v := range variants {
		resp = append(resp, variantResponse{
			ID:                   v.ID,
			ParentHash:           v.ParentHash,
			Body:                 v.Body,
			Mutation:             v.Mutation,
			EstimatedImprovement: v.EstimatedImprovement,
			Reason:               v.Reason,
			CreatedAt:            v.CreatedAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"variants": resp})
}

func toPatternResponses(patterns []*domain.ConversationPattern) []patternResponse {
	resp := make([]patternResponse, 0, len(patterns))
	for _, p := range patterns {
		resp = append(resp, patternResponse{
			ID:                 p.ID,
			Type:               p.Type,
			TriggerConditions:  p.TriggerConditions,
			SuccessRate:        p.SuccessRate,
			AvgTimeToOutcomeMs: p.AvgTimeToOutcome.Milliseconds(),
			RecommendedActions: p.RecommendedActions,
			SampleCount:        p.SampleCount,
			GeneratedAt:        p.GeneratedAt,
		})
	}
	return resp
}
