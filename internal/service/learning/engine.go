package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

const (
	highEngagementScore = 0.7
	lowEngagementScore  = 0.2
	verboseWordCount    = 50
)

var courtesyWords = []string{"please", "thank", "thanks", "appreciate"}

// Engine closes the loop between decisions and real-world outcomes: it
// records delivery outcomes, reacts to human review feedback, evolves
// template variants and recognizes recurring conversation patterns.
type Engine struct {
	cfg       config.LearningConfig
	queue     repository.MessageQueueRepository
	leads     repository.LeadRepository
	analyses  repository.AnalysisRepository
	templates repository.TemplateRepository
	repo      repository.LearningRepository
	events    repository.EventStore
	logger    *logger.Logger
	now       func() time.Time
}

// NewEngine constructs a learning engine.
func NewEngine(
	cfg config.LearningConfig,
	queue repository.MessageQueueRepository,
	leads repository.LeadRepository,
	analyses repository.AnalysisRepository,
	templates repository.TemplateRepository,
	repo repository.LearningRepository,
	events repository.EventStore,
	lg *logger.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		queue:     queue,
		leads:     leads,
		analyses:  analyses,
		templates: templates,
		repo:      repo,
		events:    events,
		logger:    lg,
		now:       time.Now,
	}
}

// Outcome is what the delivery gateway reports back about one sent message.
type Outcome struct {
	LeadID          uuid.UUID
	MessageID       *uuid.UUID
	Responded       bool
	Unsubscribed    bool
	ResponseTime    time.Duration
	EngagementScore float64
	ConversionValue float64
}

// CaptureOutcome appends a learning event with a full context snapshot and
// immediately draws a cheap local insight from it. The snapshot means later
// analysis never has to re-read live lead or message state.
func (e *Engine) CaptureOutcome(ctx context.Context, outcome Outcome) error {
	now := e.now()

	event := &domain.LearningEvent{
		ID:              uuid.New(),
		LeadID:          outcome.LeadID,
		MessageID:       outcome.MessageID,
		Type:            classifyOutcome(outcome),
		ResponseTime:    outcome.ResponseTime,
		EngagementScore: outcome.EngagementScore,
		ConversionValue: outcome.ConversionValue,
		OccurredAt:      now,
	}

	var lead *domain.Lead
	if l, err := e.leads.Get(ctx, outcome.LeadID); err == nil {
		lead = l
		event.LeadStage = l.Stage
	}

	var msg *domain.QueuedMessage
	if outcome.MessageID != nil {
		if m, err := e.queue.Get(ctx, *outcome.MessageID); err == nil {
			msg = m
			event.TemplateHash = domain.TemplateHash(m.Body)
			event.BodyLength = len(m.Body)
			if m.SentAt != nil {
				event.SentAt = *m.SentAt
				event.SentHour = m.SentAt.Hour()
			}
		}
	}

	if err := e.events.Append(ctx, event); err != nil {
		return fmt.Errorf("learning: append event: %w", err)
	}

	insight := e.localInsight(event, msg, lead)
	if insight != nil {
		if err := e.repo.InsertInsight(ctx, insight); err != nil {
			// Insight writes are best-effort; the event itself is the record.
			e.logger.Warn("learning: insight write failed",
				zap.String("lead_id", outcome.LeadID.String()), zap.Error(err))
		}
	}

	return nil
}

// localInsight draws the immediate conclusion from one outcome: reinforce
// what worked, or name the likely reasons a message fell flat.
func (e *Engine) localInsight(event *domain.LearningEvent, msg *domain.QueuedMessage, lead *domain.Lead) *domain.Insight {
	insight := &domain.Insight{
		ID:        uuid.New(),
		LeadID:    event.LeadID,
		MessageID: event.MessageID,
		CreatedAt: event.OccurredAt,
	}

	switch event.Type {
	case domain.EventConversion, domain.EventPositiveEngagement:
		insight.Type = domain.InsightSuccessReinforcement
		insight.Findings = append(insight.Findings,
			fmt.Sprintf("template %s worked for stage %q", event.TemplateHash, event.LeadStage))
		if event.SentHour > 0 {
			insight.Findings = append(insight.Findings, fmt.Sprintf("sent_hour_%d_effective", event.SentHour))
		}
		return insight

	case domain.EventNoResponse:
		insight.Type = domain.InsightFailureAnalysis
		if event.BodyLength > e.cfg.LongBodyThreshold {
			insight.Findings = append(insight.Findings, "message_too_long")
		}
		if msg != nil && msg.SentAt != nil && lead != nil && lead.LastReplyAt != nil {
			if gap := msg.SentAt.Sub(*lead.LastReplyAt); gap >= 0 && gap < e.cfg.TooSoonThreshold {
				insight.Findings = append(insight.Findings, "sent_too_soon")
			}
		}
		if event.SentHour != 0 && (event.SentHour < 9 || event.SentHour >= 17) {
			insight.Findings = append(insight.Findings, "sent_outside_business_hours")
		}
		if len(insight.Findings) == 0 {
			insight.Findings = append(insight.Findings, "no_obvious_cause")
		}
		return insight

	case domain.EventUnsubscribe, domain.EventNegativeEngagement:
		insight.Type = domain.InsightFailureAnalysis
		insight.Findings = append(insight.Findings, "negative_reaction", "suppress_template_for_lead")
		return insight
	}

	return nil
}

// LearnFromFeedback records how a human reviewer disposed of an item the
// pipeline routed to review, comparing their decision with the automated
// recommendation.
func (e *Engine) LearnFromFeedback(ctx context.Context, messageID uuid.UUID, approved bool, notes string) error {
	analysis, err := e.analyses.GetByMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("learning: load analysis: %w", err)
	}

	insight := &domain.Insight{
		ID:        uuid.New(),
		LeadID:    analysis.LeadID,
		MessageID: &messageID,
		Type:      domain.InsightReviewFeedback,
		CreatedAt: e.now(),
	}

	decision := "rejected"
	if approved {
		decision = "approved"
	}
	insight.Findings = append(insight.Findings,
		fmt.Sprintf("recommendation %s, reviewer %s", analysis.Recommendation, decision))

	agreed := (approved && analysis.OverallScore >= 75) || (!approved && analysis.OverallScore < 75)
	if agreed {
		insight.Findings = append(insight.Findings, "scoring_agreed_with_reviewer")
	} else {
		insight.Findings = append(insight.Findings,
			fmt.Sprintf("scoring_disagreed_with_reviewer (overall %.0f)", analysis.OverallScore))
	}
	if notes != "" {
		insight.Findings = append(insight.Findings, "reviewer: "+notes)
	}

	if err := e.repo.InsertInsight(ctx, insight); err != nil {
		return fmt.Errorf("learning: store feedback: %w", err)
	}
	return nil
}

// EvolveTemplates derives testable variants of the templates that are already
// performing well. Variants are registered alongside their parent, never in
// its place.
func (e *Engine) EvolveTemplates(ctx context.Context) ([]*domain.TemplateVariant, error) {
	profiles, err := e.templates.ListProfiles(ctx, e.cfg.MinTemplateUsage)
	if err != nil {
		return nil, fmt.Errorf("learning: list templates: %w", err)
	}

	now := e.now()
	var variants []*domain.TemplateVariant

	for _, profile := range profiles {
		if profile.ResponseRate <= e.cfg.MinTemplateResponseRate {
			continue
		}

		body, err := e.templates.GetBody(ctx, profile.Hash)
		if err != nil {
			e.logger.Warn("learning: template body unavailable",
				zap.String("hash", profile.Hash), zap.Error(err))
			continue
		}

		for _, variant := range mutate(profile.Hash, body, now) {
			if err := e.templates.InsertVariant(ctx, variant); err != nil {
				if err == repository.ErrConflict {
					continue
				}
				e.logger.Warn("learning: variant registration failed",
					zap.String("parent", profile.Hash), zap.Error(err))
				continue
			}
			variants = append(variants, variant)
		}
	}

	e.logger.Info("learning: template evolution complete",
		zap.Int("candidates", len(profiles)), zap.Int("variants", len(variants)))
	return variants, nil
}

// mutate produces the simple textual mutations of one template body.
func mutate(parentHash, body string, now time.Time) []*domain.TemplateVariant {
	var out []*domain.TemplateVariant
	lower := strings.ToLower(body)

	if !strings.Contains(body, "?") {
		out = append(out, &domain.TemplateVariant{
			ID:                   uuid.New(),
			ParentHash:           parentHash,
			Body:                 strings.TrimRight(body, " .!") + ". Would that work for you?",
			Mutation:             "add_question",
			EstimatedImprovement: 8,
			Reason:               "templates ending in a question get more replies",
			CreatedAt:            now,
		})
	}

	if len(strings.Fields(body)) > verboseWordCount {
		out = append(out, &domain.TemplateVariant{
			ID:                   uuid.New(),
			ParentHash:           parentHash,
			Body:                 shorten(body),
			Mutation:             "shorten",
			EstimatedImprovement: 6,
			Reason:               "long bodies depress response rate",
			CreatedAt:            now,
		})
	}

	courteous := false
	for _, word := range courtesyWords {
		if strings.Contains(lower, word) {
			courteous = true
			break
		}
	}
	if !courteous {
		out = append(out, &domain.TemplateVariant{
			ID:                   uuid.New(),
			ParentHash:           parentHash,
			Body:                 "Thanks again for your time! " + body,
			Mutation:             "courtesy_opener",
			EstimatedImprovement: 4,
			Reason:               "courteous phrasing scores higher on content quality",
			CreatedAt:            now,
		})
	}

	return out
}

// shorten keeps the first two sentences of a verbose body.
func shorten(body string) string {
	var sentences []string
	start := 0
	for i, r := range body {
		if r == '.' || r == '!' || r == '?' {
			sentences = append(sentences, strings.TrimSpace(body[start:i+1]))
			start = i + 1
			if len(sentences) == 2 {
				return strings.Join(sentences, " ")
			}
		}
	}
	if rest := strings.TrimSpace(body[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return strings.Join(sentences, " ")
}

func classifyOutcome(outcome Outcome) domain.LearningEventType {
	switch {
	case outcome.Unsubscribed:
		return domain.EventUnsubscribe
	case outcome.ConversionValue > 0:
		return domain.EventConversion
	case outcome.Responded && outcome.EngagementScore >= highEngagementScore:
		return domain.EventPositiveEngagement
	case outcome.Responded && outcome.EngagementScore > 0 && outcome.EngagementScore <= lowEngagementScore:
		return domain.EventNegativeEngagement
	case outcome.Responded:
		return domain.EventResponseReceived
	default:
		return domain.EventNoResponse
	}
}
