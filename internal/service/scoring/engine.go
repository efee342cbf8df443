package scoring

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
	"github.com/acme/outbound-message-automation/internal/service/prediction"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// Engine produces a multi-factor approval analysis for candidate messages.
type Engine struct {
	cfg      config.ScoringConfig
	profiles *prediction.ProfileStore
	leads    repository.LeadRepository
	events   repository.EventStore
	analyses repository.AnalysisRepository
	cache    *AnalysisCache
	logger   *logger.Logger
	now      func() time.Time
}

// NewEngine constructs a scoring engine.
func NewEngine(
	cfg config.ScoringConfig,
	profiles *prediction.ProfileStore,
	leads repository.LeadRepository,
	events repository.EventStore,
	analyses repository.AnalysisRepository,
	analysisCache *AnalysisCache,
	lg *logger.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		profiles: profiles,
		leads:    leads,
		events:   events,
		analyses: analyses,
		cache:    analysisCache,
		logger:   lg,
		now:      time.Now,
	}
}

// Analyze scores a candidate message and persists the result for audit.
// Identical inputs against unchanged profiles return the cached analysis.
func (e *Engine) Analyze(ctx context.Context, messageID uuid.UUID, body string, leadID uuid.UUID, urgency domain.UrgencyTier) (*domain.MessageAnalysis, error) {
	templateHash := domain.TemplateHash(body)

	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, templateHash, leadID); err == nil && cached != nil {
			cached.MessageID = messageID
			return cached, nil
		}
	}

	analysis := e.score(ctx, messageID, body, leadID, urgency, templateHash)

	if err := e.analyses.Insert(ctx, analysis); err != nil {
		return nil, fmt.Errorf("scoring: persist analysis: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, templateHash, leadID, analysis); err != nil {
			e.logger.Warn("scoring: analysis cache write failed", zap.Error(err))
		}
	}

	return analysis, nil
}

func (e *Engine) score(ctx context.Context, messageID uuid.UUID, body string, leadID uuid.UUID, urgency domain.UrgencyTier, templateHash string) *domain.MessageAnalysis {
	now := e.now()
	var reasoning []string

	lead, err := e.leads.Get(ctx, leadID)
	if err != nil {
		// Unknown lead degrades to neutral attributes, reported in reasoning.
		lead = &domain.Lead{ID: leadID}
		reasoning = append(reasoning, "lead attributes unavailable, using neutral defaults")
	}

	profile, profileKnown := e.profiles.LeadProfile(ctx, leadID)
	template, matchKind := e.profiles.MatchTemplate(ctx, body)

	conversation, err := e.leads.ListConversation(ctx, leadID, 50)
	if err != nil {
		conversation = nil
	}

	recentOutbound, err := e.leads.CountOutboundSince(ctx, leadID, now.Add(-24*time.Hour))
	if err != nil {
		recentOutbound = 0
	}

	templateScore, templateReasons := e.templateScore(ctx, template, matchKind)
	leadScore, leadReasons := e.leadScore(body, lead, profile, len(conversation))
	timingScore, timingReasons := e.timingScore(now, urgency, recentOutbound)
	contentScore, contentReasons := e.contentScore(body, lead)
	riskScore, riskReasons := e.riskScore(body, lead, profile, recentOutbound)

	reasoning = append(reasoning, templateReasons...)
	reasoning = append(reasoning, leadReasons...)
	reasoning = append(reasoning, timingReasons...)
	reasoning = append(reasoning, contentReasons...)
	reasoning = append(reasoning, riskReasons...)

	overall := clamp(e.cfg.TemplateWeight*templateScore +
		e.cfg.LeadWeight*leadScore +
		e.cfg.ContentWeight*contentScore +
		e.cfg.TimingWeight*timingScore +
		e.cfg.RiskWeight*(100-riskScore))

	confidence := e.confidence(ctx, leadID, matchKind, len(conversation), profileKnown)
	recommendation := e.recommend(overall, confidence, riskScore)

	return &domain.MessageAnalysis{
		ID:             uuid.New(),
		MessageID:      messageID,
		LeadID:         leadID,
		TemplateHash:   templateHash,
		TemplateScore:  templateScore,
		LeadScore:      leadScore,
		TimingScore:    timingScore,
		ContentScore:   contentScore,
		RiskScore:      riskScore,
		OverallScore:   overall,
		Confidence:     confidence,
		Recommendation: recommendation,
		Reasoning:      reasoning,
		AnalyzedAt:     now,
	}
}

func (e *Engine) templateScore(ctx context.Context, template *domain.TemplatePerformanceProfile, matchKind string) (float64, []string) {
	if template != nil {
		score := clamp(template.ResponseRate*150 + template.ConversionRate*100)
		if template.UsageCount < 5 {
			// Thin data: pull toward neutral.
			score = (score + baseScore) / 2
		}
		return score, []string{fmt.Sprintf("template %s match, response rate %.0f%%", matchKind, template.ResponseRate*100)}
	}

	if mean, ok := e.profiles.TopTemplateMean(ctx); ok {
		return clamp(mean * 150), []string{"no template match, using top performer average"}
	}

	return baseScore, []string{"no template data, neutral score"}
}

func (e *Engine) leadScore(body string, lead *domain.Lead, profile *domain.LeadEngagementProfile, conversationDepth int) (float64, []string) {
	score := baseScore
	var reasons []string

	stage := strings.ToLower(lead.Stage)
	switch {
	case hotStages[stage]:
		score += hotStageBonus
		reasons = append(reasons, "lead in buying stage")
	case warmStages[stage]:
		score += warmStageBonus
	case coldStages[stage]:
		score -= coldStagePenalty
		reasons = append(reasons, "lead in cold stage")
	}

	if lead.VehicleInterest != "" && strings.Contains(strings.ToLower(body), strings.ToLower(lead.VehicleInterest)) {
		score += interestMatchBonus
		reasons = append(reasons, "message references stated vehicle interest")
	}

	switch {
	case profile.ResponseRate >= 0.7:
		score += highResponseBonus
		reasons = append(reasons, "lead responds reliably")
	case profile.ResponseRate >= 0.4:
		score += midResponseBonus
	case profile.ResponseRate > 0:
		score += lowResponseBonus
	case profile.TotalInteractions > 0:
		score -= unresponsivePenalty
		reasons = append(reasons, "lead has never responded")
	}

	switch profile.Pattern {
	case domain.EngagementHigh:
		score += hotEngagementBonus
	case domain.EngagementMedium:
		score += warmEngagementBonus
	case domain.EngagementLow:
		score -= coldEngagementPenalty
	}

	switch {
	case conversationDepth >= 10:
		score += deepHistoryBonus
	case conversationDepth >= 3:
		score += someHistoryBonus
	case conversationDepth == 0:
		score -= noHistoryPenalty
		reasons = append(reasons, "no conversation history with this lead")
	}

	return clamp(score), reasons
}

func (e *Engine) timingScore(now time.Time, urgency domain.UrgencyTier, recentOutbound int) (float64, []string) {
	score := baseScore
	var reasons []string

	hour := now.Hour()
	if hour >= 9 && hour < 17 {
		score += businessHoursBonus
		reasons = append(reasons, "within business hours")
	}

	weekday := now.Weekday()
	if weekday >= time.Monday && weekday <= time.Friday {
		score += weekdayBonus
	}

	if urgency == domain.UrgencyHigh {
		score += highUrgencyBonus
		reasons = append(reasons, "high urgency message")
	}

	if recentOutbound > 1 {
		penalty := frequencyPenalty * float64(recentOutbound-1)
		score -= penalty
		reasons = append(reasons, fmt.Sprintf("%d messages already sent in last 24h", recentOutbound))
	}

	return clamp(score), reasons
}

func (e *Engine) contentScore(body string, lead *domain.Lead) (float64, []string) {
	score := baseScore
	var reasons []string
	lower := strings.ToLower(body)
	wordCount := len(strings.Fields(body))

	switch {
	case wordCount >= minGoodWords && wordCount <= maxGoodWords:
		score += goodLengthBonus
	case wordCount < minGoodWords:
		score -= tooShortPenalty
		reasons = append(reasons, "message too brief")
	case wordCount <= maxTolerableWords:
		score -= slightlyLongPenalty
	default:
		score -= tooLongPenalty
		reasons = append(reasons, "message too long")
	}

	if lead.FirstName != "" && strings.Contains(lower, strings.ToLower(lead.FirstName)) {
		score += firstNameBonus
		reasons = append(reasons, "personalized with lead's name")
	}
	if lead.VehicleInterest != "" && strings.Contains(lower, strings.ToLower(lead.VehicleInterest)) {
		score += interestRefBonus
	}

	if strings.Contains(body, "?") {
		score += questionBonus
	}

	for _, word := range courtesyWords {
		if strings.Contains(lower, word) {
			score += courtesyBonus
			break
		}
	}

	var pressure float64
	for _, phrase := range pressurePhrases {
		if strings.Contains(lower, phrase) {
			pressure += pressurePenalty
			reasons = append(reasons, "pressure language: "+phrase)
		}
	}
	if pressure > pressurePenaltyCap {
		pressure = pressurePenaltyCap
	}
	score -= pressure

	return clamp(score), reasons
}

func (e *Engine) riskScore(body string, lead *domain.Lead, profile *domain.LeadEngagementProfile, recentOutbound int) (float64, []string) {
	var score float64
	var reasons []string
	lower := strings.ToLower(body)

	var compliance float64
	for _, phrase := range compliancePhrases {
		if strings.Contains(lower, phrase) {
			compliance += compliancePenalty
			reasons = append(reasons, "compliance-sensitive phrase: "+phrase)
		}
	}
	if compliance > compliancePenaltyCap {
		compliance = compliancePenaltyCap
	}
	score += compliance

	if profile.TotalInteractions >= 10 && profile.ResponseRate < 0.1 {
		score += harassmentRisk
		reasons = append(reasons, "high volume with low response rate")
	}

	if recentOutbound > 1 {
		frequency := frequencyRisk * float64(recentOutbound-1)
		if frequency > frequencyRiskCap {
			frequency = frequencyRiskCap
		}
		score += frequency
		reasons = append(reasons, "repeated contact within 24h")
	}

	personalized := (lead.FirstName != "" && strings.Contains(lower, strings.ToLower(lead.FirstName))) ||
		(lead.VehicleInterest != "" && strings.Contains(lower, strings.ToLower(lead.VehicleInterest)))
	if !personalized && len(strings.Fields(body)) < 12 {
		score += genericContentRisk
		reasons = append(reasons, "generic content")
	}

	return clamp(score), reasons
}

// confidence reflects data availability, deliberately independent of how well
// the message scored.
func (e *Engine) confidence(ctx context.Context, leadID uuid.UUID, matchKind string, conversationDepth int, profileKnown bool) float64 {
	confidence := confidenceBase

	switch matchKind {
	case "exact":
		confidence += templateExactConfidence
	case "fuzzy":
		confidence += templateFuzzyConfidence
	}

	switch {
	case conversationDepth >= 5:
		confidence += deepConversationConfidence
	case conversationDepth >= 1:
		confidence += someConversationConfidence
	}

	if profileKnown {
		feedbackCount, err := e.events.CountByLead(ctx, leadID)
		if err == nil {
			switch {
			case feedbackCount >= 10:
				confidence += richFeedbackConfidence
			case feedbackCount > 0:
				confidence += feedbackConfidence
			}
		}
	}

	return clamp(confidence)
}

// recommend applies the decision rules in priority order. The risk gate comes
// first: risky messages never auto-approve no matter how well they scored.
func (e *Engine) recommend(overall, confidence, risk float64) domain.Recommendation {
	if risk > e.cfg.RiskReviewThreshold {
		return domain.RecommendReviewRequired
	}
	if overall >= e.cfg.AutoApproveScore && confidence >= e.cfg.AutoApproveConfidence {
		return domain.RecommendAutoApprove
	}
	if overall >= e.cfg.ReviewScore && confidence >= e.cfg.ReviewConfidence {
		return domain.RecommendReviewRequired
	}
	if overall < e.cfg.EnhanceScore {
		if confidence > e.cfg.EnhanceConfidence {
			return domain.RecommendEnhance
		}
		return domain.RecommendReject
	}
	return domain.RecommendReviewRequired
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
