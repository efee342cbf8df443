package learning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/domain"
)

const (
	recentEventScan   = 500
	quickResponseGap  = time.Hour
	reEngagementGap   = 48 * time.Hour
	trajectoryWindow  = 14 * 24 * time.Hour
	momentumSlack     = 1.25
)

// RecognizePatterns groups recent successful outcomes into coarse trajectory
// types and regenerates one stored pattern per type that has enough examples.
// Regeneration supersedes the previous pattern of the same type.
func (e *Engine) RecognizePatterns(ctx context.Context) ([]*domain.ConversationPattern, error) {
	since := e.now().Add(-e.cfg.RecentOutcomeWindow)
	events, err := e.events.ListRecent(ctx, since, recentEventScan)
	if err != nil {
		return nil, fmt.Errorf("learning: list recent events: %w", err)
	}

	groups := map[domain.PatternType][]domain.LearningEvent{}
	successes := 0
	for _, event := range events {
		switch event.Type {
		case domain.EventConversion:
			groups[domain.PatternConversion] = append(groups[domain.PatternConversion], event)
			successes++
		case domain.EventResponseReceived, domain.EventPositiveEngagement:
			successes++
			if event.ResponseTime > 0 && event.ResponseTime <= quickResponseGap {
				groups[domain.PatternQuickEngagement] = append(groups[domain.PatternQuickEngagement], event)
			} else if event.ResponseTime >= reEngagementGap {
				groups[domain.PatternReEngagement] = append(groups[domain.PatternReEngagement], event)
			}
		}
	}

	var patterns []*domain.ConversationPattern
	for patternType, group := range groups {
		if len(group) < e.cfg.MinPatternExamples {
			continue
		}

		pattern := e.buildPattern(patternType, group, len(events))
		if err := e.repo.ReplacePattern(ctx, pattern); err != nil {
			e.logger.Warn("learning: pattern replace failed",
				zap.String("type", string(patternType)), zap.Error(err))
			continue
		}
		patterns = append(patterns, pattern)
	}

	e.logger.Info("learning: pattern recognition complete",
		zap.Int("events", len(events)), zap.Int("successes", successes),
		zap.Int("patterns", len(patterns)))
	return patterns, nil
}

func (e *Engine) buildPattern(patternType domain.PatternType, group []domain.LearningEvent, total int) *domain.ConversationPattern {
	var totalTime time.Duration
	hourCounts := map[int]int{}
	stageCounts := map[string]int{}
	for _, event := range group {
		totalTime += event.ResponseTime
		hourCounts[event.SentHour]++
		if event.LeadStage != "" {
			stageCounts[event.LeadStage]++
		}
	}

	pattern := &domain.ConversationPattern{
		ID:               uuid.New(),
		Type:             patternType,
		SuccessRate:      float64(len(group)) / float64(total),
		AvgTimeToOutcome: totalTime / time.Duration(len(group)),
		SampleCount:      len(group),
		GeneratedAt:      e.now(),
	}

	if hour, ok := dominantKey(hourCounts); ok {
		pattern.TriggerConditions = append(pattern.TriggerConditions, fmt.Sprintf("sent around hour %d", hour))
	}
	if stage, ok := dominantKey(stageCounts); ok {
		pattern.TriggerConditions = append(pattern.TriggerConditions, fmt.Sprintf("lead in stage %q", stage))
	}

	switch patternType {
	case domain.PatternQuickEngagement:
		pattern.RecommendedActions = []string{"reply promptly while the lead is active", "offer a concrete next step"}
	case domain.PatternConversion:
		pattern.RecommendedActions = []string{"reference the lead's stated interest", "propose a visit or call"}
	case domain.PatternReEngagement:
		pattern.RecommendedActions = []string{"acknowledge the gap since last contact", "lead with new information"}
	}

	return pattern
}

// PredictOutcome classifies an in-progress conversation's trajectory and
// momentum and matches it against stored patterns. It degrades to a generic
// low-confidence prediction rather than failing.
func (e *Engine) PredictOutcome(ctx context.Context, leadID uuid.UUID) (*domain.PredictedOutcome, error) {
	history, err := e.leads.ListConversation(ctx, leadID, 50)
	if err != nil || len(history) < 2 {
		return fallbackPrediction(leadID), nil
	}

	now := e.now()
	trajectory := classifyTrajectory(history, now)
	momentum := classifyMomentum(history)

	predicted := &domain.PredictedOutcome{
		LeadID:     leadID,
		Trajectory: trajectory,
		Momentum:   momentum,
	}

	switch trajectory {
	case domain.TrajectoryPositive:
		predicted.Outcome = "continued_engagement"
		predicted.Confidence = 60
		predicted.ContributingFactors = append(predicted.ContributingFactors, "lead replying to recent messages")
	case domain.TrajectoryDeclining:
		predicted.Outcome = "disengagement_risk"
		predicted.Confidence = 55
		predicted.RiskFactors = append(predicted.RiskFactors, "no inbound message in the recent window")
	default:
		predicted.Outcome = "uncertain"
		predicted.Confidence = 35
	}

	switch momentum {
	case domain.MomentumIncreasing:
		predicted.Confidence += 10
		predicted.ContributingFactors = append(predicted.ContributingFactors, "replies arriving faster than before")
	case domain.MomentumDecreasing:
		predicted.Confidence -= 10
		predicted.RiskFactors = append(predicted.RiskFactors, "replies slowing down")
	}

	if trajectory == domain.TrajectoryPositive {
		if pattern := e.matchPattern(ctx, momentum); pattern != nil {
			predicted.Outcome = string(pattern.Type)
			predicted.Confidence = clampScore(predicted.Confidence + pattern.SuccessRate*30)
			predicted.EstimatedTime = pattern.AvgTimeToOutcome
			predicted.RecommendedActions = pattern.RecommendedActions
			predicted.ContributingFactors = append(predicted.ContributingFactors,
				fmt.Sprintf("matches stored %s pattern (%d samples)", pattern.Type, pattern.SampleCount))
		}
	}

	if len(predicted.RecommendedActions) == 0 {
		predicted.RecommendedActions = genericActions(trajectory)
	}
	predicted.Confidence = clampScore(predicted.Confidence)

	return predicted, nil
}

// matchPattern picks the stored pattern that best fits a positive trajectory.
func (e *Engine) matchPattern(ctx context.Context, momentum domain.Momentum) *domain.ConversationPattern {
	patterns, err := e.repo.ListPatterns(ctx)
	if err != nil || len(patterns) == 0 {
		return nil
	}

	want := domain.PatternQuickEngagement
	if momentum == domain.MomentumIncreasing {
		want = domain.PatternConversion
	}

	var fallback *domain.ConversationPattern
	for _, pattern := range patterns {
		if pattern.Type == want {
			return pattern
		}
		if fallback == nil || pattern.SuccessRate > fallback.SuccessRate {
			fallback = pattern
		}
	}
	return fallback
}

// classifyTrajectory looks at who spoke last and how recently the lead
// engaged within the trailing window.
func classifyTrajectory(history []domain.ConversationMessage, now time.Time) domain.Trajectory {
	ordered := chronological(history)

	var lastInbound *time.Time
	inboundInWindow := 0
	outboundInWindow := 0
	for _, msg := range ordered {
		if msg.Direction == domain.DirectionInbound {
			t := msg.SentAt
			lastInbound = &t
			if now.Sub(msg.SentAt) <= trajectoryWindow {
				inboundInWindow++
			}
		} else if now.Sub(msg.SentAt) <= trajectoryWindow {
			outboundInWindow++
		}
	}

	switch {
	case lastInbound == nil:
		return domain.TrajectoryDeclining
	case inboundInWindow == 0 && outboundInWindow > 0:
		return domain.TrajectoryDeclining
	case ordered[len(ordered)-1].Direction == domain.DirectionInbound:
		return domain.TrajectoryPositive
	case inboundInWindow >= outboundInWindow && inboundInWindow > 0:
		return domain.TrajectoryPositive
	default:
		return domain.TrajectoryNeutral
	}
}

// classifyMomentum compares the pacing of the last four customer messages
// against the four before them.
func classifyMomentum(history []domain.ConversationMessage) domain.Momentum {
	ordered := chronological(history)

	var inbound []time.Time
	for _, msg := range ordered {
		if msg.Direction == domain.DirectionInbound {
			inbound = append(inbound, msg.SentAt)
		}
	}
	if len(inbound) < 4 {
		return domain.MomentumStable
	}

	recent := inbound[len(inbound)-4:]
	priorEnd := len(inbound) - 4
	priorStart := priorEnd - 4
	if priorStart < 0 {
		priorStart = 0
	}
	prior := inbound[priorStart:priorEnd]
	if len(prior) < 2 {
		return domain.MomentumStable
	}

	recentGap := meanGap(recent)
	priorGap := meanGap(prior)
	if recentGap == 0 || priorGap == 0 {
		return domain.MomentumStable
	}

	switch {
	case float64(priorGap) > float64(recentGap)*momentumSlack:
		return domain.MomentumIncreasing
	case float64(recentGap) > float64(priorGap)*momentumSlack:
		return domain.MomentumDecreasing
	default:
		return domain.MomentumStable
	}
}

func meanGap(times []time.Time) time.Duration {
	if len(times) < 2 {
		return 0
	}
	var total time.Duration
	for i := 1; i < len(times); i++ {
		total += times[i].Sub(times[i-1])
	}
	return total / time.Duration(len(times)-1)
}

func chronological(history []domain.ConversationMessage) []domain.ConversationMessage {
	ordered := make([]domain.ConversationMessage, len(history))
	copy(ordered, history)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SentAt.Before(ordered[j].SentAt) })
	return ordered
}

func fallbackPrediction(leadID uuid.UUID) *domain.PredictedOutcome {
	return &domain.PredictedOutcome{
		LeadID:             leadID,
		Outcome:            "insufficient_data",
		Confidence:         20,
		Trajectory:         domain.TrajectoryNeutral,
		Momentum:           domain.MomentumStable,
		RecommendedActions: []string{"gather more interaction history before drawing conclusions"},
	}
}

func genericActions(trajectory domain.Trajectory) []string {
	switch trajectory {
	case domain.TrajectoryPositive:
		return []string{"keep the current cadence", "move toward a concrete commitment"}
	case domain.TrajectoryDeclining:
		return []string{"slow the cadence", "try a different template or channel"}
	default:
		return []string{"send one low-pressure check-in"}
	}
}

func dominantKey[K comparable](counts map[K]int) (K, bool) {
	var best K
	bestCount := 0
	for key, count := range counts {
		if count > bestCount {
			best = key
			bestCount = count
		}
	}
	return best, bestCount > 0
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
