package prediction

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// Default estimates used when neither the lead nor the template has history.
const (
	defaultResponseRate   = 0.10
	defaultResponseTime   = 24 * time.Hour
	defaultConversionProb = 0.02
)

// Engine predicts how a candidate message is likely to perform. It never
// fails outright: missing data degrades to conservative defaults with low
// reported confidence.
type Engine struct {
	cfg      config.PredictionConfig
	profiles *ProfileStore
	logger   *logger.Logger
	now      func() time.Time
}

// NewEngine constructs a prediction engine over the shared profile store.
func NewEngine(cfg config.PredictionConfig, profiles *ProfileStore, lg *logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		profiles: profiles,
		logger:   lg,
		now:      time.Now,
	}
}

// WithClock overrides the engine's time source for deterministic scheduling.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Predict estimates response rate, response time, conversion probability and
// the best send moment for one message.
func (e *Engine) Predict(ctx context.Context, body string, leadID uuid.UUID, urgency domain.UrgencyTier) *domain.PerformancePrediction {
	now := e.now()

	lead, leadKnown := e.profiles.LeadProfile(ctx, leadID)
	template, matchKind := e.profiles.MatchTemplate(ctx, body)

	prediction := &domain.PerformancePrediction{
		ResponseRate:          defaultResponseRate,
		ResponseTime:          defaultResponseTime,
		ConversionProbability: defaultConversionProb,
	}

	var factors []string

	// Blend the lead's own history with the template's global rates.
	switch {
	case leadKnown && template != nil:
		prediction.ResponseRate = 0.6*lead.ResponseRate + 0.4*template.ResponseRate
		prediction.ConversionProbability = template.ConversionRate
		factors = append(factors, "lead history", "template performance ("+matchKind+" match)")
	case leadKnown:
		prediction.ResponseRate = lead.ResponseRate
		factors = append(factors, "lead history only")
	case template != nil:
		prediction.ResponseRate = template.ResponseRate
		prediction.ConversionProbability = template.ConversionRate
		factors = append(factors, "template performance only ("+matchKind+" match)")
	default:
		factors = append(factors, "no historical data, conservative defaults")
	}

	if leadKnown && lead.AvgResponseTime > 0 {
		prediction.ResponseTime = lead.AvgResponseTime
		if template != nil && template.AvgResponseTime > 0 {
			prediction.ResponseTime = (lead.AvgResponseTime + template.AvgResponseTime) / 2
		}
	} else if template != nil && template.AvgResponseTime > 0 {
		prediction.ResponseTime = template.AvgResponseTime
	}

	// Multiplicative adjustments, clamped at the end.
	switch lead.Pattern {
	case domain.EngagementHigh:
		prediction.ResponseRate *= 1.2
		prediction.ConversionProbability *= 1.2
		factors = append(factors, "high engagement pattern")
	case domain.EngagementLow:
		prediction.ResponseRate *= 0.8
		factors = append(factors, "low engagement pattern")
	}

	switch urgency {
	case domain.UrgencyHigh:
		prediction.ResponseRate *= 1.1
	case domain.UrgencyLow:
		prediction.ResponseRate *= 0.95
	}

	if template != nil && template.InOptimalHour(now) {
		prediction.ResponseRate *= 1.15
		factors = append(factors, "current hour in template optimal window")
	}

	if lead.LastEngagementAt != nil {
		since := now.Sub(*lead.LastEngagementAt)
		switch {
		case since < 48*time.Hour:
			prediction.ResponseRate *= 1.1
			factors = append(factors, "recent engagement")
		case since > 30*24*time.Hour:
			prediction.ResponseRate *= 0.85
			factors = append(factors, "dormant lead")
		}
	}

	if len(lead.ConversionIndicators) > 0 {
		prediction.ConversionProbability *= 1.1 + 0.05*float64(len(lead.ConversionIndicators))
		factors = append(factors, "conversion indicators present")
	}

	prediction.ResponseRate = clampRate(prediction.ResponseRate)
	prediction.ConversionProbability = clampRate(prediction.ConversionProbability)
	if prediction.ResponseTime < time.Minute {
		prediction.ResponseTime = time.Minute
	}

	prediction.OptimalSendTime = e.optimalHourAfter(now, lead, template)
	prediction.Confidence = e.confidence(leadKnown, lead, template, matchKind)
	prediction.Factors = factors
	prediction.Recommendations = recommendations(prediction, lead)

	return prediction
}

// CacheSizes reports profile cache entry counts.
func (e *Engine) CacheSizes() (leads int, templates int) {
	return e.profiles.CacheSizes()
}

// Refresh triggers a bounded profile rebuild if the validity window passed.
func (e *Engine) Refresh(ctx context.Context) {
	e.profiles.Refresh(ctx)
}

func (e *Engine) optimalHourAfter(now time.Time, lead *domain.LeadEngagementProfile, template *domain.TemplatePerformanceProfile) time.Time {
	hours := lead.PreferredHours
	if template != nil && len(template.OptimalHours) > 0 {
		hours = template.OptimalHours
	}
	if len(hours) == 0 {
		hours = []int{10, 14, 17}
	}

	return nextHourOccurrence(now, hours)
}

func (e *Engine) confidence(leadKnown bool, lead *domain.LeadEngagementProfile, template *domain.TemplatePerformanceProfile, matchKind string) float64 {
	confidence := 20.0
	if leadKnown {
		confidence += 25
		if lead.TotalInteractions >= 10 {
			confidence += 10
		}
	}
	if template != nil {
		confidence += 25
		if matchKind == "exact" {
			confidence += 10
		}
		if template.UsageCount >= 20 {
			confidence += 10
		}
	}
	return clampScore(confidence)
}

func recommendations(prediction *domain.PerformancePrediction, lead *domain.LeadEngagementProfile) []string {
	var recs []string
	if prediction.ResponseRate < 0.15 {
		recs = append(recs, "consider a different template for this lead")
	}
	if lead.Pattern == domain.EngagementLow {
		recs = append(recs, "low engagement lead: space out messages")
	}
	if len(lead.ConversionIndicators) > 0 {
		recs = append(recs, "lead showed buying signals: reference their interest directly")
	}
	return recs
}

// nextHourOccurrence returns the next time whose hour is one of hours,
// strictly in the future relative to now.
func nextHourOccurrence(now time.Time, hours []int) time.Time {
	best := time.Time{}
	for _, h := range hours {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if best.IsZero() {
		return now.Add(2 * time.Hour)
	}
	return best
}

func clampRate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
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
