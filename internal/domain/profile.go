package domain

import (
	"time"

	"github.com/google/uuid"
)

// EngagementPattern buckets a lead's historical responsiveness.
type EngagementPattern string

const (
	EngagementHigh   EngagementPattern = "high"
	EngagementMedium EngagementPattern = "medium"
	EngagementLow    EngagementPattern = "low"
)

// LeadEngagementProfile is the cached statistical summary of one lead,
// rebuilt from conversation history and invalidated only by TTL expiry.
type LeadEngagementProfile struct {
	LeadID               uuid.UUID
	AvgResponseTime      time.Duration
	ResponseRate         float64
	PreferredHours       []int
	PreferredDays        []time.Weekday
	Pattern              EngagementPattern
	ConversionIndicators []string
	LastEngagementAt     *time.Time
	TotalInteractions    int
	PositiveInteractions int
	BuiltAt              time.Time
}

// TemplatePerformanceProfile aggregates how one template body has performed
// across all leads, keyed by the template's content hash.
type TemplatePerformanceProfile struct {
	Hash            string
	ResponseRate    float64
	ConversionRate  float64
	OptimalHours    []int
	SuccessSegments []string
	AvgResponseTime time.Duration
	UsageCount      int
	SeasonalRates   map[time.Month]float64
	BuiltAt         time.Time
}

// InOptimalHour reports whether the given time falls in the template's
// historically best hour-of-day windows.
func (p *TemplatePerformanceProfile) InOptimalHour(t time.Time) bool {
	hour := t.Hour()
	for _, h := range p.OptimalHours {
		if h == hour {
			return true
		}
	}
	return false
}
