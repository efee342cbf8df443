package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recommendation is the disposition the scoring engine assigns to a message.
type Recommendation string

const (
	RecommendAutoApprove    Recommendation = "auto_approve"
	RecommendReviewRequired Recommendation = "review_required"
	RecommendReject         Recommendation = "reject"
	RecommendEnhance        Recommendation = "enhance"
)

// MessageAnalysis is the immutable result of scoring one candidate message.
type MessageAnalysis struct {
	ID             uuid.UUID
	MessageID      uuid.UUID
	LeadID         uuid.UUID
	TemplateHash   string
	TemplateScore  float64
	LeadScore      float64
	TimingScore    float64
	ContentScore   float64
	RiskScore      float64
	OverallScore   float64
	Confidence     float64
	Recommendation Recommendation
	Reasoning      []string
	AnalyzedAt     time.Time
}

// PerformancePrediction is a forward-looking estimate for one message.
type PerformancePrediction struct {
	ResponseRate          float64
	ResponseTime          time.Duration
	ConversionProbability float64
	OptimalSendTime       time.Time
	Confidence            float64
	Factors               []string
	Recommendations       []string
}

// SendTimeRecommendation is the optimizer's decision for one message.
type SendTimeRecommendation struct {
	SendAt       time.Time
	Confidence   float64
	Reasoning    []string
	Alternatives []time.Time
}

// ScheduleRisk classifies how disruptive a schedule rewrite would be.
type ScheduleRisk string

const (
	ScheduleRiskLow    ScheduleRisk = "low"
	ScheduleRiskMedium ScheduleRisk = "medium"
	ScheduleRiskHigh   ScheduleRisk = "high"
)

// ScheduleAdjustment describes a proposed rewrite of a scheduled send.
type ScheduleAdjustment struct {
	MessageID    uuid.UUID
	CurrentTime  time.Time
	ProposedTime time.Time
	Improvement  float64
	Risk         ScheduleRisk
	Applied      bool
}

// TemplateHash fingerprints a message body for template identity. The hash is
// truncated; collisions only affect cache lookups, never the decision itself.
func TemplateHash(body string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(body), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
