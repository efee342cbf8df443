package domain

import (
	"time"

	"github.com/google/uuid"
)

// LearningEventType classifies a captured delivery outcome.
type LearningEventType string

const (
	EventResponseReceived   LearningEventType = "response_received"
	EventNoResponse         LearningEventType = "no_response"
	EventPositiveEngagement LearningEventType = "positive_engagement"
	EventNegativeEngagement LearningEventType = "negative_engagement"
	EventConversion         LearningEventType = "conversion"
	EventUnsubscribe        LearningEventType = "unsubscribe"
)

// LearningEvent is an append-only record of a real-world outcome, written
// with a full context snapshot so later analysis never re-reads live state.
type LearningEvent struct {
	ID              uuid.UUID
	LeadID          uuid.UUID
	MessageID       *uuid.UUID
	Type            LearningEventType
	TemplateHash    string
	SentAt          time.Time
	SentHour        int
	LeadStage       string
	BodyLength      int
	ResponseTime    time.Duration
	EngagementScore float64
	ConversionValue float64
	OccurredAt      time.Time
}

// InsightType classifies a stored learning insight.
type InsightType string

const (
	InsightSuccessReinforcement InsightType = "success_reinforcement"
	InsightFailureAnalysis      InsightType = "failure_analysis"
	InsightReviewFeedback       InsightType = "review_feedback"
)

// Insight is a cheap local conclusion drawn immediately from one outcome.
type Insight struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	MessageID *uuid.UUID
	Type      InsightType
	Findings  []string
	CreatedAt time.Time
}

// PatternType groups successful outcomes into coarse trajectories.
type PatternType string

const (
	PatternQuickEngagement PatternType = "quick_engagement"
	PatternConversion      PatternType = "successful_conversion"
	PatternReEngagement    PatternType = "re_engagement"
)

// ConversationPattern is a recognized recurring trajectory. Regeneration
// supersedes the previously stored pattern of the same type.
type ConversationPattern struct {
	ID                 uuid.UUID
	Type               PatternType
	TriggerConditions  []string
	SuccessRate        float64
	AvgTimeToOutcome   time.Duration
	RecommendedActions []string
	SampleCount        int
	GeneratedAt        time.Time
}

// TemplateVariant is a derived mutation of an existing template, registered
// for testing alongside (never replacing) its parent.
type TemplateVariant struct {
	ID                   uuid.UUID
	ParentHash           string
	Body                 string
	Mutation             string
	EstimatedImprovement float64
	Reason               string
	CreatedAt            time.Time
}

// Trajectory classifies the direction of an in-progress conversation.
type Trajectory string

const (
	TrajectoryPositive  Trajectory = "positive"
	TrajectoryNeutral   Trajectory = "neutral"
	TrajectoryDeclining Trajectory = "declining"
)

// Momentum compares recent customer activity against the prior window.
type Momentum string

const (
	MomentumIncreasing Momentum = "increasing"
	MomentumStable     Momentum = "stable"
	MomentumDecreasing Momentum = "decreasing"
)

// PredictedOutcome is a derived, on-demand estimate for one conversation.
type PredictedOutcome struct {
	LeadID              uuid.UUID
	Outcome             string
	Confidence          float64
	EstimatedTime       time.Duration
	Trajectory          Trajectory
	Momentum            Momentum
	ContributingFactors []string
	RecommendedActions  []string
	RiskFactors         []string
}
