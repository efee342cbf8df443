package queue

import (
	"time"

	"github.com/google/uuid"
)

// ApprovedMessage notifies the delivery gateway that a message cleared
// approval and may be transmitted at its scheduled time.
type ApprovedMessage struct {
	MessageID    uuid.UUID  `json:"message_id"`
	LeadID       uuid.UUID  `json:"lead_id"`
	Urgency      string     `json:"urgency"`
	OverallScore float64    `json:"overall_score"`
	Confidence   float64    `json:"confidence"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	ApprovedAt   time.Time  `json:"approved_at"`
}

// OutcomeEvent is reported back by the delivery gateway once a sent message
// produced (or failed to produce) a lead reaction.
type OutcomeEvent struct {
	LeadID          uuid.UUID  `json:"lead_id"`
	MessageID       *uuid.UUID `json:"message_id,omitempty"`
	Responded       bool       `json:"responded"`
	EventType       string     `json:"event_type,omitempty"`
	ResponseMs      int64      `json:"response_ms,omitempty"`
	EngagementScore float64    `json:"engagement_score,omitempty"`
	ConversionValue float64    `json:"conversion_value,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}
