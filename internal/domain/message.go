package domain

import (
	"time"

	"github.com/google/uuid"
)

// UrgencyTier is the coarse priority class assigned to a draft at creation.
type UrgencyTier string

const (
	UrgencyLow    UrgencyTier = "low"
	UrgencyMedium UrgencyTier = "medium"
	UrgencyHigh   UrgencyTier = "high"
)

// MessageStatus enumerates lifecycle states of a queued message.
type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusApproved   MessageStatus = "approved"
	MessageStatusRejected   MessageStatus = "rejected"
	MessageStatusFailed     MessageStatus = "failed"
)

// QueuedMessage is a candidate outbound message awaiting an approval decision.
type QueuedMessage struct {
	ID           uuid.UUID
	LeadID       uuid.UUID
	Body         string
	Urgency      UrgencyTier
	Priority     int
	Status       MessageStatus
	ScheduledFor *time.Time
	RetryCount   int
	Approved     bool
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the message has reached a final state.
func (m *QueuedMessage) Terminal() bool {
	switch m.Status {
	case MessageStatusApproved, MessageStatusRejected, MessageStatusFailed:
		return true
	}
	return false
}

// Lead captures the attributes of a prospect that scoring reads.
type Lead struct {
	ID              uuid.UUID
	FirstName       string
	Stage           string
	VehicleInterest string
	LastReplyAt     *time.Time
	CreatedAt       time.Time
}

// ConversationDirection marks who authored a conversation message.
type ConversationDirection string

const (
	DirectionInbound  ConversationDirection = "in"
	DirectionOutbound ConversationDirection = "out"
)

// ConversationMessage is one entry in a lead's message history.
type ConversationMessage struct {
	LeadID    uuid.UUID
	Direction ConversationDirection
	Body      string
	SentAt    time.Time
}
