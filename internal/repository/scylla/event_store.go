package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/outbound-message-automation/internal/domain"
)

// EventStore persists append-only learning events in Scylla.
type EventStore struct {
	session *gocql.Session
}

// NewEventStore creates a new event store.
func NewEventStore(session *gocql.Session) *EventStore {
	return &EventStore{session: session}
}

// Append inserts one learning event. Events are written to a per-lead table
// and a day-bucketed table for time-window scans.
func (s *EventStore) Append(ctx context.Context, event *domain.LearningEvent) error {
	bucket := bucketDate(event.OccurredAt)
	var messageID string
	if event.MessageID != nil {
		messageID = event.MessageID.String()
	}

	if err := s.session.Query(`INSERT INTO events_by_lead (lead_id, event_id, type, message_id, template_hash, sent_at, sent_hour, lead_stage, body_length, response_ms, engagement_score, conversion_value, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.LeadID.String(), event.ID.String(), string(event.Type), messageID, event.TemplateHash,
		event.SentAt, event.SentHour, event.LeadStage, event.BodyLength,
		event.ResponseTime.Milliseconds(), event.EngagementScore, event.ConversionValue, event.OccurredAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("event store: insert events_by_lead: %w", err)
	}

	if err := s.session.Query(`INSERT INTO events_by_day (bucket, occurred_at, event_id, lead_id, type, message_id, template_hash, sent_at, sent_hour, lead_stage, body_length, response_ms, engagement_score, conversion_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bucket, event.OccurredAt, event.ID.String(), event.LeadID.String(), string(event.Type), messageID,
		event.TemplateHash, event.SentAt, event.SentHour, event.LeadStage, event.BodyLength,
		event.ResponseTime.Milliseconds(), event.EngagementScore, event.ConversionValue,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("event store: insert events_by_day: %w", err)
	}

	return nil
}

// ListByLead returns the most recent events for a lead.
func (s *EventStore) ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.LearningEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.session.Query(`SELECT event_id, type, message_id, template_hash, sent_at, sent_hour, lead_stage, body_length, response_ms, engagement_score, conversion_value, occurred_at
		FROM events_by_lead
		WHERE lead_id = ?
		LIMIT ?`, leadID.String(), limit).WithContext(ctx).Iter()

	events, err := scanEvents(iter, leadID)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListRecent scans day buckets from since until now.
func (s *EventStore) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.LearningEvent, error) {
	if limit <= 0 {
		limit = 1000
	}

	var events []domain.LearningEvent
	for bucket := bucketDate(time.Now().UTC()); !bucket.Before(bucketDate(since)); bucket = bucket.AddDate(0, 0, -1) {
		iter := s.session.Query(`SELECT event_id, lead_id, type, message_id, template_hash, sent_at, sent_hour, lead_stage, body_length, response_ms, engagement_score, conversion_value, occurred_at
			FROM events_by_day
			WHERE bucket = ?`, bucket).WithContext(ctx).Iter()

		var (
			eventIDStr, leadIDStr, eventType, messageIDStr, templateHash, leadStage string
			sentAt, occurredAt                                                     time.Time
			sentHour, bodyLength                                                   int
			responseMs                                                             int64
			engagementScore, conversionValue                                       float64
		)

		for iter.Scan(&eventIDStr, &leadIDStr, &eventType, &messageIDStr, &templateHash, &sentAt, &sentHour, &leadStage, &bodyLength, &responseMs, &engagementScore, &conversionValue, &occurredAt) {
			leadID, err := uuid.Parse(leadIDStr)
			if err != nil {
				continue
			}
			event := buildEvent(eventIDStr, leadID, eventType, messageIDStr, templateHash, sentAt, sentHour, leadStage, bodyLength, responseMs, engagementScore, conversionValue, occurredAt)
			if event == nil || event.OccurredAt.Before(since) {
				continue
			}
			events = append(events, *event)
			if len(events) >= limit {
				break
			}
		}

		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("event store: list recent: %w", err)
		}
		if len(events) >= limit {
			break
		}
	}

	return events, nil
}

// CountByLead counts stored events for a lead.
func (s *EventStore) CountByLead(ctx context.Context, leadID uuid.UUID) (int, error) {
	var count int
	if err := s.session.Query(`SELECT COUNT(*) FROM events_by_lead WHERE lead_id = ?`,
		leadID.String()).WithContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("event store: count by lead: %w", err)
	}
	return count, nil
}

func scanEvents(iter *gocql.Iter, leadID uuid.UUID) ([]domain.LearningEvent, error) {
	var (
		eventIDStr, eventType, messageIDStr, templateHash, leadStage string
		sentAt, occurredAt                                           time.Time
		sentHour, bodyLength                                         int
		responseMs                                                   int64
		engagementScore, conversionValue                             float64
	)

	var events []domain.LearningEvent
	for iter.Scan(&eventIDStr, &eventType, &messageIDStr, &templateHash, &sentAt, &sentHour, &leadStage, &bodyLength, &responseMs, &engagementScore, &conversionValue, &occurredAt) {
		event := buildEvent(eventIDStr, leadID, eventType, messageIDStr, templateHash, sentAt, sentHour, leadStage, bodyLength, responseMs, engagementScore, conversionValue, occurredAt)
		if event == nil {
			continue
		}
		events = append(events, *event)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("event store: iter close: %w", err)
	}
	return events, nil
}

func buildEvent(eventIDStr string, leadID uuid.UUID, eventType, messageIDStr, templateHash string,
	sentAt time.Time, sentHour int, leadStage string, bodyLength int, responseMs int64,
	engagementScore, conversionValue float64, occurredAt time.Time) *domain.LearningEvent {

	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		return nil
	}

	event := &domain.LearningEvent{
		ID:              eventID,
		LeadID:          leadID,
		Type:            domain.LearningEventType(eventType),
		TemplateHash:    templateHash,
		SentAt:          sentAt,
		SentHour:        sentHour,
		LeadStage:       leadStage,
		BodyLength:      bodyLength,
		ResponseTime:    time.Duration(responseMs) * time.Millisecond,
		EngagementScore: engagementScore,
		ConversionValue: conversionValue,
		OccurredAt:      occurredAt,
	}

	if messageIDStr != "" {
		if messageID, err := uuid.Parse(messageIDStr); err == nil {
			event.MessageID = &messageID
		}
	}

	return event
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
