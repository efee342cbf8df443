package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ApprovalPublisher hands approved messages to the delivery gateway topic.
type ApprovalPublisher struct {
	writer *kafka.Writer
}

// NewApprovalPublisher constructs a publisher for the given topic.
func NewApprovalPublisher(k *Kafka, topic string) *ApprovalPublisher {
	return &ApprovalPublisher{
		writer: k.NewWriter(topic),
	}
}

// PublishApproved writes the approval notice to Kafka.
func (p *ApprovalPublisher) PublishApproved(ctx context.Context, msg ApprovedMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("approval publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   msg.MessageID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("approval publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *ApprovalPublisher) Close() error {
	return p.writer.Close()
}
