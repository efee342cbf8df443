package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/queue"
	"github.com/acme/outbound-message-automation/internal/service/learning"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// OutcomeRecorder is the learning surface the worker feeds.
type OutcomeRecorder interface {
	CaptureOutcome(ctx context.Context, outcome learning.Outcome) error
}

// Worker consumes delivery outcome events from the gateway topic and feeds
// them into the learning engine.
type Worker struct {
	kafka    *queue.Kafka
	topic    string
	groupID  string
	recorder OutcomeRecorder
	logger   *logger.Logger
}

// New constructs an outcome worker.
func New(k *queue.Kafka, topic, groupID string, recorder OutcomeRecorder, lg *logger.Logger) *Worker {
	return &Worker{
		kafka:    k,
		topic:    topic,
		groupID:  groupID,
		recorder: recorder,
		logger:   lg,
	}
}

// Run starts the consume loop and blocks until the context is cancelled.
// Malformed events are committed and dropped; capture failures are left
// uncommitted for redelivery.
func (w *Worker) Run(ctx context.Context) error {
	reader := w.kafka.NewReader(w.topic, w.groupID)
	defer reader.Close()

	w.logger.Info("outcome worker: consuming",
		zap.String("topic", w.topic), zap.String("group", w.groupID))

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("outcome worker: fetch", zap.Error(err))
			continue
		}

		if err := w.process(ctx, reader, m); err != nil {
			w.logger.Error("outcome worker: process", zap.Error(err))
		}
	}
}

func (w *Worker) process(ctx context.Context, reader *kafka.Reader, m kafka.Message) error {
	var event queue.OutcomeEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		// Poison message, commit and move on.
		_ = reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal outcome: %w", err)
	}

	tracer := otel.Tracer("automation.outcomeworker")
	sctx, span := tracer.Start(ctx, "outcome.capture", trace.WithAttributes(
		attribute.String("lead.id", event.LeadID.String()),
		attribute.String("event.type", event.EventType),
		attribute.Bool("responded", event.Responded),
	))
	defer span.End()

	outcome := learning.Outcome{
		LeadID:          event.LeadID,
		MessageID:       event.MessageID,
		Responded:       event.Responded,
		Unsubscribed:    event.EventType == "unsubscribe",
		ResponseTime:    time.Duration(event.ResponseMs) * time.Millisecond,
		EngagementScore: event.EngagementScore,
		ConversionValue: event.ConversionValue,
	}

	if err := w.recorder.CaptureOutcome(sctx, outcome); err != nil {
		span.RecordError(err)
		return fmt.Errorf("capture outcome: %w", err)
	}

	if err := reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
