package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/queue"
	"github.com/acme/outbound-message-automation/internal/repository"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// Analyzer scores one candidate message.
type Analyzer interface {
	Analyze(ctx context.Context, messageID uuid.UUID, body string, leadID uuid.UUID, urgency domain.UrgencyTier) (*domain.MessageAnalysis, error)
}

// SendTimePlanner picks the send moment for an approved message.
type SendTimePlanner interface {
	OptimalSendTime(ctx context.Context, msg *domain.QueuedMessage) *domain.SendTimeRecommendation
}

// Publisher hands approved messages to the delivery gateway.
type Publisher interface {
	PublishApproved(ctx context.Context, msg queue.ApprovedMessage) error
}

// Manager drains the pending message queue: it prioritizes candidates,
// scores them in bounded concurrent batches, applies the approval decision,
// and records throughput metrics per run.
type Manager struct {
	cfg       config.PipelineConfig
	queue     repository.MessageQueueRepository
	leads     repository.LeadRepository
	scorer    Analyzer
	planner   SendTimePlanner
	metrics   repository.MetricsRepository
	publisher Publisher
	logger    *logger.Logger

	running atomic.Bool
	now     func() time.Time
}

// NewManager constructs a queue manager. The planner and publisher may be
// nil; approved messages are then left unscheduled and unannounced.
func NewManager(
	cfg config.PipelineConfig,
	messageQueue repository.MessageQueueRepository,
	leads repository.LeadRepository,
	scorer Analyzer,
	planner SendTimePlanner,
	metrics repository.MetricsRepository,
	publisher Publisher,
	lg *logger.Logger,
) *Manager {
	return &Manager{
		cfg:       cfg,
		queue:     messageQueue,
		leads:     leads,
		scorer:    scorer,
		planner:   planner,
		metrics:   metrics,
		publisher: publisher,
		logger:    lg,
		now:       time.Now,
	}
}

// ProcessQueue runs one full processing pass. A call arriving while a pass is
// already in flight returns an empty result immediately instead of queuing.
func (m *Manager) ProcessQueue(ctx context.Context) (*domain.ProcessingStats, error) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Debug("pipeline: run already in progress, skipping")
		return &domain.ProcessingStats{}, nil
	}
	defer m.running.Store(false)

	start := m.now()
	stats := &domain.ProcessingStats{ID: uuid.New(), RanAt: start}

	messages, err := m.queue.ListPending(ctx, m.cfg.MaxPending)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load pending: %w", err)
	}
	if len(messages) == 0 {
		stats.Duration = m.now().Sub(start)
		m.persistStats(ctx, stats)
		return stats, nil
	}

	m.prioritize(ctx, messages)

	for batchStart := 0; batchStart < len(messages); batchStart += m.cfg.BatchSize {
		batchEnd := batchStart + m.cfg.BatchSize
		if batchEnd > len(messages) {
			batchEnd = len(messages)
		}

		m.processBatch(ctx, messages[batchStart:batchEnd], stats)

		if batchEnd < len(messages) {
			select {
			case <-time.After(m.cfg.BatchDelay):
			case <-ctx.Done():
				stats.Duration = m.now().Sub(start)
				m.persistStats(ctx, stats)
				return stats, ctx.Err()
			}
		}
	}

	stats.Duration = m.now().Sub(start)
	m.persistStats(ctx, stats)

	m.logger.Info("pipeline: run complete",
		zap.Int("processed", stats.Processed),
		zap.Int("auto_approved", stats.AutoApproved),
		zap.Int("requires_review", stats.RequiresReview),
		zap.Int("rejected", stats.Rejected),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// Busy reports whether a processing pass is currently in flight.
func (m *Manager) Busy() bool {
	return m.running.Load()
}

// QueueDepth returns the number of pending messages.
func (m *Manager) QueueDepth(ctx context.Context) (int, error) {
	return m.queue.CountPending(ctx)
}

// prioritize computes enhanced priorities and sorts messages descending.
// Priority writes are best-effort; the in-memory order drives this run.
func (m *Manager) prioritize(ctx context.Context, messages []*domain.QueuedMessage) {
	ids := make([]uuid.UUID, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.LeadID)
	}

	leadsByID, err := m.leads.GetMany(ctx, ids)
	if err != nil {
		m.logger.Warn("pipeline: lead lookup failed, using urgency-only priority", zap.Error(err))
		leadsByID = nil
	}

	now := m.now()
	for _, msg := range messages {
		priority := enhancedPriority(msg, leadsByID[msg.LeadID], now)
		if priority != msg.Priority {
			msg.Priority = priority
			if err := m.queue.UpdatePriority(ctx, msg.ID, priority); err != nil {
				m.logger.Warn("pipeline: priority write failed",
					zap.String("message_id", msg.ID.String()), zap.Error(err))
			}
		}
	}

	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Priority != messages[j].Priority {
			return messages[i].Priority > messages[j].Priority
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// processBatch marks the batch as processing, then scores its items
// concurrently up to the configured fan-out. Item failures are isolated.
func (m *Manager) processBatch(ctx context.Context, batch []*domain.QueuedMessage, stats *domain.ProcessingStats) {
	ids := make([]uuid.UUID, 0, len(batch))
	for _, msg := range batch {
		ids = append(ids, msg.ID)
	}
	if err := m.queue.MarkProcessing(ctx, ids); err != nil {
		m.logger.Error("pipeline: mark processing failed, skipping batch", zap.Error(err))
		stats.Failed += len(batch)
		return
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, m.cfg.MaxConcurrency)
	)

	for _, msg := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(msg *domain.QueuedMessage) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := m.processOne(ctx, msg)

			mu.Lock()
			defer mu.Unlock()
			stats.Processed++
			switch outcome {
			case outcomeApproved:
				stats.AutoApproved++
			case outcomeReview:
				stats.RequiresReview++
			case outcomeRejected:
				stats.Rejected++
			case outcomeFailed:
				stats.Failed++
			}
		}(msg)
	}
	wg.Wait()
}

type itemOutcome int

const (
	outcomeFailed itemOutcome = iota
	outcomeApproved
	outcomeReview
	outcomeRejected
)

// processOne scores a single message and applies the decision. Anything that
// is not auto-approved goes back to pending with its analysis attached for
// manual disposition.
func (m *Manager) processOne(ctx context.Context, msg *domain.QueuedMessage) itemOutcome {
	analysis, err := m.scorer.Analyze(ctx, msg.ID, msg.Body, msg.LeadID, msg.Urgency)
	if err != nil {
		m.logger.Error("pipeline: scoring failed",
			zap.String("message_id", msg.ID.String()),
			zap.String("lead_id", msg.LeadID.String()),
			zap.Error(err))
		if err := m.queue.SetStatus(ctx, msg.ID, domain.MessageStatusPending); err != nil {
			m.logger.Error("pipeline: status reset failed",
				zap.String("message_id", msg.ID.String()), zap.Error(err))
		}
		return outcomeFailed
	}

	if analysis.Recommendation == domain.RecommendAutoApprove && analysis.Confidence >= m.cfg.AutoApproveMin {
		return m.approve(ctx, msg, analysis)
	}

	if err := m.queue.SetStatus(ctx, msg.ID, domain.MessageStatusPending); err != nil {
		m.logger.Error("pipeline: status reset failed",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return outcomeFailed
	}

	if analysis.Recommendation == domain.RecommendReject {
		return outcomeRejected
	}
	return outcomeReview
}

func (m *Manager) approve(ctx context.Context, msg *domain.QueuedMessage, analysis *domain.MessageAnalysis) itemOutcome {
	approvedAt := m.now()

	var scheduledFor *time.Time
	if m.planner != nil {
		recommendation := m.planner.OptimalSendTime(ctx, msg)
		if err := m.queue.UpdateScheduledFor(ctx, msg.ID, recommendation.SendAt); err != nil {
			m.logger.Warn("pipeline: schedule write failed",
				zap.String("message_id", msg.ID.String()), zap.Error(err))
		} else {
			scheduledFor = &recommendation.SendAt
		}
	}

	if err := m.queue.MarkApproved(ctx, msg.ID, approvedAt); err != nil {
		m.logger.Error("pipeline: approval write failed",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return outcomeFailed
	}

	if m.publisher != nil {
		notice := queue.ApprovedMessage{
			MessageID:    msg.ID,
			LeadID:       msg.LeadID,
			Urgency:      string(msg.Urgency),
			OverallScore: analysis.OverallScore,
			Confidence:   analysis.Confidence,
			ScheduledFor: scheduledFor,
			ApprovedAt:   approvedAt,
		}
		if err := m.publisher.PublishApproved(ctx, notice); err != nil {
			// The approval itself stands; delivery pickup falls back to
			// polling the store.
			m.logger.Warn("pipeline: approval publish failed",
				zap.String("message_id", msg.ID.String()), zap.Error(err))
		}
	}

	return outcomeApproved
}

// persistStats writes the run record. Failures are logged, not returned: the
// next cycle produces a fresh record anyway.
func (m *Manager) persistStats(ctx context.Context, stats *domain.ProcessingStats) {
	if err := m.metrics.Insert(ctx, stats); err != nil {
		m.logger.Warn("pipeline: metrics write failed", zap.Error(err))
	}
}
