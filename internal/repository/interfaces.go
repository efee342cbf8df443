package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-message-automation/internal/domain"
	apperrors "github.com/acme/outbound-message-automation/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// MessageQueueRepository manages candidate outbound messages.
type MessageQueueRepository interface {
	Insert(ctx context.Context, msg *domain.QueuedMessage) error
	Get(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error)
	ListPending(ctx context.Context, limit int) ([]*domain.QueuedMessage, error)
	CountPending(ctx context.Context) (int, error)
	MarkProcessing(ctx context.Context, ids []uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) error
	MarkApproved(ctx context.Context, id uuid.UUID, approvedAt time.Time) error
	UpdatePriority(ctx context.Context, id uuid.UUID, priority int) error
	UpdateScheduledFor(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error
	ListScheduledUnsent(ctx context.Context, limit int) ([]*domain.QueuedMessage, error)
}

// LeadRepository reads lead attributes and conversation history.
type LeadRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Lead, error)
	ListConversation(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.ConversationMessage, error)
	CountOutboundSince(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error)
	ListRecentlyActive(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

// AnalysisRepository persists scoring results for audit and learning.
type AnalysisRepository interface {
	Insert(ctx context.Context, analysis *domain.MessageAnalysis) error
	GetByMessage(ctx context.Context, messageID uuid.UUID) (*domain.MessageAnalysis, error)
}

// MetricsRepository keeps per-cycle throughput records.
type MetricsRepository interface {
	Insert(ctx context.Context, stats *domain.ProcessingStats) error
	Latest(ctx context.Context) (*domain.ProcessingStats, error)
}

// TemplateRepository reads template performance aggregates and registers
// evolved variants.
type TemplateRepository interface {
	GetProfile(ctx context.Context, hash string) (*domain.TemplatePerformanceProfile, error)
	TopProfiles(ctx context.Context, limit int) ([]*domain.TemplatePerformanceProfile, error)
	ListProfiles(ctx context.Context, minUsage int) ([]*domain.TemplatePerformanceProfile, error)
	GetBody(ctx context.Context, hash string) (string, error)
	InsertVariant(ctx context.Context, variant *domain.TemplateVariant) error
}

// LearningRepository stores insights and recognized conversation patterns.
type LearningRepository interface {
	InsertInsight(ctx context.Context, insight *domain.Insight) error
	ListInsights(ctx context.Context, leadID uuid.UUID, limit int) ([]*domain.Insight, error)
	ReplacePattern(ctx context.Context, pattern *domain.ConversationPattern) error
	ListPatterns(ctx context.Context) ([]*domain.ConversationPattern, error)
}

// EventStore persists append-only learning events.
type EventStore interface {
	Append(ctx context.Context, event *domain.LearningEvent) error
	ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.LearningEvent, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.LearningEvent, error)
	CountByLead(ctx context.Context, leadID uuid.UUID) (int, error)
}
