package sendtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
	"github.com/acme/outbound-message-automation/internal/service/prediction"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// Tuesday 2pm UTC.
var tuesdayAfternoon = time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)

type leadRepoStub struct {
	history []domain.ConversationMessage
}

func (s *leadRepoStub) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	return &domain.Lead{ID: id}, nil
}

func (s *leadRepoStub) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Lead, error) {
	return nil, nil
}

func (s *leadRepoStub) ListConversation(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	if limit > len(s.history) {
		limit = len(s.history)
	}
	return s.history[:limit], nil
}

func (s *leadRepoStub) CountOutboundSince(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error) {
	return 0, nil
}

func (s *leadRepoStub) ListRecentlyActive(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type templateRepoStub struct{}

func (templateRepoStub) GetProfile(ctx context.Context, hash string) (*domain.TemplatePerformanceProfile, error) {
	return nil, repository.ErrNotFound
}

func (templateRepoStub) TopProfiles(ctx context.Context, limit int) ([]*domain.TemplatePerformanceProfile, error) {
	return nil, nil
}

func (templateRepoStub) ListProfiles(ctx context.Context, minUsage int) ([]*domain.TemplatePerformanceProfile, error) {
	return nil, nil
}

func (templateRepoStub) GetBody(ctx context.Context, hash string) (string, error) {
	return "", repository.ErrNotFound
}

func (templateRepoStub) InsertVariant(ctx context.Context, variant *domain.TemplateVariant) error {
	return nil
}

type eventStoreStub struct{}

func (eventStoreStub) Append(ctx context.Context, event *domain.LearningEvent) error { return nil }

func (eventStoreStub) ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.LearningEvent, error) {
	return nil, nil
}

func (eventStoreStub) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.LearningEvent, error) {
	return nil, nil
}

func (eventStoreStub) CountByLead(ctx context.Context, leadID uuid.UUID) (int, error) {
	return 0, nil
}

type queueRepoStub struct {
	scheduled   []*domain.QueuedMessage
	rescheduled map[uuid.UUID]time.Time
}

func (s *queueRepoStub) Insert(ctx context.Context, msg *domain.QueuedMessage) error { return nil }

func (s *queueRepoStub) Get(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error) {
	return nil, repository.ErrNotFound
}

func (s *queueRepoStub) ListPending(ctx context.Context, limit int) ([]*domain.QueuedMessage, error) {
	return nil, nil
}

func (s *queueRepoStub) CountPending(ctx context.Context) (int, error) { return 0, nil }

func (s *queueRepoStub) MarkProcessing(ctx context.Context, ids []uuid.UUID) error { return nil }

func (s *queueRepoStub) SetStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) error {
	return nil
}

func (s *queueRepoStub) MarkApproved(ctx context.Context, id uuid.UUID, approvedAt time.Time) error {
	return nil
}

func (s *queueRepoStub) UpdatePriority(ctx context.Context, id uuid.UUID, priority int) error {
	return nil
}

func (s *queueRepoStub) UpdateScheduledFor(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error {
	if s.rescheduled == nil {
		s.rescheduled = make(map[uuid.UUID]time.Time)
	}
	s.rescheduled[id] = scheduledFor
	return nil
}

func (s *queueRepoStub) ListScheduledUnsent(ctx context.Context, limit int) ([]*domain.QueuedMessage, error) {
	return s.scheduled, nil
}

// morningResponder builds a history where the lead always replies at 10am on
// weekdays in early January 2024.
func morningResponder(leadID uuid.UUID) []domain.ConversationMessage {
	var history []domain.ConversationMessage
	for day := 2; day <= 5; day++ {
		out := time.Date(2024, 1, day, 9, 0, 0, 0, time.UTC)
		history = append(history,
			domain.ConversationMessage{LeadID: leadID, Direction: domain.DirectionOutbound, Body: "morning update", SentAt: out},
			domain.ConversationMessage{LeadID: leadID, Direction: domain.DirectionInbound, Body: "thanks, looks good", SentAt: out.Add(time.Hour)},
		)
	}
	return history
}

func testOptimizerConfig() config.OptimizerConfig {
	return config.OptimizerConfig{
		HighUrgencyDelay:   30 * time.Minute,
		MediumUrgencyDelay: 2 * time.Hour,
		LowUrgencyDelay:    4 * time.Hour,
		Interval:           time.Hour,
		MinImprovement:     5,
		LowRiskDrift:       24 * time.Hour,
		ThrottleKey:        "automation:optimizer:lock",
	}
}

func newTestOptimizer(t *testing.T, leads *leadRepoStub, queue *queueRepoStub, now time.Time) *Optimizer {
	t.Helper()

	lg := &logger.Logger{Logger: zap.NewNop()}
	profiles := prediction.NewProfileStore(config.PredictionConfig{
		CacheTTL:         time.Minute,
		RebuildBatchSize: 25,
		HistoryWindow:    30 * 24 * time.Hour,
	}, leads, templateRepoStub{}, eventStoreStub{}, lg)
	predictor := prediction.NewEngine(config.PredictionConfig{CacheTTL: time.Minute}, profiles, lg).
		WithClock(func() time.Time { return now })

	opt := NewOptimizer(testOptimizerConfig(), predictor, profiles, queue, nil, lg)
	opt.now = func() time.Time { return now }
	return opt
}

func TestOptimalSendTimeHonorsUrgencyFloor(t *testing.T) {
	leadID := uuid.New()
	opt := newTestOptimizer(t, &leadRepoStub{}, &queueRepoStub{}, tuesdayAfternoon)

	msg := &domain.QueuedMessage{ID: uuid.New(), LeadID: leadID, Body: "quick note", Urgency: domain.UrgencyHigh}
	rec := opt.OptimalSendTime(context.Background(), msg)

	if rec.SendAt.Before(tuesdayAfternoon.Add(30 * time.Minute)) {
		t.Errorf("SendAt %s before high urgency floor %s", rec.SendAt, tuesdayAfternoon.Add(30*time.Minute))
	}
	if rec.SendAt.Before(tuesdayAfternoon) {
		t.Error("SendAt in the past")
	}
	if len(rec.Alternatives) != 3 {
		t.Fatalf("got %d alternatives, want 3", len(rec.Alternatives))
	}
	prev := rec.SendAt
	for i, alt := range rec.Alternatives {
		if !alt.After(prev) {
			t.Errorf("alternative %d (%s) not after %s", i, alt, prev)
		}
		prev = alt
	}
}

func TestOptimalSendTimeSnapsToLeadPreferredHour(t *testing.T) {
	leadID := uuid.New()
	leads := &leadRepoStub{history: morningResponder(leadID)}
	opt := newTestOptimizer(t, leads, &queueRepoStub{}, tuesdayAfternoon)

	msg := &domain.QueuedMessage{ID: uuid.New(), LeadID: leadID, Body: "a follow up note", Urgency: domain.UrgencyMedium}
	rec := opt.OptimalSendTime(context.Background(), msg)

	if rec.SendAt.Hour() != 10 {
		t.Errorf("SendAt hour = %d, want 10 (lead's only response hour), reasoning %v",
			rec.SendAt.Hour(), rec.Reasoning)
	}
	if rec.SendAt.Before(tuesdayAfternoon.Add(2 * time.Hour)) {
		t.Errorf("SendAt %s before medium urgency floor", rec.SendAt)
	}
}

func TestOptimizeAppliesLowRiskImprovement(t *testing.T) {
	leadID := uuid.New()
	badSlot := time.Date(2024, 1, 3, 3, 0, 0, 0, time.UTC) // Wednesday 3am
	msg := &domain.QueuedMessage{
		ID:           uuid.New(),
		LeadID:       leadID,
		Body:         "a follow up note",
		Urgency:      domain.UrgencyMedium,
		Status:       domain.MessageStatusApproved,
		ScheduledFor: &badSlot,
	}

	leads := &leadRepoStub{history: morningResponder(leadID)}
	queue := &queueRepoStub{scheduled: []*domain.QueuedMessage{msg}}
	opt := newTestOptimizer(t, leads, queue, tuesdayAfternoon)

	adjustments, err := opt.OptimizeExistingSchedules(context.Background())
	if err != nil {
		t.Fatalf("OptimizeExistingSchedules: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("got %d adjustments, want 1", len(adjustments))
	}

	adj := adjustments[0]
	if adj.Risk != domain.ScheduleRiskLow {
		t.Errorf("risk = %s, want low (drift %s)", adj.Risk, adj.ProposedTime.Sub(adj.CurrentTime))
	}
	if adj.Improvement <= 5 {
		t.Errorf("improvement = %.1f, want > 5", adj.Improvement)
	}
	if !adj.Applied {
		t.Error("low-risk improvement was not applied")
	}
	if _, ok := queue.rescheduled[msg.ID]; !ok {
		t.Error("schedule was not written back")
	}
}

func TestOptimizeReportsButSkipsHighRiskMove(t *testing.T) {
	leadID := uuid.New()
	farSlot := time.Date(2024, 1, 8, 3, 0, 0, 0, time.UTC) // six days out, 3am
	msg := &domain.QueuedMessage{
		ID:           uuid.New(),
		LeadID:       leadID,
		Body:         "a follow up note",
		Urgency:      domain.UrgencyMedium,
		Status:       domain.MessageStatusApproved,
		ScheduledFor: &farSlot,
	}

	leads := &leadRepoStub{history: morningResponder(leadID)}
	queue := &queueRepoStub{scheduled: []*domain.QueuedMessage{msg}}
	opt := newTestOptimizer(t, leads, queue, tuesdayAfternoon)

	adjustments, err := opt.OptimizeExistingSchedules(context.Background())
	if err != nil {
		t.Fatalf("OptimizeExistingSchedules: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("got %d adjustments, want 1", len(adjustments))
	}

	adj := adjustments[0]
	if adj.Risk != domain.ScheduleRiskHigh {
		t.Errorf("risk = %s, want high", adj.Risk)
	}
	if adj.Applied {
		t.Error("high-risk move must not be applied automatically")
	}
	if len(queue.rescheduled) != 0 {
		t.Errorf("schedule rewritten despite high risk: %v", queue.rescheduled)
	}
}

func TestOptimizeThrottledWithinInterval(t *testing.T) {
	leadID := uuid.New()
	slot := time.Date(2024, 1, 3, 3, 0, 0, 0, time.UTC)
	msg := &domain.QueuedMessage{ID: uuid.New(), LeadID: leadID, Body: "note", Urgency: domain.UrgencyMedium, ScheduledFor: &slot}

	queue := &queueRepoStub{scheduled: []*domain.QueuedMessage{msg}}
	opt := newTestOptimizer(t, &leadRepoStub{}, queue, tuesdayAfternoon)

	if _, err := opt.OptimizeExistingSchedules(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	adjustments, err := opt.OptimizeExistingSchedules(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if adjustments != nil {
		t.Errorf("second pass within interval returned %d adjustments, want none", len(adjustments))
	}
}
