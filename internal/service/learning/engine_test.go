package learning

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

type queueStub struct {
	messages map[uuid.UUID]*domain.QueuedMessage
}

func (s *queueStub) Insert(ctx context.Context, msg *domain.QueuedMessage) error { return nil }

func (s *queueStub) Get(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error) {
	if m, ok := s.messages[id]; ok {
		return m, nil
	}
	return nil, repository.ErrNotFound
}

func (s *queueStub) ListPending(ctx context.Context, limit int) ([]*domain.QueuedMessage, error) {
	return nil, nil
}

func (s *queueStub) CountPending(ctx context.Context) (int, error) { return 0, nil }

func (s *queueStub) MarkProcessing(ctx context.Context, ids []uuid.UUID) error { return nil }

func (s *queueStub) SetStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) error {
	return nil
}

func (s *queueStub) MarkApproved(ctx context.Context, id uuid.UUID, approvedAt time.Time) error {
	return nil
}

func (s *queueStub) UpdatePriority(ctx context.Context, id uuid.UUID, priority int) error { return nil }

func (s *queueStub) UpdateScheduledFor(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error {
	return nil
}

func (s *queueStub) ListScheduledUnsent(ctx context.Context, limit int) ([]*domain.QueuedMessage, error) {
	return nil, nil
}

type leadStub struct {
	lead    *domain.Lead
	history []domain.ConversationMessage
}

func (s *leadStub) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	if s.lead == nil {
		return nil, repository.ErrNotFound
	}
	return s.lead, nil
}

func (s *leadStub) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Lead, error) {
	return nil, nil
}

func (s *leadStub) ListConversation(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	return s.history, nil
}

func (s *leadStub) CountOutboundSince(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error) {
	return 0, nil
}

func (s *leadStub) ListRecentlyActive(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type analysisStub struct {
	analysis *domain.MessageAnalysis
}

func (s *analysisStub) Insert(ctx context.Context, analysis *domain.MessageAnalysis) error {
	return nil
}

func (s *analysisStub) GetByMessage(ctx context.Context, messageID uuid.UUID) (*domain.MessageAnalysis, error) {
	if s.analysis == nil {
		return nil, repository.ErrNotFound
	}
	return s.analysis, nil
}

type templateStub struct {
	profiles []*domain.TemplatePerformanceProfile
	bodies   map[string]string
	variants []*domain.TemplateVariant
}

func (s *templateStub) GetProfile(ctx context.Context, hash string) (*domain.TemplatePerformanceProfile, error) {
	return nil, repository.ErrNotFound
}

func (s *templateStub) TopProfiles(ctx context.Context, limit int) ([]*domain.TemplatePerformanceProfile, error) {
	return s.profiles, nil
}

func (s *templateStub) ListProfiles(ctx context.Context, minUsage int) ([]*domain.TemplatePerformanceProfile, error) {
	var out []*domain.TemplatePerformanceProfile
	for _, p := range s.profiles {
		if p.UsageCount >= minUsage {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *templateStub) GetBody(ctx context.Context, hash string) (string, error) {
	if b, ok := s.bodies[hash]; ok {
		return b, nil
	}
	return "", repository.ErrNotFound
}

func (s *templateStub) InsertVariant(ctx context.Context, variant *domain.TemplateVariant) error {
	s.variants = append(s.variants, variant)
	return nil
}

type learningRepoStub struct {
	insights []*domain.Insight
	replaced []*domain.ConversationPattern
	patterns []*domain.ConversationPattern
}

func (s *learningRepoStub) InsertInsight(ctx context.Context, insight *domain.Insight) error {
	s.insights = append(s.insights, insight)
	return nil
}

func (s *learningRepoStub) ListInsights(ctx context.Context, leadID uuid.UUID, limit int) ([]*domain.Insight, error) {
	return s.insights, nil
}

func (s *learningRepoStub) ReplacePattern(ctx context.Context, pattern *domain.ConversationPattern) error {
	s.replaced = append(s.replaced, pattern)
	return nil
}

func (s *learningRepoStub) ListPatterns(ctx context.Context) ([]*domain.ConversationPattern, error) {
	return s.patterns, nil
}

type eventStub struct {
	appended []*domain.LearningEvent
	recent   []domain.LearningEvent
}

func (s *eventStub) Append(ctx context.Context, event *domain.LearningEvent) error {
	s.appended = append(s.appended, event)
	return nil
}

func (s *eventStub) ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.LearningEvent, error) {
	return nil, nil
}

func (s *eventStub) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.LearningEvent, error) {
	return s.recent, nil
}

func (s *eventStub) CountByLead(ctx context.Context, leadID uuid.UUID) (int, error) {
	return 0, nil
}

func testLearningConfig() config.LearningConfig {
	return config.LearningConfig{
		MinTemplateResponseRate: 0.4,
		MinTemplateUsage:        10,
		MinPatternExamples:      3,
		RecentOutcomeWindow:     30 * 24 * time.Hour,
		LongBodyThreshold:       150,
		TooSoonThreshold:        2 * time.Hour,
	}
}

type fixture struct {
	queue     *queueStub
	leads     *leadStub
	analyses  *analysisStub
	templates *templateStub
	repo      *learningRepoStub
	events    *eventStub
}

func newTestEngine(t *testing.T) (*Engine, *fixture) {
	t.Helper()
	f := &fixture{
		queue:     &queueStub{messages: map[uuid.UUID]*domain.QueuedMessage{}},
		leads:     &leadStub{},
		analyses:  &analysisStub{},
		templates: &templateStub{bodies: map[string]string{}},
		repo:      &learningRepoStub{},
		events:    &eventStub{},
	}
	lg := &logger.Logger{Logger: zap.NewNop()}
	engine := NewEngine(testLearningConfig(), f.queue, f.leads, f.analyses, f.templates, f.repo, f.events, lg)
	return engine, f
}

func hasFinding(insight *domain.Insight, finding string) bool {
	for _, f := range insight.Findings {
		if f == finding {
			return true
		}
	}
	return false
}

func TestCaptureOutcomeNoResponseFailureAnalysis(t *testing.T) {
	engine, f := newTestEngine(t)

	leadID := uuid.New()
	messageID := uuid.New()
	lastReply := time.Now().Add(-3 * time.Hour)
	sentAt := lastReply.Add(time.Hour) // one hour after the lead's reply

	f.leads.lead = &domain.Lead{ID: leadID, Stage: "warm", LastReplyAt: &lastReply}
	f.queue.messages[messageID] = &domain.QueuedMessage{
		ID:     messageID,
		LeadID: leadID,
		Body:   strings.Repeat("We have a fantastic selection waiting for you. ", 5), // > 150 chars
		SentAt: &sentAt,
	}

	err := engine.CaptureOutcome(context.Background(), Outcome{
		LeadID:    leadID,
		MessageID: &messageID,
		Responded: false,
	})
	if err != nil {
		t.Fatalf("CaptureOutcome: %v", err)
	}

	if len(f.events.appended) != 1 {
		t.Fatalf("appended %d events, want 1", len(f.events.appended))
	}
	event := f.events.appended[0]
	if event.Type != domain.EventNoResponse {
		t.Errorf("event type = %s, want %s", event.Type, domain.EventNoResponse)
	}
	if event.LeadStage != "warm" {
		t.Errorf("snapshot stage = %q, want warm", event.LeadStage)
	}

	if len(f.repo.insights) != 1 {
		t.Fatalf("stored %d insights, want 1", len(f.repo.insights))
	}
	insight := f.repo.insights[0]
	if insight.Type != domain.InsightFailureAnalysis {
		t.Fatalf("insight type = %s, want %s", insight.Type, domain.InsightFailureAnalysis)
	}
	if !hasFinding(insight, "message_too_long") {
		t.Errorf("findings %v missing message_too_long", insight.Findings)
	}
	if !hasFinding(insight, "sent_too_soon") {
		t.Errorf("findings %v missing sent_too_soon", insight.Findings)
	}
}

func TestCaptureOutcomeConversionReinforces(t *testing.T) {
	engine, f := newTestEngine(t)

	leadID := uuid.New()
	err := engine.CaptureOutcome(context.Background(), Outcome{
		LeadID:          leadID,
		Responded:       true,
		ResponseTime:    20 * time.Minute,
		EngagementScore: 0.9,
		ConversionValue: 28500,
	})
	if err != nil {
		t.Fatalf("CaptureOutcome: %v", err)
	}

	if f.events.appended[0].Type != domain.EventConversion {
		t.Errorf("event type = %s, want %s", f.events.appended[0].Type, domain.EventConversion)
	}
	if len(f.repo.insights) != 1 || f.repo.insights[0].Type != domain.InsightSuccessReinforcement {
		t.Errorf("expected one success_reinforcement insight, got %v", f.repo.insights)
	}
}

func TestLearnFromFeedbackRecordsDisagreement(t *testing.T) {
	engine, f := newTestEngine(t)

	messageID := uuid.New()
	f.analyses.analysis = &domain.MessageAnalysis{
		MessageID:      messageID,
		LeadID:         uuid.New(),
		OverallScore:   82,
		Recommendation: domain.RecommendReviewRequired,
	}

	if err := engine.LearnFromFeedback(context.Background(), messageID, false, "tone off"); err != nil {
		t.Fatalf("LearnFromFeedback: %v", err)
	}

	if len(f.repo.insights) != 1 {
		t.Fatalf("stored %d insights, want 1", len(f.repo.insights))
	}
	insight := f.repo.insights[0]
	if insight.Type != domain.InsightReviewFeedback {
		t.Errorf("insight type = %s, want %s", insight.Type, domain.InsightReviewFeedback)
	}
	disagreed := false
	for _, finding := range insight.Findings {
		if strings.Contains(finding, "disagreed") {
			disagreed = true
		}
	}
	if !disagreed {
		t.Errorf("findings %v should note the disagreement (score 82, reviewer rejected)", insight.Findings)
	}
}

func TestEvolveTemplatesRegistersVariants(t *testing.T) {
	engine, f := newTestEngine(t)

	// Verbose, no question, no courtesy: all three mutations apply.
	body := strings.TrimSpace(strings.Repeat("We currently have several great options on the lot for you to look at. ", 5))
	hash := domain.TemplateHash(body)
	f.templates.profiles = []*domain.TemplatePerformanceProfile{
		{Hash: hash, ResponseRate: 0.55, UsageCount: 25},
		{Hash: "underperformer", ResponseRate: 0.1, UsageCount: 40},
		{Hash: "thin", ResponseRate: 0.9, UsageCount: 2},
	}
	f.templates.bodies[hash] = body

	variants, err := engine.EvolveTemplates(context.Background())
	if err != nil {
		t.Fatalf("EvolveTemplates: %v", err)
	}

	if len(variants) != 3 {
		t.Fatalf("got %d variants, want 3 (add_question, shorten, courtesy_opener)", len(variants))
	}

	mutations := map[string]bool{}
	for _, v := range variants {
		mutations[v.Mutation] = true
		if v.ParentHash != hash {
			t.Errorf("variant parent = %s, want %s", v.ParentHash, hash)
		}
		if v.Body == body {
			t.Errorf("mutation %s did not change the body", v.Mutation)
		}
	}
	for _, want := range []string{"add_question", "shorten", "courtesy_opener"} {
		if !mutations[want] {
			t.Errorf("missing mutation %s", want)
		}
	}
}

func TestRecognizePatternsNeedsEnoughExamples(t *testing.T) {
	engine, f := newTestEngine(t)

	leadID := uuid.New()
	for i := 0; i < 4; i++ {
		f.events.recent = append(f.events.recent, domain.LearningEvent{
			ID: uuid.New(), LeadID: leadID, Type: domain.EventConversion,
			ResponseTime: 2 * time.Hour, SentHour: 14, LeadStage: "hot",
		})
	}
	// Only two quick engagements: below the minimum, no pattern emitted.
	for i := 0; i < 2; i++ {
		f.events.recent = append(f.events.recent, domain.LearningEvent{
			ID: uuid.New(), LeadID: leadID, Type: domain.EventResponseReceived,
			ResponseTime: 10 * time.Minute, SentHour: 10,
		})
	}

	patterns, err := engine.RecognizePatterns(context.Background())
	if err != nil {
		t.Fatalf("RecognizePatterns: %v", err)
	}

	if len(patterns) != 1 {
		t.Fatalf("got %d patterns, want 1", len(patterns))
	}
	pattern := patterns[0]
	if pattern.Type != domain.PatternConversion {
		t.Errorf("pattern type = %s, want %s", pattern.Type, domain.PatternConversion)
	}
	if pattern.SampleCount != 4 {
		t.Errorf("sample count = %d, want 4", pattern.SampleCount)
	}
	if len(f.repo.replaced) != 1 {
		t.Errorf("ReplacePattern called %d times, want 1", len(f.repo.replaced))
	}
}

func TestPredictOutcomeInsufficientData(t *testing.T) {
	engine, _ := newTestEngine(t)

	predicted, err := engine.PredictOutcome(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("PredictOutcome: %v", err)
	}
	if predicted.Outcome != "insufficient_data" {
		t.Errorf("outcome = %s, want insufficient_data", predicted.Outcome)
	}
	if predicted.Confidence > 30 {
		t.Errorf("confidence = %.0f, want low", predicted.Confidence)
	}
}

func TestPredictOutcomeAcceleratingConversation(t *testing.T) {
	engine, f := newTestEngine(t)

	leadID := uuid.New()
	base := time.Now().Add(-160 * time.Hour)

	// Early replies days apart, latest replies hours apart, lead spoke last.
	var history []domain.ConversationMessage
	for _, offset := range []time.Duration{0, 48 * time.Hour, 96 * time.Hour, 144 * time.Hour,
		150 * time.Hour, 151 * time.Hour, 152 * time.Hour, 153 * time.Hour} {
		history = append(history,
			domain.ConversationMessage{LeadID: leadID, Direction: domain.DirectionOutbound, Body: "update", SentAt: base.Add(offset - 30*time.Minute)},
			domain.ConversationMessage{LeadID: leadID, Direction: domain.DirectionInbound, Body: "tell me more", SentAt: base.Add(offset)},
		)
	}
	f.leads.history = history
	f.repo.patterns = []*domain.ConversationPattern{
		{
			Type:               domain.PatternConversion,
			SuccessRate:        0.5,
			AvgTimeToOutcome:   6 * time.Hour,
			RecommendedActions: []string{"propose a visit or call"},
			SampleCount:        8,
		},
	}

	predicted, err := engine.PredictOutcome(context.Background(), leadID)
	if err != nil {
		t.Fatalf("PredictOutcome: %v", err)
	}

	if predicted.Trajectory != domain.TrajectoryPositive {
		t.Errorf("trajectory = %s, want positive", predicted.Trajectory)
	}
	if predicted.Momentum != domain.MomentumIncreasing {
		t.Errorf("momentum = %s, want increasing", predicted.Momentum)
	}
	if predicted.Outcome != string(domain.PatternConversion) {
		t.Errorf("outcome = %s, want %s", predicted.Outcome, domain.PatternConversion)
	}
	if predicted.EstimatedTime != 6*time.Hour {
		t.Errorf("estimated time = %s, want 6h from the matched pattern", predicted.EstimatedTime)
	}
	if len(predicted.RecommendedActions) == 0 {
		t.Error("expected recommended actions from the matched pattern")
	}
}
