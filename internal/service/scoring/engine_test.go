package scoring

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
	"github.com/acme/outbound-message-automation/internal/service/prediction"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// Tuesday 2pm UTC.
var tuesdayAfternoon = time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC)

// Sunday 6am UTC.
var sundayMorning = time.Date(2024, 1, 7, 6, 0, 0, 0, time.UTC)

type leadRepoStub struct {
	lead        *domain.Lead
	history     []domain.ConversationMessage
	outbound24h int
}

func (s *leadRepoStub) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	if s.lead == nil {
		return nil, repository.ErrNotFound
	}
	return s.lead, nil
}

func (s *leadRepoStub) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Lead, error) {
	out := make(map[uuid.UUID]*domain.Lead)
	if s.lead != nil {
		out[s.lead.ID] = s.lead
	}
	return out, nil
}

func (s *leadRepoStub) ListConversation(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	if limit > len(s.history) {
		limit = len(s.history)
	}
	return s.history[:limit], nil
}

func (s *leadRepoStub) CountOutboundSince(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error) {
	return s.outbound24h, nil
}

func (s *leadRepoStub) ListRecentlyActive(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type templateRepoStub struct {
	profiles map[string]*domain.TemplatePerformanceProfile
	bodies   map[string]string
}

func (s *templateRepoStub) GetProfile(ctx context.Context, hash string) (*domain.TemplatePerformanceProfile, error) {
	if p, ok := s.profiles[hash]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func (s *templateRepoStub) TopProfiles(ctx context.Context, limit int) ([]*domain.TemplatePerformanceProfile, error) {
	out := make([]*domain.TemplatePerformanceProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (s *templateRepoStub) ListProfiles(ctx context.Context, minUsage int) ([]*domain.TemplatePerformanceProfile, error) {
	return s.TopProfiles(ctx, 0)
}

func (s *templateRepoStub) GetBody(ctx context.Context, hash string) (string, error) {
	if b, ok := s.bodies[hash]; ok {
		return b, nil
	}
	return "", repository.ErrNotFound
}

func (s *templateRepoStub) InsertVariant(ctx context.Context, variant *domain.TemplateVariant) error {
	return nil
}

type eventStoreStub struct {
	countByLead int
}

func (s *eventStoreStub) Append(ctx context.Context, event *domain.LearningEvent) error {
	return nil
}

func (s *eventStoreStub) ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.LearningEvent, error) {
	return nil, nil
}

func (s *eventStoreStub) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.LearningEvent, error) {
	return nil, nil
}

func (s *eventStoreStub) CountByLead(ctx context.Context, leadID uuid.UUID) (int, error) {
	return s.countByLead, nil
}

type analysisRepoStub struct {
	inserted []*domain.MessageAnalysis
}

func (s *analysisRepoStub) Insert(ctx context.Context, analysis *domain.MessageAnalysis) error {
	s.inserted = append(s.inserted, analysis)
	return nil
}

func (s *analysisRepoStub) GetByMessage(ctx context.Context, messageID uuid.UUID) (*domain.MessageAnalysis, error) {
	for _, a := range s.inserted {
		if a.MessageID == messageID {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		TemplateWeight: 0.30,
		LeadWeight:     0.25,
		ContentWeight:  0.20,
		TimingWeight:   0.15,
		RiskWeight:     0.10,

		RiskReviewThreshold:   50,
		AutoApproveScore:      85,
		AutoApproveConfidence: 80,
		ReviewScore:           75,
		ReviewConfidence:      60,
		EnhanceScore:          40,
		EnhanceConfidence:     70,
	}
}

func newTestEngine(t *testing.T, leads *leadRepoStub, templates *templateRepoStub, events *eventStoreStub, now time.Time) (*Engine, *analysisRepoStub) {
	t.Helper()

	lg := &logger.Logger{Logger: zap.NewNop()}
	analyses := &analysisRepoStub{}

	profiles := prediction.NewProfileStore(config.PredictionConfig{
		CacheTTL:         time.Minute,
		RebuildBatchSize: 25,
		HistoryWindow:    30 * 24 * time.Hour,
	}, leads, templates, events, lg)

	engine := NewEngine(testScoringConfig(), profiles, leads, events, analyses, nil, lg)
	engine.now = func() time.Time { return now }
	return engine, analyses
}

// responsiveHistory builds an interleaved conversation where every outbound
// message got a reply within an hour, most recent activity an hour ago.
func responsiveHistory(leadID uuid.UUID, pairs int) []domain.ConversationMessage {
	now := time.Now()
	var history []domain.ConversationMessage
	for i := 0; i < pairs; i++ {
		out := now.Add(-time.Duration(i*12+2) * time.Hour)
		history = append(history,
			domain.ConversationMessage{LeadID: leadID, Direction: domain.DirectionInbound, Body: "sounds good, how much is it?", SentAt: out.Add(time.Hour)},
			domain.ConversationMessage{LeadID: leadID, Direction: domain.DirectionOutbound, Body: "following up", SentAt: out},
		)
	}
	return history
}

func TestAnalyzeAutoApprovesStrongCandidate(t *testing.T) {
	leadID := uuid.New()
	body := "Hi Maya, thanks for stopping by! The Civic trim you liked is back in stock. Would Thursday afternoon work for a quick test drive?"
	hash := domain.TemplateHash(body)

	leads := &leadRepoStub{
		lead:    &domain.Lead{ID: leadID, FirstName: "Maya", Stage: "hot", VehicleInterest: "Civic"},
		history: responsiveHistory(leadID, 10),
	}
	templates := &templateRepoStub{
		profiles: map[string]*domain.TemplatePerformanceProfile{
			hash: {Hash: hash, ResponseRate: 0.6, ConversionRate: 0.2, UsageCount: 20},
		},
		bodies: map[string]string{hash: body},
	}
	events := &eventStoreStub{countByLead: 12}

	engine, analyses := newTestEngine(t, leads, templates, events, tuesdayAfternoon)

	analysis, err := engine.Analyze(context.Background(), uuid.New(), body, leadID, domain.UrgencyMedium)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analysis.Recommendation != domain.RecommendAutoApprove {
		t.Fatalf("recommendation = %s, want %s (overall %.1f confidence %.1f risk %.1f)",
			analysis.Recommendation, domain.RecommendAutoApprove,
			analysis.OverallScore, analysis.Confidence, analysis.RiskScore)
	}
	if analysis.OverallScore < 85 || analysis.OverallScore > 100 {
		t.Errorf("overall = %.1f, want [85,100]", analysis.OverallScore)
	}
	if analysis.Confidence < 80 {
		t.Errorf("confidence = %.1f, want >= 80", analysis.Confidence)
	}
	if analysis.TimingScore != 75 {
		t.Errorf("timing = %.1f, want 75 for Tuesday 2pm with no recent sends", analysis.TimingScore)
	}
	if len(analyses.inserted) != 1 {
		t.Errorf("persisted %d analyses, want 1", len(analyses.inserted))
	}
}

func TestAnalyzeFrequencyGateBlocksAutoApprove(t *testing.T) {
	leadID := uuid.New()
	body := "Hi Maya, thanks for stopping by! The Civic trim you liked is back in stock. Would Thursday afternoon work for a quick test drive?"
	hash := domain.TemplateHash(body)

	// Identical strong setup, except five messages already went out today.
	leads := &leadRepoStub{
		lead:        &domain.Lead{ID: leadID, FirstName: "Maya", Stage: "hot", VehicleInterest: "Civic"},
		history:     responsiveHistory(leadID, 10),
		outbound24h: 5,
	}
	templates := &templateRepoStub{
		profiles: map[string]*domain.TemplatePerformanceProfile{
			hash: {Hash: hash, ResponseRate: 0.6, ConversionRate: 0.2, UsageCount: 20},
		},
		bodies: map[string]string{hash: body},
	}
	events := &eventStoreStub{countByLead: 12}

	engine, _ := newTestEngine(t, leads, templates, events, tuesdayAfternoon)

	analysis, err := engine.Analyze(context.Background(), uuid.New(), body, leadID, domain.UrgencyMedium)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analysis.RiskScore != 60 {
		t.Errorf("risk = %.1f, want 60 (frequency risk capped)", analysis.RiskScore)
	}
	if analysis.Recommendation != domain.RecommendReviewRequired {
		t.Errorf("recommendation = %s, want %s: repeated contact must never auto-approve",
			analysis.Recommendation, domain.RecommendReviewRequired)
	}
	if analysis.TimingScore != 35 {
		t.Errorf("timing = %.1f, want 35 after frequency penalty", analysis.TimingScore)
	}
}

func TestAnalyzeComplianceRiskForcesReview(t *testing.T) {
	leadID := uuid.New()
	body := "Hi Maya, you are a winner! Guaranteed approval with no credit check on the Civic you liked, plus cash back if you visit this week."
	hash := domain.TemplateHash(body)

	leads := &leadRepoStub{
		lead:    &domain.Lead{ID: leadID, FirstName: "Maya", Stage: "hot", VehicleInterest: "Civic"},
		history: responsiveHistory(leadID, 10),
	}
	templates := &templateRepoStub{
		profiles: map[string]*domain.TemplatePerformanceProfile{
			hash: {Hash: hash, ResponseRate: 0.6, ConversionRate: 0.2, UsageCount: 20},
		},
		bodies: map[string]string{hash: body},
	}
	events := &eventStoreStub{countByLead: 12}

	engine, _ := newTestEngine(t, leads, templates, events, tuesdayAfternoon)

	analysis, err := engine.Analyze(context.Background(), uuid.New(), body, leadID, domain.UrgencyMedium)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analysis.RiskScore <= 50 {
		t.Fatalf("risk = %.1f, want > 50 for compliance-sensitive language", analysis.RiskScore)
	}
	if analysis.Recommendation != domain.RecommendReviewRequired {
		t.Errorf("recommendation = %s, want %s", analysis.Recommendation, domain.RecommendReviewRequired)
	}
}

func TestAnalyzeRejectsWeakMessageWithNoData(t *testing.T) {
	leadID := uuid.New()
	body := "Act now! Limited time offer expires soon"

	leads := &leadRepoStub{
		lead: &domain.Lead{ID: leadID, Stage: "cold"},
	}
	templates := &templateRepoStub{}
	events := &eventStoreStub{}

	engine, _ := newTestEngine(t, leads, templates, events, sundayMorning)

	analysis, err := engine.Analyze(context.Background(), uuid.New(), body, leadID, domain.UrgencyLow)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analysis.OverallScore >= 40 {
		t.Errorf("overall = %.1f, want < 40", analysis.OverallScore)
	}
	if analysis.Confidence > 70 {
		t.Errorf("confidence = %.1f, want <= 70 with no history or template data", analysis.Confidence)
	}
	if analysis.Recommendation != domain.RecommendReject {
		t.Errorf("recommendation = %s, want %s", analysis.Recommendation, domain.RecommendReject)
	}
}

func TestAnalyzeEnhancesWeakMessageWithRichData(t *testing.T) {
	leadID := uuid.New()
	body := "Act now! Limited time offer expires soon"
	hash := domain.TemplateHash(body)

	// Plenty of history, but the lead barely responds and the template has
	// performed poorly: we know enough to say the draft needs rework.
	now := time.Now()
	history := []domain.ConversationMessage{
		{LeadID: leadID, Direction: domain.DirectionInbound, Body: "not interested right now", SentAt: now.Add(-24 * time.Hour)},
	}
	for i := 0; i < 12; i++ {
		history = append(history, domain.ConversationMessage{
			LeadID:    leadID,
			Direction: domain.DirectionOutbound,
			Body:      "checking in",
			SentAt:    now.Add(-time.Duration(i+2) * 24 * time.Hour),
		})
	}

	leads := &leadRepoStub{
		lead:    &domain.Lead{ID: leadID, FirstName: "Sam", Stage: "cold"},
		history: history,
	}
	templates := &templateRepoStub{
		profiles: map[string]*domain.TemplatePerformanceProfile{
			hash: {Hash: hash, ResponseRate: 0.05, UsageCount: 20},
		},
		bodies: map[string]string{hash: body},
	}
	events := &eventStoreStub{countByLead: 12}

	engine, _ := newTestEngine(t, leads, templates, events, sundayMorning)

	analysis, err := engine.Analyze(context.Background(), uuid.New(), body, leadID, domain.UrgencyLow)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analysis.OverallScore >= 40 {
		t.Errorf("overall = %.1f, want < 40", analysis.OverallScore)
	}
	if analysis.Confidence <= 70 {
		t.Errorf("confidence = %.1f, want > 70 with exact template match and deep history", analysis.Confidence)
	}
	if analysis.Recommendation != domain.RecommendEnhance {
		t.Errorf("recommendation = %s, want %s", analysis.Recommendation, domain.RecommendEnhance)
	}
}

func TestAnalyzeUnknownLeadDegradesGracefully(t *testing.T) {
	leadID := uuid.New()
	body := "Hi there, just checking whether you are still interested in scheduling a visit with us this week?"

	engine, analyses := newTestEngine(t, &leadRepoStub{}, &templateRepoStub{}, &eventStoreStub{}, tuesdayAfternoon)

	analysis, err := engine.Analyze(context.Background(), uuid.New(), body, leadID, domain.UrgencyMedium)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if analysis.Recommendation == domain.RecommendAutoApprove {
		t.Error("unknown lead must not auto-approve")
	}
	found := false
	for _, reason := range analysis.Reasoning {
		if strings.Contains(reason, "neutral defaults") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasoning %v missing degraded-lead note", analysis.Reasoning)
	}
	if len(analyses.inserted) != 1 {
		t.Errorf("persisted %d analyses, want 1", len(analyses.inserted))
	}
}

func TestScoreBoundsAndDeterminism(t *testing.T) {
	leadID := uuid.New()
	body := "Hi Maya, thanks again! The Civic you asked about is here. Want to come by for a test drive on Thursday?"
	hash := domain.TemplateHash(body)

	leads := &leadRepoStub{
		lead:    &domain.Lead{ID: leadID, FirstName: "Maya", Stage: "hot", VehicleInterest: "Civic"},
		history: responsiveHistory(leadID, 10),
	}
	templates := &templateRepoStub{
		profiles: map[string]*domain.TemplatePerformanceProfile{
			hash: {Hash: hash, ResponseRate: 0.9, ConversionRate: 0.5, UsageCount: 40},
		},
		bodies: map[string]string{hash: body},
	}

	engine, _ := newTestEngine(t, leads, templates, &eventStoreStub{countByLead: 20}, tuesdayAfternoon)

	first := engine.score(context.Background(), uuid.New(), body, leadID, domain.UrgencyHigh, hash)
	second := engine.score(context.Background(), uuid.New(), body, leadID, domain.UrgencyHigh, hash)

	for name, v := range map[string]float64{
		"template": first.TemplateScore,
		"lead":     first.LeadScore,
		"timing":   first.TimingScore,
		"content":  first.ContentScore,
		"risk":     first.RiskScore,
		"overall":  first.OverallScore,
		"conf":     first.Confidence,
	} {
		if v < 0 || v > 100 {
			t.Errorf("%s score %.1f out of [0,100]", name, v)
		}
	}

	if first.OverallScore != second.OverallScore || first.Recommendation != second.Recommendation {
		t.Errorf("scoring not deterministic: %.1f/%s vs %.1f/%s",
			first.OverallScore, first.Recommendation, second.OverallScore, second.Recommendation)
	}
}

func TestRecommendPriorityOrder(t *testing.T) {
	engine := &Engine{cfg: testScoringConfig()}

	cases := []struct {
		name                    string
		overall, confidence, risk float64
		want                    domain.Recommendation
	}{
		{"risk gate beats perfect score", 100, 100, 51, domain.RecommendReviewRequired},
		{"auto approve", 90, 85, 10, domain.RecommendAutoApprove},
		{"high score low confidence reviews", 90, 50, 10, domain.RecommendReviewRequired},
		{"mid score reviews", 78, 65, 10, domain.RecommendReviewRequired},
		{"low score high confidence enhances", 30, 80, 10, domain.RecommendEnhance},
		{"low score low confidence rejects", 30, 40, 10, domain.RecommendReject},
		{"middle band falls to review", 60, 30, 10, domain.RecommendReviewRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := engine.recommend(tc.overall, tc.confidence, tc.risk); got != tc.want {
				t.Errorf("recommend(%.0f, %.0f, %.0f) = %s, want %s",
					tc.overall, tc.confidence, tc.risk, got, tc.want)
			}
		})
	}
}
