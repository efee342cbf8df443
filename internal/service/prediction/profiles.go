package prediction

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/cache"
	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// conversionIndicators are inbound phrases that historically precede a sale.
var conversionIndicators = []string{
	"price", "financing", "test drive", "trade-in", "trade in",
	"appointment", "come in", "when can", "how much", "available",
}

// ProfileStore maintains the TTL-bound lead and template statistical profiles
// that scoring and prediction read. Profiles are rebuilt from history on cache
// miss and in periodic bounded batches; they are never written directly.
type ProfileStore struct {
	cfg       config.PredictionConfig
	leads     repository.LeadRepository
	templates repository.TemplateRepository
	events    repository.EventStore
	logger    *logger.Logger

	leadCache     *cache.TTL[uuid.UUID, *domain.LeadEngagementProfile]
	templateCache *cache.TTL[string, *domain.TemplatePerformanceProfile]

	refreshMu   sync.Mutex
	lastRefresh time.Time

	now func() time.Time
}

// NewProfileStore constructs the store with its caches.
func NewProfileStore(
	cfg config.PredictionConfig,
	leads repository.LeadRepository,
	templates repository.TemplateRepository,
	events repository.EventStore,
	lg *logger.Logger,
) *ProfileStore {
	return &ProfileStore{
		cfg:           cfg,
		leads:         leads,
		templates:     templates,
		events:        events,
		logger:        lg,
		leadCache:     cache.NewTTL[uuid.UUID, *domain.LeadEngagementProfile](cfg.CacheTTL),
		templateCache: cache.NewTTL[string, *domain.TemplatePerformanceProfile](cfg.CacheTTL),
		now:           time.Now,
	}
}

// LeadProfile returns the cached profile for a lead, rebuilding it on a miss.
// A rebuild failure falls back to the stale entry, then to a conservative
// default; the second result reports whether real history backed the profile.
func (s *ProfileStore) LeadProfile(ctx context.Context, leadID uuid.UUID) (*domain.LeadEngagementProfile, bool) {
	if profile, ok := s.leadCache.Get(leadID); ok {
		return profile, true
	}

	profile, err := s.buildLeadProfile(ctx, leadID)
	if err != nil {
		s.logger.Warn("profile store: lead rebuild failed",
			zap.String("lead_id", leadID.String()), zap.Error(err))
		if stale, _, ok := s.leadCache.Stale(leadID); ok {
			return stale, true
		}
		return defaultLeadProfile(leadID, s.now()), false
	}

	s.leadCache.Set(leadID, profile)
	return profile, profile.TotalInteractions > 0
}

// TemplateProfile returns the cached aggregate for a template hash.
func (s *ProfileStore) TemplateProfile(ctx context.Context, hash string) (*domain.TemplatePerformanceProfile, bool) {
	if profile, ok := s.templateCache.Get(hash); ok {
		return profile, true
	}

	profile, err := s.templates.GetProfile(ctx, hash)
	if err != nil {
		if err != repository.ErrNotFound {
			s.logger.Warn("profile store: template fetch failed",
				zap.String("hash", hash), zap.Error(err))
		}
		if stale, _, ok := s.templateCache.Stale(hash); ok {
			return stale, true
		}
		return nil, false
	}

	s.templateCache.Set(hash, profile)
	return profile, true
}

// MatchTemplate resolves a message body to a template profile, trying the
// exact content hash first and then fuzzy word-overlap against the top
// performers. The string result is "exact", "fuzzy" or "".
func (s *ProfileStore) MatchTemplate(ctx context.Context, body string) (*domain.TemplatePerformanceProfile, string) {
	hash := domain.TemplateHash(body)
	if profile, ok := s.TemplateProfile(ctx, hash); ok {
		return profile, "exact"
	}

	top, err := s.templates.TopProfiles(ctx, 10)
	if err != nil {
		return nil, ""
	}

	words := wordSet(body)
	var best *domain.TemplatePerformanceProfile
	bestScore := 0.0
	for _, candidate := range top {
		candidateBody, err := s.templates.GetBody(ctx, candidate.Hash)
		if err != nil {
			continue
		}
		if overlap := jaccard(words, wordSet(candidateBody)); overlap > bestScore {
			bestScore = overlap
			best = candidate
		}
	}

	if best != nil && bestScore >= 0.6 {
		return best, "fuzzy"
	}
	return nil, ""
}

// TopTemplateMean averages the response rate of the top performing templates,
// the fallback when a message matches no known template.
func (s *ProfileStore) TopTemplateMean(ctx context.Context) (float64, bool) {
	top, err := s.templates.TopProfiles(ctx, 10)
	if err != nil || len(top) == 0 {
		return 0, false
	}

	var sum float64
	for _, profile := range top {
		sum += profile.ResponseRate
	}
	return sum / float64(len(top)), true
}

// Refresh rebuilds profiles for recently active leads in bounded batches. It
// runs at most once per validity window; extra calls are no-ops.
func (s *ProfileStore) Refresh(ctx context.Context) {
	s.refreshMu.Lock()
	if s.now().Sub(s.lastRefresh) < s.cfg.CacheTTL {
		s.refreshMu.Unlock()
		return
	}
	s.lastRefresh = s.now()
	s.refreshMu.Unlock()

	since := s.now().Add(-s.cfg.HistoryWindow)
	ids, err := s.leads.ListRecentlyActive(ctx, since, s.cfg.RebuildBatchSize*4)
	if err != nil {
		s.logger.Warn("profile store: list active leads failed", zap.Error(err))
		return
	}

	rebuilt := 0
	for start := 0; start < len(ids); start += s.cfg.RebuildBatchSize {
		end := start + s.cfg.RebuildBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			profile, err := s.buildLeadProfile(ctx, id)
			if err != nil {
				// Skip this lead; stale data serves until the next pass.
				s.logger.Debug("profile store: refresh skipped lead",
					zap.String("lead_id", id.String()), zap.Error(err))
				continue
			}
			s.leadCache.Set(id, profile)
			rebuilt++
		}
	}

	s.templateCache.Prune()
	s.leadCache.Prune()
	s.logger.Info("profile store: refresh complete",
		zap.Int("candidates", len(ids)), zap.Int("rebuilt", rebuilt))
}

// CacheSizes reports entry counts for status reporting.
func (s *ProfileStore) CacheSizes() (leads int, templates int) {
	return s.leadCache.Len(), s.templateCache.Len()
}

func (s *ProfileStore) buildLeadProfile(ctx context.Context, leadID uuid.UUID) (*domain.LeadEngagementProfile, error) {
	history, err := s.leads.ListConversation(ctx, leadID, 200)
	if err != nil {
		return nil, err
	}

	profile := BuildLeadProfile(leadID, history, s.now())
	return profile, nil
}

// BuildLeadProfile derives engagement statistics from conversation history.
// History is expected newest-first.
func BuildLeadProfile(leadID uuid.UUID, history []domain.ConversationMessage, now time.Time) *domain.LeadEngagementProfile {
	profile := &domain.LeadEngagementProfile{
		LeadID:  leadID,
		Pattern: domain.EngagementLow,
		BuiltAt: now,
	}

	if len(history) == 0 {
		return profile
	}

	// Walk oldest-first so inbound replies pair with the outbound before them.
	ordered := make([]domain.ConversationMessage, len(history))
	copy(ordered, history)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SentAt.Before(ordered[j].SentAt) })

	var (
		outbound, inbound int
		replies           int
		totalResponseTime time.Duration
		pendingOutboundAt *time.Time
		hourCounts        [24]int
		dayCounts         [7]int
		lastEngagement    *time.Time
		indicators        []string
		seenIndicator     = map[string]bool{}
	)

	for _, msg := range ordered {
		switch msg.Direction {
		case domain.DirectionOutbound:
			outbound++
			t := msg.SentAt
			pendingOutboundAt = &t
		case domain.DirectionInbound:
			inbound++
			t := msg.SentAt
			lastEngagement = &t
			hourCounts[msg.SentAt.Hour()]++
			dayCounts[int(msg.SentAt.Weekday())]++
			if pendingOutboundAt != nil {
				replies++
				totalResponseTime += msg.SentAt.Sub(*pendingOutboundAt)
				pendingOutboundAt = nil
			}
			lower := strings.ToLower(msg.Body)
			for _, indicator := range conversionIndicators {
				if !seenIndicator[indicator] && strings.Contains(lower, indicator) {
					seenIndicator[indicator] = true
					indicators = append(indicators, indicator)
				}
			}
		}
	}

	profile.TotalInteractions = outbound + inbound
	profile.PositiveInteractions = inbound
	profile.LastEngagementAt = lastEngagement
	profile.ConversionIndicators = indicators

	if outbound > 0 {
		profile.ResponseRate = float64(replies) / float64(outbound)
	}
	if replies > 0 {
		profile.AvgResponseTime = totalResponseTime / time.Duration(replies)
	}

	profile.PreferredHours = topIndexes(hourCounts[:], 3)
	for _, day := range topIndexes(dayCounts[:], 3) {
		profile.PreferredDays = append(profile.PreferredDays, time.Weekday(day))
	}

	profile.Pattern = classifyEngagement(profile, now)
	return profile
}

func classifyEngagement(profile *domain.LeadEngagementProfile, now time.Time) domain.EngagementPattern {
	recency := time.Duration(1<<62 - 1)
	if profile.LastEngagementAt != nil {
		recency = now.Sub(*profile.LastEngagementAt)
	}

	switch {
	case profile.ResponseRate >= 0.6 && recency < 7*24*time.Hour:
		return domain.EngagementHigh
	case profile.ResponseRate >= 0.3 && recency < 30*24*time.Hour:
		return domain.EngagementMedium
	default:
		return domain.EngagementLow
	}
}

func defaultLeadProfile(leadID uuid.UUID, now time.Time) *domain.LeadEngagementProfile {
	return &domain.LeadEngagementProfile{
		LeadID:         leadID,
		ResponseRate:   0.1,
		PreferredHours: []int{10, 14, 17},
		Pattern:        domain.EngagementLow,
		BuiltAt:        now,
	}
}

func topIndexes(counts []int, n int) []int {
	type bucket struct{ index, count int }
	buckets := make([]bucket, 0, len(counts))
	for i, c := range counts {
		if c > 0 {
			buckets = append(buckets, bucket{index: i, count: c})
		}
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].count != buckets[j].count {
			return buckets[i].count > buckets[j].count
		}
		return buckets[i].index < buckets[j].index
	})

	if len(buckets) > n {
		buckets = buckets[:n]
	}
	result := make([]int, 0, len(buckets))
	for _, b := range buckets {
		result = append(result, b.index)
	}
	sort.Ints(result)
	return result
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(word, ".,!?;:\"'")] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for word := range a {
		if b[word] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
