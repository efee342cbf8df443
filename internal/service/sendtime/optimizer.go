package sendtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
	"github.com/acme/outbound-message-automation/internal/service/prediction"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

const rescheduleBatch = 100

// fallbackHours are used when neither the lead nor the template has any
// hour-of-day signal.
var fallbackHours = []int{10, 14, 17}

// Optimizer picks send moments for approved messages and periodically revisits
// already scheduled ones when better slots open up.
type Optimizer struct {
	cfg       config.OptimizerConfig
	predictor *prediction.Engine
	profiles  *prediction.ProfileStore
	queue     repository.MessageQueueRepository
	redis     *redis.Client
	logger    *logger.Logger
	now       func() time.Time

	// Local throttle, used when Redis is unavailable.
	localMu      sync.Mutex
	localLastRun time.Time
}

// NewOptimizer constructs a send-time optimizer. The Redis client may be nil;
// the rescheduling throttle then falls back to in-process state.
func NewOptimizer(
	cfg config.OptimizerConfig,
	predictor *prediction.Engine,
	profiles *prediction.ProfileStore,
	queue repository.MessageQueueRepository,
	client *redis.Client,
	lg *logger.Logger,
) *Optimizer {
	return &Optimizer{
		cfg:       cfg,
		predictor: predictor,
		profiles:  profiles,
		queue:     queue,
		redis:     client,
		logger:    lg,
		now:       time.Now,
	}
}

// OptimalSendTime recommends when to send one message. Urgency sets the
// earliest acceptable moment; the lead's preferred hours and the predicted
// optimum are blended from there. The result is never in the past.
func (o *Optimizer) OptimalSendTime(ctx context.Context, msg *domain.QueuedMessage) *domain.SendTimeRecommendation {
	now := o.now()
	earliest := now.Add(o.urgencyDelay(msg.Urgency))

	var reasoning []string
	reasoning = append(reasoning, fmt.Sprintf("%s urgency: earliest send %s", msg.Urgency, earliest.Format(time.RFC3339)))

	profile, known := o.profiles.LeadProfile(ctx, msg.LeadID)
	hours := profile.PreferredHours
	if len(hours) == 0 {
		hours = fallbackHours
		reasoning = append(reasoning, "no engagement history, using default hours")
	} else {
		reasoning = append(reasoning, fmt.Sprintf("lead preferred hours %v", hours))
	}

	preferred := nextSlot(earliest, hours)

	pred := o.predictor.Predict(ctx, msg.Body, msg.LeadID, msg.Urgency)
	blended := preferred
	if pred.OptimalSendTime.After(earliest) {
		blended = blend(preferred, pred.OptimalSendTime, 0.6)
		reasoning = append(reasoning, "blended with predicted optimal send time")
	}
	if blended.Before(earliest) {
		blended = earliest
	}

	confidence := 40.0
	if known {
		confidence += 20
	}
	confidence += pred.Confidence * 0.4
	if confidence > 100 {
		confidence = 100
	}

	return &domain.SendTimeRecommendation{
		SendAt:       blended,
		Confidence:   confidence,
		Reasoning:    reasoning,
		Alternatives: alternatives(blended, hours, 3),
	}
}

// OptimizeExistingSchedules revisits scheduled-but-unsent messages and moves
// the ones where a better slot is a low-risk change. At most one pass runs per
// interval across all replicas; a throttled call returns no adjustments.
func (o *Optimizer) OptimizeExistingSchedules(ctx context.Context) ([]domain.ScheduleAdjustment, error) {
	if !o.acquire(ctx) {
		return nil, nil
	}

	messages, err := o.queue.ListScheduledUnsent(ctx, rescheduleBatch)
	if err != nil {
		return nil, fmt.Errorf("sendtime: list scheduled: %w", err)
	}

	now := o.now()
	var adjustments []domain.ScheduleAdjustment

	for _, msg := range messages {
		if msg.ScheduledFor == nil || msg.ScheduledFor.Before(now) {
			continue
		}
		current := *msg.ScheduledFor

		recommendation := o.OptimalSendTime(ctx, msg)
		proposed := recommendation.SendAt
		if proposed.Equal(current) {
			continue
		}

		profile, _ := o.profiles.LeadProfile(ctx, msg.LeadID)
		improvement := o.scoreSendTime(proposed, profile) - o.scoreSendTime(current, profile)
		risk := o.classifyRisk(current, proposed)

		adjustment := domain.ScheduleAdjustment{
			MessageID:    msg.ID,
			CurrentTime:  current,
			ProposedTime: proposed,
			Improvement:  improvement,
			Risk:         risk,
		}

		if improvement > o.cfg.MinImprovement && risk == domain.ScheduleRiskLow {
			if err := o.queue.UpdateScheduledFor(ctx, msg.ID, proposed); err != nil {
				o.logger.Warn("sendtime: reschedule failed",
					zap.String("message_id", msg.ID.String()), zap.Error(err))
			} else {
				adjustment.Applied = true
			}
		}

		adjustments = append(adjustments, adjustment)
	}

	o.logger.Info("sendtime: optimization pass complete",
		zap.Int("considered", len(messages)), zap.Int("adjustments", len(adjustments)))
	return adjustments, nil
}

func (o *Optimizer) urgencyDelay(urgency domain.UrgencyTier) time.Duration {
	switch urgency {
	case domain.UrgencyHigh:
		return o.cfg.HighUrgencyDelay
	case domain.UrgencyLow:
		return o.cfg.LowUrgencyDelay
	default:
		return o.cfg.MediumUrgencyDelay
	}
}

// acquire takes the cross-replica pass lock via SETNX. Redis failure degrades
// to an in-process throttle rather than skipping optimization entirely.
func (o *Optimizer) acquire(ctx context.Context) bool {
	if o.redis != nil {
		ok, err := o.redis.SetNX(ctx, o.cfg.ThrottleKey, o.now().Unix(), o.cfg.Interval).Result()
		if err == nil {
			return ok
		}
		o.logger.Warn("sendtime: throttle lock unavailable, using local throttle", zap.Error(err))
	}

	o.localMu.Lock()
	defer o.localMu.Unlock()
	if o.now().Sub(o.localLastRun) < o.cfg.Interval {
		return false
	}
	o.localLastRun = o.now()
	return true
}

// scoreSendTime rates how good a slot is for a lead. Points, not
// probabilities; only differences between slots matter.
func (o *Optimizer) scoreSendTime(t time.Time, profile *domain.LeadEngagementProfile) float64 {
	var score float64

	hour := t.Hour()
	if hour >= 9 && hour < 17 {
		score += 30
	} else if hour >= 8 && hour < 20 {
		score += 15
	}

	if t.Weekday() >= time.Monday && t.Weekday() <= time.Friday {
		score += 20
	}

	for _, h := range profile.PreferredHours {
		if h == hour {
			score += 35
			break
		}
	}
	for _, d := range profile.PreferredDays {
		if d == t.Weekday() {
			score += 15
			break
		}
	}

	return score
}

func (o *Optimizer) classifyRisk(current, proposed time.Time) domain.ScheduleRisk {
	drift := proposed.Sub(current)
	if drift < 0 {
		drift = -drift
	}
	switch {
	case drift <= o.cfg.LowRiskDrift:
		return domain.ScheduleRiskLow
	case drift <= 3*o.cfg.LowRiskDrift:
		return domain.ScheduleRiskMedium
	default:
		return domain.ScheduleRiskHigh
	}
}

// nextSlot returns the first top-of-hour moment at or after from whose hour is
// one of hours.
func nextSlot(from time.Time, hours []int) time.Time {
	best := time.Time{}
	for _, h := range hours {
		candidate := time.Date(from.Year(), from.Month(), from.Day(), h, 0, 0, 0, from.Location())
		for candidate.Before(from) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if best.IsZero() {
		return from
	}
	return best
}

// alternatives lists up to n later fallback slots, ascending, excluding the
// primary choice.
func alternatives(primary time.Time, hours []int, n int) []time.Time {
	var out []time.Time
	cursor := primary.Add(time.Hour)
	for len(out) < n {
		slot := nextSlot(cursor, hours)
		if slot.Equal(primary) {
			cursor = slot.Add(time.Hour)
			continue
		}
		out = append(out, slot)
		cursor = slot.Add(time.Hour)
	}
	return out
}

// blend interpolates between two moments, weight toward the first.
func blend(a, b time.Time, weight float64) time.Time {
	if b.Before(a) {
		a, b = b, a
		weight = 1 - weight
	}
	return a.Add(time.Duration(float64(b.Sub(a)) * (1 - weight)))
}
