package coordinator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// QueueProcessor runs one queue pass and reports depth.
type QueueProcessor interface {
	ProcessQueue(ctx context.Context) (*domain.ProcessingStats, error)
	QueueDepth(ctx context.Context) (int, error)
}

// ProfileRefresher maintains the prediction caches.
type ProfileRefresher interface {
	Refresh(ctx context.Context)
	CacheSizes() (leads int, templates int)
}

// ScheduleOptimizer revisits scheduled sends.
type ScheduleOptimizer interface {
	OptimizeExistingSchedules(ctx context.Context) ([]domain.ScheduleAdjustment, error)
}

// Status is the coordinator's aggregate view of the system.
type Status struct {
	Running              bool                    `json:"running"`
	QueueDepth           int                     `json:"queue_depth"`
	LeadProfileCache     int                     `json:"lead_profile_cache"`
	TemplateProfileCache int                     `json:"template_profile_cache"`
	LastRun              *domain.ProcessingStats `json:"last_run,omitempty"`
}

// Coordinator drives the automation loop: it runs the queue manager on a
// fixed interval, keeps profiles fresh, triggers schedule optimization and
// exposes start/stop control. One bad cycle never halts the next.
type Coordinator struct {
	cfg       config.CoordinatorConfig
	pipeline  QueueProcessor
	profiles  ProfileRefresher
	optimizer ScheduleOptimizer
	metrics   repository.MetricsRepository
	logger    *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a stopped coordinator.
func New(
	cfg config.CoordinatorConfig,
	pipeline QueueProcessor,
	profiles ProfileRefresher,
	optimizer ScheduleOptimizer,
	metrics repository.MetricsRepository,
	lg *logger.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		pipeline:  pipeline,
		profiles:  profiles,
		optimizer: optimizer,
		metrics:   metrics,
		logger:    lg,
	}
}

// Start begins the automation loop: an immediate cycle, then one per
// interval. Calling Start while running is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.logger.Debug("coordinator: already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx, c.done)
	c.logger.Info("coordinator: started", zap.Duration("interval", c.cfg.CycleInterval))
}

// Stop cancels the loop and waits for an in-flight cycle to finish. Calling
// Stop while stopped is a no-op.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("coordinator: stopped")
}

// Running reports whether the loop is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := c.cfg.CycleInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// The cycle keeps the parent's values but not its cancellation:
		// stopping mid-cycle lets the cycle finish, it just is not followed
		// by another one.
		c.cycle(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle runs one full automation pass. Failures are logged and swallowed.
func (c *Coordinator) cycle(ctx context.Context) {
	tracer := otel.Tracer("automation.coordinator")
	sctx, span := tracer.Start(ctx, "coordinator.cycle")
	defer span.End()

	start := time.Now()

	stats, err := c.pipeline.ProcessQueue(sctx)
	if err != nil {
		span.RecordError(err)
		c.logger.Error("coordinator: queue pass failed", zap.Error(err))
	} else {
		span.SetAttributes(
			attribute.Int("queue.processed", stats.Processed),
			attribute.Int("queue.auto_approved", stats.AutoApproved),
		)
	}

	c.profiles.Refresh(sctx)

	if adjustments, err := c.optimizer.OptimizeExistingSchedules(sctx); err != nil {
		span.RecordError(err)
		c.logger.Error("coordinator: schedule optimization failed", zap.Error(err))
	} else if len(adjustments) > 0 {
		applied := 0
		for _, a := range adjustments {
			if a.Applied {
				applied++
			}
		}
		span.SetAttributes(attribute.Int("schedules.applied", applied))
	}

	c.logger.Info("coordinator: cycle complete", zap.Duration("duration", time.Since(start)))
}

// Status aggregates run state, queue depth, cache sizes and the most recent
// stored run metrics.
func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	status := &Status{Running: c.Running()}

	depth, err := c.pipeline.QueueDepth(ctx)
	if err != nil {
		c.logger.Warn("coordinator: queue depth unavailable", zap.Error(err))
	} else {
		status.QueueDepth = depth
	}

	status.LeadProfileCache, status.TemplateProfileCache = c.profiles.CacheSizes()

	last, err := c.metrics.Latest(ctx)
	if err == nil {
		status.LastRun = last
	} else if err != repository.ErrNotFound {
		c.logger.Warn("coordinator: latest metrics unavailable", zap.Error(err))
	}

	return status, nil
}
