package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/outbound-message-automation/internal/app"
	"github.com/acme/outbound-message-automation/internal/repository"
	"github.com/acme/outbound-message-automation/internal/service/learning"
	"github.com/acme/outbound-message-automation/internal/service/pipeline"
	"github.com/acme/outbound-message-automation/internal/service/prediction"
	"github.com/acme/outbound-message-automation/internal/service/scoring"
	"github.com/acme/outbound-message-automation/internal/service/sendtime"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	scorer    *scoring.Engine
	predictor *prediction.Engine
	optimizer *sendtime.Optimizer
	learner   *learning.Engine
	pipeline  *pipeline.Manager
	messages  repository.MessageQueueRepository
	analyses  repository.AnalysisRepository
	insights  repository.LearningRepository
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	repos := container.Repositories()
	return &HandlerSet{
		container: container,
		scorer:    services.Scorer,
		predictor: services.Predictor,
		optimizer: services.Optimizer,
		learner:   services.Learning,
		pipeline:  services.Pipeline,
		messages:  repos.Messages,
		analyses:  repos.Analyses,
		insights:  repos.Learning,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	automation := v1.Group("/automation")
	automation.Post("/start", h.startAutomation)
	automation.Post("/stop", h.stopAutomation)
	automation.Post("/process", h.processQueue)
	automation.Get("/status", h.automationStatus)

	messages := v1.Group("/messages")
	messages.Post("/", h.enqueueMessage)
	messages.Get("/:id", h.getMessage)
	messages.Post("/:id/analyze", h.analyzeMessage)
	messages.Get("/:id/analysis", h.getAnalysis)
	messages.Post("/:id/send-time", h.recommendSendTime)
	messages.Post("/:id/feedback", h.recordFeedback)

	v1.Post("/predictions", h.predictPerformance)
	v1.Post("/schedules/optimize", h.optimizeSchedules)

	patterns := v1.Group("/patterns")
	patterns.Get("/", h.listPatterns)
	patterns.Post("/recognize", h.recognizePatterns)

	leads := v1.Group("/leads")
	leads.Get("/:id/insights", h.listInsights)
	leads.Get("/:id/outcome", h.predictOutcome)

	v1.Post("/templates/evolve", h.evolveTemplates)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}

func parseUUID(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}
