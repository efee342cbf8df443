package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/outbound-message-automation/internal/config"
	"github.com/acme/outbound-message-automation/internal/coordinator"
	"github.com/acme/outbound-message-automation/internal/infra/db"
	"github.com/acme/outbound-message-automation/internal/infra/redis"
	"github.com/acme/outbound-message-automation/internal/queue"
	"github.com/acme/outbound-message-automation/internal/repository"
	pgrepo "github.com/acme/outbound-message-automation/internal/repository/postgres"
	scyllarepo "github.com/acme/outbound-message-automation/internal/repository/scylla"
	"github.com/acme/outbound-message-automation/internal/service/learning"
	"github.com/acme/outbound-message-automation/internal/service/pipeline"
	"github.com/acme/outbound-message-automation/internal/service/prediction"
	"github.com/acme/outbound-message-automation/internal/service/scoring"
	"github.com/acme/outbound-message-automation/internal/service/sendtime"
	"github.com/acme/outbound-message-automation/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publisher    *queue.ApprovalPublisher
		coordinator  *coordinator.Coordinator
	}
}

type repositories struct {
	Messages  repository.MessageQueueRepository
	Leads     repository.LeadRepository
	Analyses  repository.AnalysisRepository
	Metrics   repository.MetricsRepository
	Templates repository.TemplateRepository
	Learning  repository.LearningRepository
	Events    repository.EventStore
}

type services struct {
	Profiles  *prediction.ProfileStore
	Predictor *prediction.Engine
	Scorer    *scoring.Engine
	Optimizer *sendtime.Optimizer
	Learning  *learning.Engine
	Pipeline  *pipeline.Manager
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config

		repos := &repositories{
			Messages:  pgrepo.NewMessageQueueRepository(c.Postgres.DB()),
			Leads:     pgrepo.NewLeadRepository(c.Postgres.DB()),
			Analyses:  pgrepo.NewAnalysisRepository(c.Postgres.DB()),
			Metrics:   pgrepo.NewMetricsRepository(c.Postgres.DB()),
			Templates: pgrepo.NewTemplateRepository(c.Postgres.DB()),
			Learning:  pgrepo.NewLearningRepository(c.Postgres.DB()),
			Events:    scyllarepo.NewEventStore(c.Scylla.Session()),
		}

		profiles := prediction.NewProfileStore(cfg.Prediction,
			repos.Leads, repos.Templates, repos.Events, c.Logger.Named("profiles"))
		predictor := prediction.NewEngine(cfg.Prediction, profiles, c.Logger.Named("prediction"))

		analysisCache := scoring.NewAnalysisCache(c.Redis.Inner(), cfg.Scoring.AnalysisCacheTTL)
		scorer := scoring.NewEngine(cfg.Scoring, profiles,
			repos.Leads, repos.Events, repos.Analyses, analysisCache, c.Logger.Named("scoring"))

		optimizer := sendtime.NewOptimizer(cfg.Optimizer, predictor, profiles,
			repos.Messages, c.Redis.Inner(), c.Logger.Named("sendtime"))

		learner := learning.NewEngine(cfg.Learning,
			repos.Messages, repos.Leads, repos.Analyses, repos.Templates,
			repos.Learning, repos.Events, c.Logger.Named("learning"))

		publisher := queue.NewApprovalPublisher(c.Kafka, cfg.Kafka.ApprovedTopic)

		manager := pipeline.NewManager(cfg.Pipeline,
			repos.Messages, repos.Leads, scorer, optimizer,
			repos.Metrics, publisher, c.Logger.Named("pipeline"))

		c.components.repositories = repos
		c.components.services = &services{
			Profiles:  profiles,
			Predictor: predictor,
			Scorer:    scorer,
			Optimizer: optimizer,
			Learning:  learner,
			Pipeline:  manager,
		}
		c.components.publisher = publisher
		c.components.coordinator = coordinator.New(cfg.Coordinator,
			manager, profiles, optimizer, repos.Metrics, c.Logger.Named("coordinator"))
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Coordinator exposes the automation coordinator.
func (c *Container) Coordinator() *coordinator.Coordinator {
	c.initComponents()
	return c.components.coordinator
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.coordinator != nil {
		c.components.coordinator.Stop()
	}
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
