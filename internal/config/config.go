package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Scylla      ScyllaConfig      `mapstructure:"scylla"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Prediction  PredictionConfig  `mapstructure:"prediction"`
	Optimizer   OptimizerConfig   `mapstructure:"optimizer"`
	Learning    LearningConfig    `mapstructure:"learning"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	ApprovedTopic   string        `mapstructure:"approved_topic"`
	OutcomeTopic    string        `mapstructure:"outcome_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PipelineConfig tunes the queue manager's batching and fan-out.
type PipelineConfig struct {
	MaxPending     int           `mapstructure:"max_pending"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	AutoApproveMin float64       `mapstructure:"auto_approve_min_confidence"`
}

// ScoringConfig centralizes the hand-tuned scoring weights and decision
// thresholds so they can be adjusted without touching scoring logic.
type ScoringConfig struct {
	TemplateWeight float64 `mapstructure:"template_weight"`
	LeadWeight     float64 `mapstructure:"lead_weight"`
	ContentWeight  float64 `mapstructure:"content_weight"`
	TimingWeight   float64 `mapstructure:"timing_weight"`
	RiskWeight     float64 `mapstructure:"risk_weight"`

	RiskReviewThreshold   float64 `mapstructure:"risk_review_threshold"`
	AutoApproveScore      float64 `mapstructure:"auto_approve_score"`
	AutoApproveConfidence float64 `mapstructure:"auto_approve_confidence"`
	ReviewScore           float64 `mapstructure:"review_score"`
	ReviewConfidence      float64 `mapstructure:"review_confidence"`
	EnhanceScore          float64 `mapstructure:"enhance_score"`
	EnhanceConfidence     float64 `mapstructure:"enhance_confidence"`

	AnalysisCacheTTL time.Duration `mapstructure:"analysis_cache_ttl"`
}

type PredictionConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	RebuildBatchSize int           `mapstructure:"rebuild_batch_size"`
	HistoryWindow    time.Duration `mapstructure:"history_window"`
}

type OptimizerConfig struct {
	HighUrgencyDelay   time.Duration `mapstructure:"high_urgency_delay"`
	MediumUrgencyDelay time.Duration `mapstructure:"medium_urgency_delay"`
	LowUrgencyDelay    time.Duration `mapstructure:"low_urgency_delay"`
	Interval           time.Duration `mapstructure:"interval"`
	MinImprovement     float64       `mapstructure:"min_improvement"`
	LowRiskDrift       time.Duration `mapstructure:"low_risk_drift"`
	ThrottleKey        string        `mapstructure:"throttle_key"`
}

type LearningConfig struct {
	MinTemplateResponseRate float64       `mapstructure:"min_template_response_rate"`
	MinTemplateUsage        int           `mapstructure:"min_template_usage"`
	MinPatternExamples      int           `mapstructure:"min_pattern_examples"`
	RecentOutcomeWindow     time.Duration `mapstructure:"recent_outcome_window"`
	LongBodyThreshold       int           `mapstructure:"long_body_threshold"`
	TooSoonThreshold        time.Duration `mapstructure:"too_soon_threshold"`
}

type CoordinatorConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("AUTOMATION")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.max_pending", 100)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.batch_delay", time.Second)
	v.SetDefault("pipeline.max_concurrency", 5)
	v.SetDefault("pipeline.auto_approve_min_confidence", 80.0)

	v.SetDefault("scoring.template_weight", 0.30)
	v.SetDefault("scoring.lead_weight", 0.25)
	v.SetDefault("scoring.content_weight", 0.20)
	v.SetDefault("scoring.timing_weight", 0.15)
	v.SetDefault("scoring.risk_weight", 0.10)
	v.SetDefault("scoring.risk_review_threshold", 50.0)
	v.SetDefault("scoring.auto_approve_score", 85.0)
	v.SetDefault("scoring.auto_approve_confidence", 80.0)
	v.SetDefault("scoring.review_score", 75.0)
	v.SetDefault("scoring.review_confidence", 60.0)
	v.SetDefault("scoring.enhance_score", 40.0)
	v.SetDefault("scoring.enhance_confidence", 70.0)
	v.SetDefault("scoring.analysis_cache_ttl", 15*time.Minute)

	v.SetDefault("prediction.cache_ttl", 30*time.Minute)
	v.SetDefault("prediction.rebuild_batch_size", 50)
	v.SetDefault("prediction.history_window", 90*24*time.Hour)

	v.SetDefault("optimizer.high_urgency_delay", 30*time.Minute)
	v.SetDefault("optimizer.medium_urgency_delay", 2*time.Hour)
	v.SetDefault("optimizer.low_urgency_delay", 4*time.Hour)
	v.SetDefault("optimizer.interval", time.Hour)
	v.SetDefault("optimizer.min_improvement", 5.0)
	v.SetDefault("optimizer.low_risk_drift", 24*time.Hour)
	v.SetDefault("optimizer.throttle_key", "automation:optimizer:last_run")

	v.SetDefault("learning.min_template_response_rate", 0.4)
	v.SetDefault("learning.min_template_usage", 10)
	v.SetDefault("learning.min_pattern_examples", 3)
	v.SetDefault("learning.recent_outcome_window", 30*24*time.Hour)
	v.SetDefault("learning.long_body_threshold", 150)
	v.SetDefault("learning.too_soon_threshold", 2*time.Hour)

	v.SetDefault("coordinator.cycle_interval", 2*time.Minute)
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
