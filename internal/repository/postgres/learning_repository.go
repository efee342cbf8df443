package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-message-automation/internal/domain"
)

// LearningRepository implements repository.LearningRepository using PostgreSQL.
type LearningRepository struct {
	db *sqlx.DB
}

// NewLearningRepository constructs a new repository.
func NewLearningRepository(db *sqlx.DB) *LearningRepository {
	return &LearningRepository{db: db}
}

// InsertInsight stores one learning insight.
func (r *LearningRepository) InsertInsight(ctx context.Context, insight *domain.Insight) error {
	findings, err := json.Marshal(insight.Findings)
	if err != nil {
		return fmt.Errorf("learning repo: marshal findings: %w", err)
	}

	q := `INSERT INTO learning_insights (id, lead_id, message_id, type, findings, created_at)
		VALUES (:id, :lead_id, :message_id, :type, :findings, :created_at)`

	params := map[string]any{
		"id":         insight.ID,
		"lead_id":    insight.LeadID,
		"message_id": insight.MessageID,
		"type":       insight.Type,
		"findings":   findings,
		"created_at": insight.CreatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("learning repo: insert insight: %w", err)
	}
	return nil
}

// ListInsights returns recent insights for a lead, newest first.
func (r *LearningRepository) ListInsights(ctx context.Context, leadID uuid.UUID, limit int) ([]*domain.Insight, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, lead_id, message_id, type, findings, created_at
		FROM learning_insights
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("learning repo: list insights: %w", err)
	}
	defer rows.Close()

	var results []*domain.Insight
	for rows.Next() {
		var record insightRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("learning repo: scan insight: %w", err)
		}
		insight, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, insight)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("learning repo: rows err: %w", err)
	}
	return results, nil
}

// ReplacePattern supersedes any stored pattern of the same type.
func (r *LearningRepository) ReplacePattern(ctx context.Context, pattern *domain.ConversationPattern) error {
	triggers, err := json.Marshal(pattern.TriggerConditions)
	if err != nil {
		return fmt.Errorf("learning repo: marshal triggers: %w", err)
	}
	actions, err := json.Marshal(pattern.RecommendedActions)
	if err != nil {
		return fmt.Errorf("learning repo: marshal actions: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("learning repo: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_patterns WHERE type = $1`, pattern.Type); err != nil {
		return fmt.Errorf("learning repo: delete old pattern: %w", err)
	}

	q := `INSERT INTO conversation_patterns (
		id, type, trigger_conditions, success_rate, avg_time_to_outcome_ms, recommended_actions, sample_count, generated_at
	) VALUES (
		:id, :type, :trigger_conditions, :success_rate, :avg_time_to_outcome_ms, :recommended_actions, :sample_count, :generated_at
	)`

	params := map[string]any{
		"id":                     pattern.ID,
		"type":                   pattern.Type,
		"trigger_conditions":     triggers,
		"success_rate":           pattern.SuccessRate,
		"avg_time_to_outcome_ms": pattern.AvgTimeToOutcome.Milliseconds(),
		"recommended_actions":    actions,
		"sample_count":           pattern.SampleCount,
		"generated_at":           pattern.GeneratedAt,
	}

	if _, err := tx.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("learning repo: insert pattern: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("learning repo: commit: %w", err)
	}
	return nil
}

// ListPatterns returns all stored conversation patterns.
func (r *LearningRepository) ListPatterns(ctx context.Context) ([]*domain.ConversationPattern, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, type, trigger_conditions, success_rate, avg_time_to_outcome_ms, recommended_actions, sample_count, generated_at
		FROM conversation_patterns
		ORDER BY generated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("learning repo: list patterns: %w", err)
	}
	defer rows.Close()

	var results []*domain.ConversationPattern
	for rows.Next() {
		var record patternRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("learning repo: scan pattern: %w", err)
		}
		pattern, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, pattern)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("learning repo: rows err: %w", err)
	}
	return results, nil
}

type insightRecord struct {
	ID        uuid.UUID     `db:"id"`
	LeadID    uuid.UUID     `db:"lead_id"`
	MessageID uuid.NullUUID `db:"message_id"`
	Type      string        `db:"type"`
	Findings  []byte        `db:"findings"`
	CreatedAt sql.NullTime  `db:"created_at"`
}

func (r insightRecord) toDomain() (*domain.Insight, error) {
	var findings []string
	if len(r.Findings) > 0 {
		if err := json.Unmarshal(r.Findings, &findings); err != nil {
			return nil, fmt.Errorf("learning repo: unmarshal findings: %w", err)
		}
	}

	insight := &domain.Insight{
		ID:        r.ID,
		LeadID:    r.LeadID,
		Type:      domain.InsightType(r.Type),
		Findings:  findings,
		CreatedAt: r.CreatedAt.Time,
	}
	if r.MessageID.Valid {
		id := r.MessageID.UUID
		insight.MessageID = &id
	}
	return insight, nil
}

type patternRecord struct {
	ID                 uuid.UUID    `db:"id"`
	Type               string       `db:"type"`
	TriggerConditions  []byte       `db:"trigger_conditions"`
	SuccessRate        float64      `db:"success_rate"`
	AvgTimeToOutcomeMs int64        `db:"avg_time_to_outcome_ms"`
	RecommendedActions []byte       `db:"recommended_actions"`
	SampleCount        int          `db:"sample_count"`
	GeneratedAt        sql.NullTime `db:"generated_at"`
}

func (r patternRecord) toDomain() (*domain.ConversationPattern, error) {
	pattern := &domain.ConversationPattern{
		ID:               r.ID,
		Type:             domain.PatternType(r.Type),
		SuccessRate:      r.SuccessRate,
		AvgTimeToOutcome: time.Duration(r.AvgTimeToOutcomeMs) * time.Millisecond,
		SampleCount:      r.SampleCount,
		GeneratedAt:      r.GeneratedAt.Time,
	}

	if len(r.TriggerConditions) > 0 {
		if err := json.Unmarshal(r.TriggerConditions, &pattern.TriggerConditions); err != nil {
			return nil, fmt.Errorf("learning repo: unmarshal triggers: %w", err)
		}
	}
	if len(r.RecommendedActions) > 0 {
		if err := json.Unmarshal(r.RecommendedActions, &pattern.RecommendedActions); err != nil {
			return nil, fmt.Errorf("learning repo: unmarshal actions: %w", err)
		}
	}

	return pattern, nil
}
