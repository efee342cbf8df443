package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
)

// AnalysisRepository implements repository.AnalysisRepository using PostgreSQL.
type AnalysisRepository struct {
	db *sqlx.DB
}

// NewAnalysisRepository constructs a new repository.
func NewAnalysisRepository(db *sqlx.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Insert stores one scoring result for audit.
func (r *AnalysisRepository) Insert(ctx context.Context, analysis *domain.MessageAnalysis) error {
	reasoning, err := json.Marshal(analysis.Reasoning)
	if err != nil {
		return fmt.Errorf("analysis repo: marshal reasoning: %w", err)
	}

	q := `INSERT INTO message_analyses (
		id, message_id, lead_id, template_hash,
		template_score, lead_score, timing_score, content_score, risk_score,
		overall_score, confidence, recommendation, reasoning, analyzed_at
	) VALUES (
		:id, :message_id, :lead_id, :template_hash,
		:template_score, :lead_score, :timing_score, :content_score, :risk_score,
		:overall_score, :confidence, :recommendation, :reasoning, :analyzed_at
	)`

	params := map[string]any{
		"id":             analysis.ID,
		"message_id":     analysis.MessageID,
		"lead_id":        analysis.LeadID,
		"template_hash":  analysis.TemplateHash,
		"template_score": analysis.TemplateScore,
		"lead_score":     analysis.LeadScore,
		"timing_score":   analysis.TimingScore,
		"content_score":  analysis.ContentScore,
		"risk_score":     analysis.RiskScore,
		"overall_score":  analysis.OverallScore,
		"confidence":     analysis.Confidence,
		"recommendation": analysis.Recommendation,
		"reasoning":      reasoning,
		"analyzed_at":    analysis.AnalyzedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("analysis repo: insert: %w", err)
	}
	return nil
}

// GetByMessage returns the most recent analysis for a message.
func (r *AnalysisRepository) GetByMessage(ctx context.Context, messageID uuid.UUID) (*domain.MessageAnalysis, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, message_id, lead_id, template_hash,
		template_score, lead_score, timing_score, content_score, risk_score,
		overall_score, confidence, recommendation, reasoning, analyzed_at
		FROM message_analyses
		WHERE message_id = $1
		ORDER BY analyzed_at DESC
		LIMIT 1`, messageID)

	var record analysisRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("analysis repo: get by message: %w", err)
	}

	return record.toDomain()
}

type analysisRecord struct {
	ID             uuid.UUID    `db:"id"`
	MessageID      uuid.UUID    `db:"message_id"`
	LeadID         uuid.UUID    `db:"lead_id"`
	TemplateHash   string       `db:"template_hash"`
	TemplateScore  float64      `db:"template_score"`
	LeadScore      float64      `db:"lead_score"`
	TimingScore    float64      `db:"timing_score"`
	ContentScore   float64      `db:"content_score"`
	RiskScore      float64      `db:"risk_score"`
	OverallScore   float64      `db:"overall_score"`
	Confidence     float64      `db:"confidence"`
	Recommendation string       `db:"recommendation"`
	Reasoning      []byte       `db:"reasoning"`
	AnalyzedAt     sql.NullTime `db:"analyzed_at"`
}

func (r analysisRecord) toDomain() (*domain.MessageAnalysis, error) {
	var reasoning []string
	if len(r.Reasoning) > 0 {
		if err := json.Unmarshal(r.Reasoning, &reasoning); err != nil {
			return nil, fmt.Errorf("analysis repo: unmarshal reasoning: %w", err)
		}
	}

	return &domain.MessageAnalysis{
		ID:             r.ID,
		MessageID:      r.MessageID,
		LeadID:         r.LeadID,
		TemplateHash:   r.TemplateHash,
		TemplateScore:  r.TemplateScore,
		LeadScore:      r.LeadScore,
		TimingScore:    r.TimingScore,
		ContentScore:   r.ContentScore,
		RiskScore:      r.RiskScore,
		OverallScore:   r.OverallScore,
		Confidence:     r.Confidence,
		Recommendation: domain.Recommendation(r.Recommendation),
		Reasoning:      reasoning,
		AnalyzedAt:     r.AnalyzedAt.Time,
	}, nil
}
