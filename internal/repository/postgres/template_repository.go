package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
)

// TemplateRepository implements repository.TemplateRepository using PostgreSQL.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs a new repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `hash, response_rate, conversion_rate, optimal_hours, success_segments, avg_response_ms, usage_count, seasonal_rates, updated_at`

// GetProfile fetches one template's performance aggregate by content hash.
func (r *TemplateRepository) GetProfile(ctx context.Context, hash string) (*domain.TemplatePerformanceProfile, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT `+templateColumns+` FROM template_performance WHERE hash = $1`, hash)

	var record templateRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("template repo: get profile: %w", err)
	}

	return record.toDomain()
}

// TopProfiles returns the best-performing templates by response rate.
func (r *TemplateRepository) TopProfiles(ctx context.Context, limit int) ([]*domain.TemplatePerformanceProfile, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+templateColumns+`
		FROM template_performance
		ORDER BY response_rate DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("template repo: top profiles: %w", err)
	}
	defer rows.Close()

	return scanTemplates(rows)
}

// ListProfiles returns templates with at least minUsage recorded sends.
func (r *TemplateRepository) ListProfiles(ctx context.Context, minUsage int) ([]*domain.TemplatePerformanceProfile, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+templateColumns+`
		FROM template_performance
		WHERE usage_count >= $1
		ORDER BY response_rate DESC`, minUsage)
	if err != nil {
		return nil, fmt.Errorf("template repo: list profiles: %w", err)
	}
	defer rows.Close()

	return scanTemplates(rows)
}

// GetBody returns the stored body text for a template hash.
func (r *TemplateRepository) GetBody(ctx context.Context, hash string) (string, error) {
	var body string
	err := r.db.QueryRowxContext(ctx,
		`SELECT body FROM template_performance WHERE hash = $1`, hash).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("template repo: get body: %w", err)
	}
	return body, nil
}

// InsertVariant registers a derived template variant. The parent row is never
// modified.
func (r *TemplateRepository) InsertVariant(ctx context.Context, variant *domain.TemplateVariant) error {
	q := `INSERT INTO template_variants (
		id, parent_hash, body, mutation, estimated_improvement, reason, created_at
	) VALUES (
		:id, :parent_hash, :body, :mutation, :estimated_improvement, :reason, :created_at
	) ON CONFLICT (parent_hash, mutation) DO NOTHING`

	params := map[string]any{
		"id":                    variant.ID,
		"parent_hash":           variant.ParentHash,
		"body":                  variant.Body,
		"mutation":              variant.Mutation,
		"estimated_improvement": variant.EstimatedImprovement,
		"reason":                variant.Reason,
		"created_at":            variant.CreatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("template repo: insert variant: %w", err)
	}
	return nil
}

func scanTemplates(rows *sqlx.Rows) ([]*domain.TemplatePerformanceProfile, error) {
	var results []*domain.TemplatePerformanceProfile
	for rows.Next() {
		var record templateRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("template repo: scan: %w", err)
		}
		profile, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("template repo: rows err: %w", err)
	}
	return results, nil
}

type templateRecord struct {
	Hash            string       `db:"hash"`
	ResponseRate    float64      `db:"response_rate"`
	ConversionRate  float64      `db:"conversion_rate"`
	OptimalHours    []byte       `db:"optimal_hours"`
	SuccessSegments []byte       `db:"success_segments"`
	AvgResponseMs   int64        `db:"avg_response_ms"`
	UsageCount      int          `db:"usage_count"`
	SeasonalRates   []byte       `db:"seasonal_rates"`
	UpdatedAt       sql.NullTime `db:"updated_at"`
}

func (r templateRecord) toDomain() (*domain.TemplatePerformanceProfile, error) {
	profile := &domain.TemplatePerformanceProfile{
		Hash:            r.Hash,
		ResponseRate:    r.ResponseRate,
		ConversionRate:  r.ConversionRate,
		AvgResponseTime: time.Duration(r.AvgResponseMs) * time.Millisecond,
		UsageCount:      r.UsageCount,
		BuiltAt:         r.UpdatedAt.Time,
	}

	if len(r.OptimalHours) > 0 {
		if err := json.Unmarshal(r.OptimalHours, &profile.OptimalHours); err != nil {
			return nil, fmt.Errorf("template repo: unmarshal optimal hours: %w", err)
		}
	}
	if len(r.SuccessSegments) > 0 {
		if err := json.Unmarshal(r.SuccessSegments, &profile.SuccessSegments); err != nil {
			return nil, fmt.Errorf("template repo: unmarshal segments: %w", err)
		}
	}
	if len(r.SeasonalRates) > 0 {
		if err := json.Unmarshal(r.SeasonalRates, &profile.SeasonalRates); err != nil {
			return nil, fmt.Errorf("template repo: unmarshal seasonal rates: %w", err)
		}
	}

	return profile, nil
}
