package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
)

// MetricsRepository implements repository.MetricsRepository using PostgreSQL.
type MetricsRepository struct {
	db *sqlx.DB
}

// NewMetricsRepository constructs a new repository.
func NewMetricsRepository(db *sqlx.DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Insert stores one cycle's throughput counters.
func (r *MetricsRepository) Insert(ctx context.Context, stats *domain.ProcessingStats) error {
	q := `INSERT INTO processing_metrics (
		id, processed, auto_approved, requires_review, rejected, failed, duration_ms, ran_at
	) VALUES (
		:id, :processed, :auto_approved, :requires_review, :rejected, :failed, :duration_ms, :ran_at
	)`

	params := map[string]any{
		"id":              stats.ID,
		"processed":       stats.Processed,
		"auto_approved":   stats.AutoApproved,
		"requires_review": stats.RequiresReview,
		"rejected":        stats.Rejected,
		"failed":          stats.Failed,
		"duration_ms":     stats.Duration.Milliseconds(),
		"ran_at":          stats.RanAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("metrics repo: insert: %w", err)
	}
	return nil
}

// Latest returns the most recent cycle record.
func (r *MetricsRepository) Latest(ctx context.Context) (*domain.ProcessingStats, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, processed, auto_approved, requires_review, rejected, failed, duration_ms, ran_at
		FROM processing_metrics
		ORDER BY ran_at DESC
		LIMIT 1`)

	var record metricsRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("metrics repo: latest: %w", err)
	}

	stats := record.toDomain()
	return &stats, nil
}

type metricsRecord struct {
	ID             uuid.UUID    `db:"id"`
	Processed      int          `db:"processed"`
	AutoApproved   int          `db:"auto_approved"`
	RequiresReview int          `db:"requires_review"`
	Rejected       int          `db:"rejected"`
	Failed         int          `db:"failed"`
	DurationMs     int64        `db:"duration_ms"`
	RanAt          sql.NullTime `db:"ran_at"`
}

func (r metricsRecord) toDomain() domain.ProcessingStats {
	return domain.ProcessingStats{
		ID:             r.ID,
		Processed:      r.Processed,
		AutoApproved:   r.AutoApproved,
		RequiresReview: r.RequiresReview,
		Rejected:       r.Rejected,
		Failed:         r.Failed,
		Duration:       time.Duration(r.DurationMs) * time.Millisecond,
		RanAt:          r.RanAt.Time,
	}
}
