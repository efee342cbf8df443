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

// LeadRepository implements repository.LeadRepository using PostgreSQL.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs a new repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Get fetches a lead by id.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, first_name, stage, vehicle_interest, last_reply_at, created_at
		FROM leads WHERE id = $1`, id)

	var record leadRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}

	lead := record.toDomain()
	return &lead, nil
}

// GetMany fetches several leads in one round trip.
func (r *LeadRepository) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Lead, error) {
	results := make(map[uuid.UUID]*domain.Lead, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	query, args, err := sqlx.In(`SELECT id, first_name, stage, vehicle_interest, last_reply_at, created_at
		FROM leads WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lead repo: build get many: %w", err)
	}

	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("lead repo: get many: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var record leadRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		lead := record.toDomain()
		results[lead.ID] = &lead
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return results, nil
}

// ListConversation returns the most recent conversation messages for a lead,
// newest first.
func (r *LeadRepository) ListConversation(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT lead_id, direction, body, sent_at
		FROM conversations
		WHERE lead_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("lead repo: list conversation: %w", err)
	}
	defer rows.Close()

	var results []domain.ConversationMessage
	for rows.Next() {
		var record conversationRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("lead repo: scan conversation: %w", err)
		}
		results = append(results, record.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return results, nil
}

// CountOutboundSince counts outbound messages sent to a lead after the cutoff.
func (r *LeadRepository) CountOutboundSince(ctx context.Context, leadID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE lead_id = $1 AND direction = 'out' AND sent_at >= $2`,
		leadID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("lead repo: count outbound: %w", err)
	}
	return count, nil
}

// ListRecentlyActive returns ids of leads with conversation activity after the
// cutoff, used to bound profile cache rebuilds.
func (r *LeadRepository) ListRecentlyActive(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT lead_id, MAX(sent_at) AS last_activity
		FROM conversations
		WHERE sent_at >= $1
		GROUP BY lead_id
		ORDER BY last_activity DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("lead repo: list recently active: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var lastActivity time.Time
		if err := rows.Scan(&id, &lastActivity); err != nil {
			return nil, fmt.Errorf("lead repo: scan active: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return ids, nil
}

type leadRecord struct {
	ID              uuid.UUID      `db:"id"`
	FirstName       sql.NullString `db:"first_name"`
	Stage           sql.NullString `db:"stage"`
	VehicleInterest sql.NullString `db:"vehicle_interest"`
	LastReplyAt     sql.NullTime   `db:"last_reply_at"`
	CreatedAt       sql.NullTime   `db:"created_at"`
}

func (r leadRecord) toDomain() domain.Lead {
	lead := domain.Lead{
		ID:              r.ID,
		FirstName:       r.FirstName.String,
		Stage:           r.Stage.String,
		VehicleInterest: r.VehicleInterest.String,
		CreatedAt:       r.CreatedAt.Time,
	}
	if r.LastReplyAt.Valid {
		t := r.LastReplyAt.Time
		lead.LastReplyAt = &t
	}
	return lead
}

type conversationRecord struct {
	LeadID    uuid.UUID `db:"lead_id"`
	Direction string    `db:"direction"`
	Body      string    `db:"body"`
	SentAt    time.Time `db:"sent_at"`
}

func (r conversationRecord) toDomain() domain.ConversationMessage {
	return domain.ConversationMessage{
		LeadID:    r.LeadID,
		Direction: domain.ConversationDirection(r.Direction),
		Body:      r.Body,
		SentAt:    r.SentAt,
	}
}
