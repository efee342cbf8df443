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

// MessageQueueRepository implements repository.MessageQueueRepository using PostgreSQL.
type MessageQueueRepository struct {
	db *sqlx.DB
}

// NewMessageQueueRepository constructs a new repository.
func NewMessageQueueRepository(db *sqlx.DB) *MessageQueueRepository {
	return &MessageQueueRepository{db: db}
}

const messageColumns = `id, lead_id, body, urgency, priority, status, scheduled_for, retry_count, approved, sent_at, created_at, updated_at`

// Insert stores a new candidate message.
func (r *MessageQueueRepository) Insert(ctx context.Context, msg *domain.QueuedMessage) error {
	q := `INSERT INTO message_queue (
		id, lead_id, body, urgency, priority, status, scheduled_for, retry_count, approved, sent_at, created_at, updated_at
	) VALUES (
		:id, :lead_id, :body, :urgency, :priority, :status, :scheduled_for, :retry_count, :approved, :sent_at, :created_at, :updated_at
	)`

	params := map[string]any{
		"id":            msg.ID,
		"lead_id":       msg.LeadID,
		"body":          msg.Body,
		"urgency":       msg.Urgency,
		"priority":      msg.Priority,
		"status":        msg.Status,
		"scheduled_for": msg.ScheduledFor,
		"retry_count":   msg.RetryCount,
		"approved":      msg.Approved,
		"sent_at":       msg.SentAt,
		"created_at":    msg.CreatedAt,
		"updated_at":    msg.UpdatedAt,
	}

	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("message queue: insert: %w", err)
	}
	return nil
}

// Get fetches a message by id.
func (r *MessageQueueRepository) Get(ctx context.Context, id uuid.UUID) (*domain.QueuedMessage, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+messageColumns+` FROM message_queue WHERE id = $1`, id)

	var record messageRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("message queue: get: %w", err)
	}

	msg := record.toDomain()
	return &msg, nil
}

// ListPending returns the oldest pending messages up to limit.
func (r *MessageQueueRepository) ListPending(ctx context.Context, limit int) ([]*domain.QueuedMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+messageColumns+`
		FROM message_queue
		WHERE status = 'pending' AND sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("message queue: list pending: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// CountPending returns the current queue depth.
func (r *MessageQueueRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM message_queue WHERE status = 'pending' AND sent_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("message queue: count pending: %w", err)
	}
	return count, nil
}

// MarkProcessing flips the given messages to processing. Only pending rows are
// touched, which keeps a message from being claimed by two runs.
func (r *MessageQueueRepository) MarkProcessing(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		`UPDATE message_queue SET status = 'processing', updated_at = NOW() WHERE id IN (?) AND status = 'pending'`, ids)
	if err != nil {
		return fmt.Errorf("message queue: build mark processing: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("message queue: mark processing: %w", err)
	}
	return nil
}

// SetStatus updates the lifecycle status of one message.
func (r *MessageQueueRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE message_queue SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("message queue: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message queue: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkApproved flips the approval flag and records the decision time.
func (r *MessageQueueRepository) MarkApproved(ctx context.Context, id uuid.UUID, approvedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE message_queue SET status = 'approved', approved = TRUE, updated_at = $1 WHERE id = $2`, approvedAt, id)
	if err != nil {
		return fmt.Errorf("message queue: mark approved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message queue: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdatePriority stores the computed priority.
func (r *MessageQueueRepository) UpdatePriority(ctx context.Context, id uuid.UUID, priority int) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE message_queue SET priority = $1, updated_at = NOW() WHERE id = $2`, priority, id); err != nil {
		return fmt.Errorf("message queue: update priority: %w", err)
	}
	return nil
}

// UpdateScheduledFor rewrites the planned send time.
func (r *MessageQueueRepository) UpdateScheduledFor(ctx context.Context, id uuid.UUID, scheduledFor time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE message_queue SET scheduled_for = $1, updated_at = NOW() WHERE id = $2 AND sent_at IS NULL`, scheduledFor, id)
	if err != nil {
		return fmt.Errorf("message queue: update scheduled_for: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message queue: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListScheduledUnsent returns messages with a future schedule that have not
// been handed to the delivery gateway yet.
func (r *MessageQueueRepository) ListScheduledUnsent(ctx context.Context, limit int) ([]*domain.QueuedMessage, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+messageColumns+`
		FROM message_queue
		WHERE scheduled_for IS NOT NULL AND sent_at IS NULL AND status IN ('pending', 'approved')
		ORDER BY scheduled_for ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("message queue: list scheduled: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sqlx.Rows) ([]*domain.QueuedMessage, error) {
	var results []*domain.QueuedMessage
	for rows.Next() {
		var record messageRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("message queue: scan: %w", err)
		}
		msg := record.toDomain()
		results = append(results, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message queue: rows err: %w", err)
	}
	return results, nil
}

type messageRecord struct {
	ID           uuid.UUID    `db:"id"`
	LeadID       uuid.UUID    `db:"lead_id"`
	Body         string       `db:"body"`
	Urgency      string       `db:"urgency"`
	Priority     int          `db:"priority"`
	Status       string       `db:"status"`
	ScheduledFor sql.NullTime `db:"scheduled_for"`
	RetryCount   int          `db:"retry_count"`
	Approved     bool         `db:"approved"`
	SentAt       sql.NullTime `db:"sent_at"`
	CreatedAt    sql.NullTime `db:"created_at"`
	UpdatedAt    sql.NullTime `db:"updated_at"`
}

func (r messageRecord) toDomain() domain.QueuedMessage {
	msg := domain.QueuedMessage{
		ID:         r.ID,
		LeadID:     r.LeadID,
		Body:       r.Body,
		Urgency:    domain.UrgencyTier(r.Urgency),
		Priority:   r.Priority,
		Status:     domain.MessageStatus(r.Status),
		RetryCount: r.RetryCount,
		Approved:   r.Approved,
		CreatedAt:  r.CreatedAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
	}
	if r.ScheduledFor.Valid {
		t := r.ScheduledFor.Time
		msg.ScheduledFor = &t
	}
	if r.SentAt.Valid {
		t := r.SentAt.Time
		msg.SentAt = &t
	}
	return msg
}
