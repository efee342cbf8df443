package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-message-automation/internal/domain"
	"github.com/acme/outbound-message-automation/internal/repository"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var messageRows = []string{
	"id", "lead_id", "body", "urgency", "priority", "status",
	"scheduled_for", "retry_count", "approved", "sent_at", "created_at", "updated_at",
}

func TestMessageInsertBindsAllColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageQueueRepository(db)

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := &domain.QueuedMessage{
		ID:        uuid.New(),
		LeadID:    uuid.New(),
		Body:      "Hi Jordan, is Tuesday still good for the test drive?",
		Urgency:   domain.UrgencyHigh,
		Status:    domain.MessageStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO message_queue`).
		WithArgs(msg.ID, msg.LeadID, msg.Body, "high", 0, "pending",
			nil, 0, false, nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Insert(context.Background(), msg); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMessageGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageQueueRepository(db)

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM message_queue WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(messageRows))

	_, err := repo.Get(context.Background(), id)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageListPendingScansRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageQueueRepository(db)

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	scheduled := now.Add(4 * time.Hour)
	first := uuid.New()
	second := uuid.New()
	lead := uuid.New()

	rows := sqlmock.NewRows(messageRows).
		AddRow(first, lead, "first body", "medium", 50, "pending", nil, 0, false, nil, now, now).
		AddRow(second, lead, "second body", "low", 30, "pending", scheduled, 1, false, nil, now, now)

	mock.ExpectQuery(`SELECT (.+) FROM message_queue`).
		WithArgs(25).
		WillReturnRows(rows)

	messages, err := repo.ListPending(context.Background(), 25)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].ID != first || messages[0].ScheduledFor != nil {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].ScheduledFor == nil || !messages[1].ScheduledFor.Equal(scheduled) {
		t.Fatalf("expected scheduled_for %v, got %v", scheduled, messages[1].ScheduledFor)
	}
	if messages[1].Urgency != domain.UrgencyLow {
		t.Fatalf("expected low urgency, got %s", messages[1].Urgency)
	}
}

func TestMessageMarkProcessingExpandsIDList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageQueueRepository(db)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	mock.ExpectExec(`UPDATE message_queue SET status = 'processing'`).
		WithArgs(ids[0], ids[1]).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.MarkProcessing(context.Background(), ids); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMessageMarkProcessingEmptyIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageQueueRepository(db)

	if err := repo.MarkProcessing(context.Background(), nil); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMessageSetStatusNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageQueueRepository(db)

	id := uuid.New()
	mock.ExpectExec(`UPDATE message_queue SET status`).
		WithArgs("rejected", id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetStatus(context.Background(), id, domain.MessageStatusRejected)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageUpdateScheduledForIgnoresSentRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageQueueRepository(db)

	id := uuid.New()
	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE message_queue SET scheduled_for`).
		WithArgs(at, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateScheduledFor(context.Background(), id, at)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageMarkApproved(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageQueueRepository(db)

	id := uuid.New()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE message_queue SET status = 'approved'`).
		WithArgs(at, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkApproved(context.Background(), id, at); err != nil {
		t.Fatalf("MarkApproved: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
