package store

import (
	"context"
	"time"

	"ledger-saga/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// outboxRow scans the payload into a plain byte slice so the driver buffer
// is copied.
type outboxRow struct {
	ID          uuid.UUID `db:"id"`
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	IsPublished bool      `db:"is_published"`
	CreatedAt   time.Time `db:"created_at"`
}

type outboxRepo struct {
	q sqlx.ExtContext
}

// AddOutboxMessage inserts an unpublished outbox row
func (r *outboxRepo) AddOutboxMessage(ctx context.Context, msg *models.OutboxMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	row := r.q.QueryRowxContext(ctx, `
		INSERT INTO outbox_messages (id, topic, payload, is_published)
		VALUES ($1, $2, $3, FALSE)
		RETURNING created_at`,
		msg.ID, msg.Topic, string(msg.Payload))
	return row.Scan(&msg.CreatedAt)
}

// ClaimUnpublished locks a batch of unpublished rows, skipping rows locked
// by concurrent publishers
func (r *outboxRepo) ClaimUnpublished(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	var rows []outboxRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT id, topic, payload, is_published, created_at
		FROM outbox_messages
		WHERE is_published = FALSE
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]models.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, models.OutboxMessage{
			ID:          row.ID,
			Topic:       row.Topic,
			Payload:     row.Payload,
			IsPublished: row.IsPublished,
			CreatedAt:   row.CreatedAt,
		})
	}
	return messages, nil
}

// MarkPublished flags an outbox row as published
func (r *outboxRepo) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE outbox_messages SET is_published = TRUE WHERE id = $1", id)
	return err
}
