package store

import (
	"context"

	"ledger-saga/internal/models"

	"github.com/jmoiron/sqlx"
)

type inboxRepo struct {
	q sqlx.ExtContext
}

// AddInboxMessage records an inbound message id. ON CONFLICT keeps the
// surrounding transaction usable when the id is already present.
func (r *inboxRepo) AddInboxMessage(ctx context.Context, msg *models.InboxMessage) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, topic, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.Topic, string(msg.Payload))
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
