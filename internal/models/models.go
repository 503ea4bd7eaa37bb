package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the saga state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusFinished  OrderStatus = "FINISHED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFinished || s == OrderStatusCancelled
}

// Order represents a customer order
type Order struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	Status      OrderStatus     `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Account represents a user's balance in the payments ledger
type Account struct {
	ID        int64           `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// OutboxMessage is a durable intent to publish, written in the same
// transaction as the business change that caused it.
type OutboxMessage struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Topic       string          `db:"topic" json:"topic"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	IsPublished bool            `db:"is_published" json:"is_published"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// InboxMessage records an inbound message identity; its primary key is the
// deduplication fence for redelivered messages.
type InboxMessage struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Topic       string          `db:"topic" json:"topic"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	ProcessedAt time.Time       `db:"processed_at" json:"processed_at"`
}

// NewOutboxMessage serializes payload into a fresh outbox row for topic.
func NewOutboxMessage(topic string, payload interface{}) (*OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		ID:      uuid.New(),
		Topic:   topic,
		Payload: body,
	}, nil
}
