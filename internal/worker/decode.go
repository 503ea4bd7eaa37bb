package worker

import (
	"encoding/json"
	"fmt"

	"ledger-saga/internal/broker"
	"ledger-saga/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// DecodePaymentRequest decodes an order.created delivery. The message id
// header must be a UUID; order_id, user_id and amount are required.
func DecodePaymentRequest(d broker.Delivery) (*models.PaymentRequest, error) {
	id, err := uuid.Parse(d.MessageID())
	if err != nil {
		return nil, malformed("invalid %s header %q", broker.HeaderMessageID, d.MessageID())
	}

	var body struct {
		OrderID *int64           `json:"order_id"`
		UserID  *int64           `json:"user_id"`
		Amount  *decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(d.Body(), &body); err != nil {
		return nil, malformed("invalid body: %v", err)
	}

	switch {
	case body.OrderID == nil || *body.OrderID <= 0:
		return nil, malformed("missing or invalid order_id")
	case body.UserID == nil || *body.UserID <= 0:
		return nil, malformed("missing or invalid user_id")
	case body.Amount == nil:
		return nil, malformed("missing amount")
	}

	return &models.PaymentRequest{
		MessageID: id,
		OrderID:   *body.OrderID,
		UserID:    *body.UserID,
		Amount:    *body.Amount,
	}, nil
}

// DecodeOrderStatusUpdate decodes a payment.processed delivery. order_id,
// status and idempotency_key are required.
func DecodeOrderStatusUpdate(d broker.Delivery) (*models.OrderStatusUpdate, error) {
	var body struct {
		OrderID        *int64  `json:"order_id"`
		Status         string  `json:"status"`
		Reason         *string `json:"reason"`
		IdempotencyKey string  `json:"idempotency_key"`
	}
	if err := json.Unmarshal(d.Body(), &body); err != nil {
		return nil, malformed("invalid body: %v", err)
	}

	if body.OrderID == nil || *body.OrderID <= 0 {
		return nil, malformed("missing or invalid order_id")
	}
	if body.Status == "" {
		return nil, malformed("missing status")
	}

	key, err := uuid.Parse(body.IdempotencyKey)
	if err != nil {
		return nil, malformed("invalid idempotency_key %q", body.IdempotencyKey)
	}

	update := &models.OrderStatusUpdate{
		OrderID:        *body.OrderID,
		Status:         body.Status,
		IdempotencyKey: key,
	}
	if body.Reason != nil {
		update.Reason = *body.Reason
	}
	return update, nil
}
