package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topics
const (
	TopicOrderCreated     = "order.created"
	TopicPaymentProcessed = "payment.processed"
)

// Payment outcomes carried by payment.processed
const (
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFail    = "FAIL"
)

// Failure reasons reported on payment.processed
const (
	ReasonInsufficientFunds = "Insufficient funds or account not found"
	ReasonInvalidAmount     = "Invalid payment amount"
)

// OrderCreatedEvent published by the orders service when an order is created
type OrderCreatedEvent struct {
	OrderID int64           `json:"order_id"`
	UserID  int64           `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// PaymentProcessedEvent published by the payments service with the outcome
// of a debit attempt. IdempotencyKey is the identity of the order.created
// message that triggered it.
type PaymentProcessedEvent struct {
	OrderID        int64     `json:"order_id"`
	Status         string    `json:"status"`
	Reason         *string   `json:"reason"`
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
}

// PaymentRequest is a decoded order.created delivery
type PaymentRequest struct {
	MessageID uuid.UUID
	OrderID   int64
	UserID    int64
	Amount    decimal.Decimal
}

// OrderStatusUpdate is a decoded payment.processed delivery
type OrderStatusUpdate struct {
	OrderID        int64
	Status         string
	Reason         string
	IdempotencyKey uuid.UUID
}

// TargetStatus maps the payment outcome to the terminal order status.
func (u OrderStatusUpdate) TargetStatus() OrderStatus {
	if u.Status == PaymentStatusSuccess {
		return OrderStatusFinished
	}
	return OrderStatusCancelled
}
