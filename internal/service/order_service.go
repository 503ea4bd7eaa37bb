package service

import (
	"context"
	"errors"
	"fmt"

	"ledger-saga/internal/models"
	"ledger-saga/internal/store"
	"ledger-saga/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	uow    store.UnitOfWork
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(uow store.UnitOfWork) *OrderService {
	return &OrderService{
		uow:    uow,
		logger: util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Validate checks the request fields
func (r *CreateOrderRequest) Validate() error {
	if r.UserID <= 0 {
		return models.ErrInvalidUserID
	}
	if err := models.ValidateAmount(r.Amount); err != nil {
		return err
	}
	return models.ValidateDescription(r.Description)
}

// CreateOrder stores a NEW order and its order.created outbox row in one
// transaction
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: req.Description,
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Orders().CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		msg, err := models.NewOutboxMessage(models.TopicOrderCreated, models.OrderCreatedEvent{
			OrderID: order.ID,
			UserID:  order.UserID,
			Amount:  order.Amount,
		})
		if err != nil {
			return fmt.Errorf("failed to encode order.created: %w", err)
		}

		if err := tx.Outbox().AddOutboxMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to add outbox message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("amount", order.Amount.StringFixed(2)))

	return order, nil
}

// GetOrder retrieves an order owned by userID
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	var order *models.Order
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.Orders().GetOrderByID(ctx, orderID, userID)
		return err
	})
	return order, err
}

// ListOrders retrieves a user's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if userID <= 0 {
		return nil, models.ErrInvalidUserID
	}

	var orders []models.Order
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		orders, err = tx.Orders().ListOrdersByUserID(ctx, userID)
		return err
	})
	return orders, err
}

// UpdateOrderStatus applies a payment outcome to an order still in NEW. It
// reports whether the order changed; unknown and already settled orders are
// logged and left alone.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, update *models.OrderStatusUpdate) (bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus",
		attribute.Int64("order_id", update.OrderID),
		attribute.String("status", update.Status))
	defer span.End()

	target := update.TargetStatus()
	applied := false

	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		applied = false

		order, err := tx.Orders().LockOrder(ctx, update.OrderID)
		if errors.Is(err, models.ErrOrderNotFound) {
			s.logger.Warn("Payment result for unknown order",
				zap.Int64("order_id", update.OrderID),
				zap.String("idempotency_key", update.IdempotencyKey.String()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		if order.Status.IsTerminal() {
			s.logger.Warn("Order already settled",
				zap.Int64("order_id", order.ID),
				zap.String("status", string(order.Status)),
				zap.String("idempotency_key", update.IdempotencyKey.String()))
			return nil
		}

		if err := tx.Orders().UpdateOrderStatus(ctx, order.ID, target); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		util.SpanError(span, err)
		return false, err
	}

	if applied {
		if target == models.OrderStatusFinished {
			util.OrdersFinishedTotal.Inc()
		} else {
			util.OrdersCancelledTotal.Inc()
		}
		s.logger.Info("Order status updated",
			zap.Int64("order_id", update.OrderID),
			zap.String("status", string(target)),
			zap.String("reason", update.Reason))
	}

	return applied, nil
}
