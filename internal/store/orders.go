package store

import (
	"context"
	"database/sql"
	"errors"

	"ledger-saga/internal/models"

	"github.com/jmoiron/sqlx"
)

type orderRepo struct {
	q sqlx.ExtContext
}

// CreateOrder inserts a new order in status NEW
func (r *orderRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, amount, description, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, status, created_at`

	order.Status = models.OrderStatusNew
	row := r.q.QueryRowxContext(ctx, query, order.UserID, order.Amount, order.Description, order.Status)
	return row.Scan(&order.ID, &order.Status, &order.CreatedAt)
}

// GetOrderByID retrieves an order owned by userID
func (r *orderRepo) GetOrderByID(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, r.q, &order,
		"SELECT * FROM orders WHERE id = $1 AND user_id = $2", orderID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUserID retrieves orders for a user, newest first
func (r *orderRepo) ListOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := sqlx.SelectContext(ctx, r.q, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return orders, err
}

// LockOrder selects an order with an exclusive row lock
func (r *orderRepo) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, r.q, &order,
		"SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus moves an order out of NEW. Orders already in a terminal
// status are left untouched.
func (r *orderRepo) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2 AND status = $3",
		status, orderID, models.OrderStatusNew)
	return err
}
