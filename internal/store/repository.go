package store

import (
	"context"

	"ledger-saga/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRepository defines order data access within a transaction
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, orderID, userID int64) (*models.Order, error)
	ListOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	// LockOrder selects the order row FOR UPDATE; returns models.ErrOrderNotFound if absent.
	LockOrder(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
}

// AccountRepository defines account data access within a transaction
type AccountRepository interface {
	CreateAccount(ctx context.Context, userID int64) (*models.Account, error)
	GetAccountByUserID(ctx context.Context, userID int64) (*models.Account, error)
	Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Account, error)
	// Withdraw debits the account under a row lock. It reports false without
	// mutating anything when the account is missing or the balance is short.
	Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error)
}

// OutboxRepository defines outbox data access within a transaction
type OutboxRepository interface {
	AddOutboxMessage(ctx context.Context, msg *models.OutboxMessage) error
	// ClaimUnpublished returns up to limit unpublished rows, oldest first,
	// skipping rows already claimed by a concurrent transaction.
	ClaimUnpublished(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
}

// InboxRepository defines inbox data access within a transaction
type InboxRepository interface {
	// AddInboxMessage reports false if a message with the same id was already recorded.
	AddInboxMessage(ctx context.Context, msg *models.InboxMessage) (bool, error)
}

// Tx exposes the repositories bound to one database transaction
type Tx interface {
	Orders() OrderRepository
	Accounts() AccountRepository
	Outbox() OutboxRepository
	Inbox() InboxRepository
}

// UnitOfWork runs fn inside a single transaction. The transaction commits
// only if fn returns nil; otherwise nothing fn wrote is kept.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
