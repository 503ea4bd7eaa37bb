package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema/orders.sql
var ordersSchema string

//go:embed schema/payments.sql
var paymentsSchema string

// Schema is the DDL a service bootstraps at start-up
type Schema string

// Per-service schemas
var (
	OrdersSchema   = Schema(ordersSchema)
	PaymentsSchema = Schema(paymentsSchema)
)

// Store is the Postgres-backed UnitOfWork
type Store struct {
	db *sqlx.DB
}

var _ UnitOfWork = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the service tables and indexes if they are absent
func (s *Store) EnsureSchema(ctx context.Context, schema Schema) error {
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in one database transaction and commits once
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) Orders() OrderRepository     { return &orderRepo{q: t.tx} }
func (t *sqlTx) Accounts() AccountRepository { return &accountRepo{q: t.tx} }
func (t *sqlTx) Outbox() OutboxRepository    { return &outboxRepo{q: t.tx} }
func (t *sqlTx) Inbox() InboxRepository      { return &inboxRepo{q: t.tx} }
