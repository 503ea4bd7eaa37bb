package store

import (
	"context"
	"database/sql"
	"errors"

	"ledger-saga/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type accountRepo struct {
	q sqlx.ExtContext
}

// CreateAccount opens a zero-balance account for userID
func (r *accountRepo) CreateAccount(ctx context.Context, userID int64) (*models.Account, error) {
	var account models.Account
	err := sqlx.GetContext(ctx, r.q, &account, `
		INSERT INTO accounts (user_id, balance)
		VALUES ($1, 0)
		RETURNING *`, userID)
	if isUniqueViolation(err) {
		return nil, models.ErrAccountExists
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccountByUserID retrieves the account of a user
func (r *accountRepo) GetAccountByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	var account models.Account
	err := sqlx.GetContext(ctx, r.q, &account,
		"SELECT * FROM accounts WHERE user_id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) lockAccount(ctx context.Context, userID int64) (*models.Account, error) {
	var account models.Account
	err := sqlx.GetContext(ctx, r.q, &account,
		"SELECT * FROM accounts WHERE user_id = $1 FOR UPDATE", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Deposit credits the account under a row lock
func (r *accountRepo) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Account, error) {
	account, err := r.lockAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	account.Balance = account.Balance.Add(amount)
	if _, err := r.q.ExecContext(ctx,
		"UPDATE accounts SET balance = $1 WHERE id = $2", account.Balance, account.ID); err != nil {
		return nil, err
	}

	return account, nil
}

// Withdraw debits the account under a row lock if the balance covers amount
func (r *accountRepo) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	account, err := r.lockAccount(ctx, userID)
	if errors.Is(err, models.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if account.Balance.LessThan(amount) {
		return false, nil
	}

	if _, err := r.q.ExecContext(ctx,
		"UPDATE accounts SET balance = $1 WHERE id = $2", account.Balance.Sub(amount), account.ID); err != nil {
		return false, err
	}

	return true, nil
}
