package memstore

import (
	"context"
	"errors"
	"testing"

	"ledger-saga/internal/models"
	"ledger-saga/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Orders().CreateOrder(ctx, &models.Order{
			UserID: 1, Amount: decimal.NewFromInt(10), Description: "a",
		}))
		msg, err := models.NewOutboxMessage(models.TopicOrderCreated, map[string]int{"order_id": 1})
		require.NoError(t, err)
		require.NoError(t, tx.Outbox().AddOutboxMessage(ctx, msg))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Unpublished())

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		list, err := tx.Orders().ListOrdersByUserID(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, list)
		return nil
	})
	require.NoError(t, err)
}

func TestCommitHookFailureDiscardsChanges(t *testing.T) {
	s := New()
	s.CommitHook = func() error { return errors.New("connection reset") }
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Inbox().AddInboxMessage(ctx, &models.InboxMessage{ID: uuid.New()})
		return err
	})
	require.Error(t, err)
	assert.Zero(t, s.InboxSize())
}

func TestOrderStatusOnlyLeavesNew(t *testing.T) {
	s := New()
	ctx := context.Background()

	order := &models.Order{UserID: 3, Amount: decimal.NewFromInt(5), Description: "pen"}
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Orders().CreateOrder(ctx, order))
		require.NoError(t, tx.Orders().UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled))
		require.NoError(t, tx.Orders().UpdateOrderStatus(ctx, order.ID, models.OrderStatusFinished))

		got, err := tx.Orders().GetOrderByID(ctx, order.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCancelled, got.Status)

		_, err = tx.Orders().GetOrderByID(ctx, order.ID, 4)
		assert.ErrorIs(t, err, models.ErrOrderNotFound)
		_, err = tx.Orders().LockOrder(ctx, 99)
		assert.ErrorIs(t, err, models.ErrOrderNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestAccounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Accounts().CreateAccount(ctx, 1)
		require.NoError(t, err)
		_, err = tx.Accounts().CreateAccount(ctx, 1)
		assert.ErrorIs(t, err, models.ErrAccountExists)

		account, err := tx.Accounts().Deposit(ctx, 1, decimal.RequireFromString("100.00"))
		require.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)))

		ok, err := tx.Accounts().Withdraw(ctx, 1, decimal.RequireFromString("150.00"))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.Accounts().Withdraw(ctx, 1, decimal.RequireFromString("60.00"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Accounts().Withdraw(ctx, 2, decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = tx.Accounts().Deposit(ctx, 2, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, models.ErrAccountNotFound)

		account, err = tx.Accounts().GetAccountByUserID(ctx, 1)
		require.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.NewFromInt(40)))
		return nil
	})
	require.NoError(t, err)
}

func TestOutboxClaimOrderAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	var ids []uuid.UUID
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 5; i++ {
			msg, err := models.NewOutboxMessage(models.TopicOrderCreated, map[string]int{"n": i})
			require.NoError(t, err)
			require.NoError(t, tx.Outbox().AddOutboxMessage(ctx, msg))
			ids = append(ids, msg.ID)
		}
		return nil
	})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		claimed, err := tx.Outbox().ClaimUnpublished(ctx, 3)
		require.NoError(t, err)
		require.Len(t, claimed, 3)
		for i, m := range claimed {
			assert.Equal(t, ids[i], m.ID)
			require.NoError(t, tx.Outbox().MarkPublished(ctx, m.ID))
		}
		return nil
	})
	require.NoError(t, err)

	rest := s.Unpublished()
	require.Len(t, rest, 2)
	assert.Equal(t, ids[3], rest[0].ID)
	assert.Equal(t, ids[4], rest[1].ID)
}

func TestInboxDedup(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := uuid.New()

	for i, want := range []bool{true, false, false} {
		err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			inserted, err := tx.Inbox().AddInboxMessage(ctx, &models.InboxMessage{ID: id, Topic: models.TopicOrderCreated})
			require.NoError(t, err)
			assert.Equal(t, want, inserted, "attempt %d", i)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.InboxSize())
}

func TestWithinTxCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New().WithinTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
